package provider

import (
	"context"
	"strings"

	"github.com/wonny/coarank/backend/internal/contracts"
)

const anthropicVersion = "2023-06-01"

type anthropic struct {
	base
}

func newAnthropic(opts Options, v variant) Provider {
	return &anthropic{base: newBase("anthropic", opts, v)}
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *anthropic) Extract(ctx context.Context, img Image) (*contracts.RawExtraction, error) {
	req := anthropicRequest{
		Model:     p.opts.Model,
		MaxTokens: 2000,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicContent{
				{Type: "image", Source: &anthropicSource{Type: "base64", MediaType: img.MediaType, Data: img.Base64()}},
				{Type: "text", Text: ExtractionPrompt},
			},
		}},
	}
	headers := map[string]string{
		"x-api-key":         p.opts.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := p.postJSON(ctx, p.opts.BaseURL+"/v1/messages", req, headers, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, emptyResponse(p.name)
	}
	return p.decodeText(text.String(), img)
}
