package provider

import (
	"context"

	"github.com/wonny/coarank/backend/internal/contracts"
)

// openAI speaks the chat completions wire format. OpenRouter uses the same
// format with extra attribution headers.
type openAI struct {
	base
	headers map[string]string
}

func newOpenAI(name string, extraHeaders map[string]string) func(Options, variant) Provider {
	return func(opts Options, v variant) Provider {
		headers := map[string]string{"Authorization": "Bearer " + opts.APIKey}
		for k, val := range extraHeaders {
			headers[k] = val
		}
		return &openAI{base: newBase(name, opts, v), headers: headers}
	}
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *openAI) Extract(ctx context.Context, img Image) (*contracts.RawExtraction, error) {
	req := chatRequest{
		Model: p.opts.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: ExtractionPrompt},
				{Type: "image_url", ImageURL: &chatImageURL{URL: img.DataURL()}},
			},
		}},
		MaxTokens:   2000,
		Temperature: 0,
	}

	var resp chatResponse
	if err := p.postJSON(ctx, p.opts.BaseURL+"/v1/chat/completions", req, p.headers, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, emptyResponse(p.name)
	}
	return p.decodeText(resp.Choices[0].Message.Content, img)
}
