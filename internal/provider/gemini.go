package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/wonny/coarank/backend/internal/contracts"
)

type gemini struct {
	base
}

func newGemini(opts Options, v variant) Provider {
	return &gemini{base: newBase("gemini", opts, v)}
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *gemini) Extract(ctx context.Context, img Image) (*contracts.RawExtraction, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: ExtractionPrompt},
				{InlineData: &geminiInlineData{MimeType: img.MediaType, Data: img.Base64()}},
			},
		}},
	}
	req.GenerationConfig.ResponseMimeType = "application/json"

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.opts.BaseURL, url.PathEscape(p.opts.Model), url.QueryEscape(p.opts.APIKey))

	var resp geminiResponse
	if err := p.postJSON(ctx, endpoint, req, nil, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		return nil, emptyResponse(p.name)
	}
	return p.decodeText(text.String(), img)
}
