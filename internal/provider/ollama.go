package provider

import (
	"context"

	"github.com/wonny/coarank/backend/internal/contracts"
)

// ollama calls a local Ollama server; no API key and no per-image cost.
type ollama struct {
	base
}

func newOllama(opts Options, v variant) Provider {
	return &ollama{base: newBase("ollama", opts, v)}
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
	Format string   `json:"format"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func (p *ollama) Extract(ctx context.Context, img Image) (*contracts.RawExtraction, error) {
	req := ollamaRequest{
		Model:  p.opts.Model,
		Prompt: ExtractionPrompt,
		Images: []string{img.Base64()},
		Stream: false,
		Format: "json",
	}

	var resp ollamaResponse
	if err := p.postJSON(ctx, p.opts.BaseURL+"/api/generate", req, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Response == "" {
		return nil, emptyResponse(p.name)
	}
	return p.decodeText(resp.Response, img)
}
