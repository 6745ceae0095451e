package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wonny/coarank/backend/internal/contracts"
)

const maxResponseBytes = 4 << 20

// classifyStatus maps an HTTP status to the provider error taxonomy.
func classifyStatus(provider string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return contracts.NewProviderError(provider, contracts.ProviderAuthFailure, status, fmt.Errorf("%s", snippet(body)))
	case status == http.StatusTooManyRequests:
		return contracts.NewProviderError(provider, contracts.ProviderRateLimited, status, fmt.Errorf("%s", snippet(body)))
	case status >= 500:
		return &contracts.NetworkError{Op: "extract", URL: provider, StatusCode: status, Err: fmt.Errorf("%s", snippet(body))}
	default:
		return contracts.NewProviderError(provider, contracts.ProviderMalformedResponse, status, fmt.Errorf("%s", snippet(body)))
	}
}

func snippet(body []byte) string {
	const max = 300
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// postJSON sends payload and decodes a successful response into out.
func (b base) postJSON(ctx context.Context, url string, payload interface{}, headers map[string]string, out interface{}) error {
	resp, err := b.opts.HTTP.PostJSON(ctx, url, payload, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &contracts.NetworkError{Op: "extract", URL: b.name, Err: err}
	}
	if err := classifyStatus(b.name, resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return contracts.NewProviderError(b.name, contracts.ProviderMalformedResponse, resp.StatusCode,
			fmt.Errorf("decode envelope: %w", err))
	}
	return nil
}

// decodeText turns model text into an extraction, logging malformed output.
func (b base) decodeText(text string, img Image) (*contracts.RawExtraction, error) {
	raw, err := DecodeResponse(b.name, text)
	if err != nil {
		b.logger.WithFields(map[string]interface{}{
			"image_hash": img.Hash,
			"response":   snippet([]byte(text)),
		}).Warn("Malformed extraction response")
		return nil, err
	}
	return raw, nil
}

func emptyResponse(provider string) error {
	return contracts.NewProviderError(provider, contracts.ProviderMalformedResponse, 0, fmt.Errorf("empty response"))
}
