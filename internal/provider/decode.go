package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/titanous/json5"

	"github.com/wonny/coarank/backend/internal/contracts"
)

var errNoObject = errors.New("no JSON object in response")

// cleanResponse strips markdown fences and a leading "json" tag, then cuts
// the text to its outermost object.
func cleanResponse(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "json"))

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errNoObject
	}
	return s[start : end+1], nil
}

// DecodeResponse parses model text into a raw extraction. Strict JSON is
// tried first; JSON5 covers trailing commas, comments and single quotes.
func DecodeResponse(provider, text string) (*contracts.RawExtraction, error) {
	body, err := cleanResponse(text)
	if err != nil {
		return nil, contracts.NewProviderError(provider, contracts.ProviderMalformedResponse, 0, err)
	}

	var raw contracts.RawExtraction
	if err := json.Unmarshal([]byte(body), &raw); err == nil {
		raw.Raw = json.RawMessage(body)
		return &raw, nil
	}

	var loose interface{}
	if err := json5.Unmarshal([]byte(body), &loose); err != nil {
		return nil, contracts.NewProviderError(provider, contracts.ProviderMalformedResponse, 0,
			fmt.Errorf("decode response: %w", err))
	}
	if _, ok := loose.(map[string]interface{}); !ok {
		return nil, contracts.NewProviderError(provider, contracts.ProviderMalformedResponse, 0, errNoObject)
	}

	strict, err := json.Marshal(loose)
	if err != nil {
		return nil, contracts.NewProviderError(provider, contracts.ProviderMalformedResponse, 0, err)
	}
	raw = contracts.RawExtraction{}
	if err := json.Unmarshal(strict, &raw); err != nil {
		return nil, contracts.NewProviderError(provider, contracts.ProviderMalformedResponse, 0,
			fmt.Errorf("decode response: %w", err))
	}
	raw.Raw = json.RawMessage(strict)
	return &raw, nil
}
