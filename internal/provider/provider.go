// Package provider turns certificate images into structured extractions
// through vision-capable language model APIs.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/pkg/config"
	"github.com/wonny/coarank/backend/pkg/httputil"
	"github.com/wonny/coarank/backend/pkg/logger"
)

// Provider extracts one certificate image into the common raw shape.
type Provider interface {
	Name() string
	Model() string
	Extract(ctx context.Context, img Image) (*contracts.RawExtraction, error)
	CostPerImage() float64
	// SupportsBatch reports whether the provider tolerates concurrent
	// requests. Providers that do not are driven by a single worker.
	SupportsBatch() bool
}

// Image is a certificate image handed to a provider.
type Image struct {
	Data      []byte
	MediaType string
	Hash      string
}

// NewImage wraps raw bytes, sniffing the media type.
func NewImage(data []byte, hash string) Image {
	mediaType := http.DetectContentType(data)
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/png"
	}
	return Image{Data: data, MediaType: mediaType, Hash: hash}
}

// Base64 returns the standard base64 encoding of the image.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Base64()
}

// Options are the construction parameters shared by every variant.
type Options struct {
	APIKey       string
	Model        string
	BaseURL      string
	CostPerImage float64 // 0 keeps the variant default
	HTTP         *httputil.Client
	Logger       *logger.Logger
}

type variant struct {
	defaultModel   string
	defaultBaseURL string
	defaultCost    float64
	batch          bool
	needsKey       bool
	build          func(opts Options, v variant) Provider
}

var registry = map[string]variant{
	"openai": {
		defaultModel:   "gpt-4o",
		defaultBaseURL: "https://api.openai.com",
		defaultCost:    0.0125,
		batch:          true,
		needsKey:       true,
		build:          newOpenAI("openai", nil),
	},
	"openrouter": {
		defaultModel:   "openai/gpt-4o",
		defaultBaseURL: "https://openrouter.ai/api",
		defaultCost:    0.01,
		batch:          true,
		needsKey:       true,
		build: newOpenAI("openrouter", map[string]string{
			"HTTP-Referer": "https://github.com/wonny/coarank",
			"X-Title":      "coarank",
		}),
	},
	"anthropic": {
		defaultModel:   "claude-3-5-sonnet-20241022",
		defaultBaseURL: "https://api.anthropic.com",
		defaultCost:    0.015,
		batch:          true,
		needsKey:       true,
		build:          newAnthropic,
	},
	"gemini": {
		defaultModel:   "gemini-2.0-flash",
		defaultBaseURL: "https://generativelanguage.googleapis.com",
		defaultCost:    0,
		batch:          false,
		needsKey:       true,
		build:          newGemini,
	},
	"ollama": {
		defaultModel:   "llama3.2-vision",
		defaultBaseURL: "http://localhost:11434",
		defaultCost:    0,
		batch:          true,
		needsKey:       false,
		build:          newOllama,
	},
}

// Names lists the registered provider variants.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named variant.
func Build(name string, opts Options) (Provider, error) {
	v, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	if v.needsKey && opts.APIKey == "" {
		return nil, fmt.Errorf("provider %s requires an API key", name)
	}
	if opts.HTTP == nil {
		return nil, fmt.Errorf("provider %s requires an HTTP client", name)
	}
	if opts.Model == "" {
		opts.Model = v.defaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = v.defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.CostPerImage <= 0 {
		opts.CostPerImage = v.defaultCost
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	opts.Logger = opts.Logger.WithFields(map[string]interface{}{
		"module":   "provider",
		"provider": name,
	})
	return v.build(opts, v), nil
}

// New builds the provider selected by configuration.
func New(cfg config.ProviderConfig, hc *httputil.Client, log *logger.Logger) (Provider, error) {
	return Build(cfg.Name, Options{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		BaseURL:      cfg.BaseURL,
		CostPerImage: cfg.CostPerImage,
		HTTP:         hc,
		Logger:       log,
	})
}

// CostInfo is the default price of one variant.
type CostInfo struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	CostPerImage  float64 `json:"cost_per_image"`
	SupportsBatch bool    `json:"supports_batch"`
}

// KnownCosts lists the default cost per image of every variant, cheapest
// first.
func KnownCosts() []CostInfo {
	out := make([]CostInfo, 0, len(registry))
	for name, v := range registry {
		out = append(out, CostInfo{
			Provider:      name,
			Model:         v.defaultModel,
			CostPerImage:  v.defaultCost,
			SupportsBatch: v.batch,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostPerImage != out[j].CostPerImage {
			return out[i].CostPerImage < out[j].CostPerImage
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

// base carries what every variant shares.
type base struct {
	name   string
	opts   Options
	batch  bool
	logger *logger.Logger
}

func newBase(name string, opts Options, v variant) base {
	return base{name: name, opts: opts, batch: v.batch, logger: opts.Logger}
}

func (b base) Name() string          { return b.name }
func (b base) Model() string         { return b.opts.Model }
func (b base) CostPerImage() float64 { return b.opts.CostPerImage }
func (b base) SupportsBatch() bool   { return b.batch }
