// Package extractor drives an extraction provider over certificate images
// and parses the returned raw records into certificates.
package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/provider"
	"github.com/wonny/coarank/backend/pkg/logger"
)

// Extractor turns one certificate image into a certificate.
type Extractor struct {
	provider provider.Provider
	logger   *logger.Logger
	now      func() time.Time
}

// New creates an extractor around p.
func New(p provider.Provider, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{
		provider: p,
		logger:   log.WithField("module", "extractor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Provider returns the underlying provider.
func (e *Extractor) Provider() provider.Provider {
	return e.provider
}

// Extract calls the provider and parses its answer. Provider errors are
// returned unchanged so callers can tell rate limits and auth failures
// apart; field-level problems come back as warnings on the result.
func (e *Extractor) Extract(ctx context.Context, img provider.Image, entry contracts.ListingEntry) (*Result, error) {
	raw, err := e.provider.Extract(ctx, img)
	if err != nil {
		return nil, err
	}

	res := Parse(raw, Meta{
		TaskNumber: entry.TaskNumber,
		ImageHash:  img.Hash,
		ImageURL:   entry.ImageURL,
		ScrapedAt:  e.now(),
	})

	log := e.logger.WithItem(res.Certificate.TaskNumber, img.Hash)
	for _, w := range res.Warnings {
		log.WithFields(map[string]interface{}{
			"field": w.Field,
			"value": w.Value,
		}).WithError(w.Err).Warn("Field left empty")
	}

	if res.Certificate.TaskNumber == "" {
		return res, &contracts.ParseError{Field: "task_number", Value: raw.TaskNumber.String(),
			Err: fmt.Errorf("%w: no task number in listing or extraction", ErrUnparseable)}
	}
	return res, nil
}

// EstimateCost returns the provider cost of extracting n images.
func (e *Extractor) EstimateCost(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) * e.provider.CostPerImage()
}
