// Package janoshik scrapes the public certificate listing of the testing
// lab and downloads certificate images.
package janoshik

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/imagestore"
	"github.com/wonny/coarank/backend/pkg/config"
	"github.com/wonny/coarank/backend/pkg/httputil"
	"github.com/wonny/coarank/backend/pkg/logger"
)

const (
	// DefaultBaseURL is the public certificate listing.
	DefaultBaseURL = "https://janoshik.com/public/"

	maxListingBytes = 8 << 20
	maxImageBytes   = 25 << 20

	// A run stops paging after this many listing pages fail in a row.
	maxConsecutivePageFailures = 3
)

var (
	// ErrNotImage is returned when a downloaded body is not an image.
	ErrNotImage = errors.New("downloaded content is not an image")

	entrySelector    = ".certificate-card, .cert-item, article.certificate"
	fallbackSelector = `a[href*="/certificates/"], img[src*="/certificates/"]`
	nextSelector     = `a.next, a[rel="next"], .pagination .next`

	taskNumberPattern = regexp.MustCompile(`/certificates?/(\d+)`)
	numericPattern    = regexp.MustCompile(`^\d+$`)
)

// Client fetches listing pages and images from the lab site.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    *url.URL
	limiter    *rate.Limiter
}

// NewClient creates a scraper client. Requests are spaced by cfg.PageDelay.
func NewClient(httpClient *httputil.Client, cfg config.ScraperConfig, log *logger.Logger) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid scraper base URL: %w", err)
	}

	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}

	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("module", "janoshik"),
		baseURL:    base,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// PageURL returns the listing URL of page n (1-based).
func (c *Client) PageURL(n int) string {
	if n <= 1 {
		return c.baseURL.String()
	}
	u := *c.baseURL
	q := u.Query()
	q.Set("page", fmt.Sprintf("%d", n))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchListingPage downloads and parses listing page n.
func (c *Client) FetchListingPage(ctx context.Context, n int) (*contracts.ListingPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pageURL := c.PageURL(n)
	body, err := c.httpClient.GetBytes(ctx, pageURL, maxListingBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page %d: %w", n, err)
	}

	page, err := ParseListing(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing page %d: %w", n, err)
	}
	page.Number = n
	for i := range page.Entries {
		page.Entries[i].Page = n
	}

	c.logger.WithFields(map[string]interface{}{
		"page":     n,
		"entries":  len(page.Entries),
		"has_next": page.HasNext,
	}).Debug("Listing page parsed")

	return page, nil
}

// DownloadImage fetches a certificate image. Bodies that do not sniff as an
// image are rejected.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	data, err := c.httpClient.GetBytes(ctx, imageURL, maxImageBytes)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") && contentType != "application/pdf" {
		return nil, fmt.Errorf("%s (%s): %w", imageURL, contentType, ErrNotImage)
	}
	return data, nil
}

// HashImage returns the content hash used to deduplicate images.
func HashImage(data []byte) string {
	return imagestore.HashImage(data)
}

// PageFailure records a listing page that could not be fetched.
type PageFailure struct {
	Page int
	Err  error
}

// ScrapeResult is the outcome of walking the listing.
type ScrapeResult struct {
	Entries      []contracts.ListingEntry
	PagesFetched int
	PagesFailed  int
	Failures     []PageFailure
	Duration     time.Duration
}

// Scrape walks listing pages from page 1 until a page has no next link,
// a page is empty, or maxPages (0 = unlimited) is reached. A failed page is
// logged and skipped. onPage, when set, is called after every fetched page.
func (c *Client) Scrape(ctx context.Context, maxPages int, onPage func(page *contracts.ListingPage, total int)) (*ScrapeResult, error) {
	start := time.Now()
	result := &ScrapeResult{}
	seen := make(map[string]bool)
	consecutiveFailures := 0

	for n := 1; maxPages <= 0 || n <= maxPages; n++ {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		page, err := c.FetchListingPage(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				result.Duration = time.Since(start)
				return result, ctx.Err()
			}
			result.PagesFailed++
			result.Failures = append(result.Failures, PageFailure{Page: n, Err: err})
			c.logger.WithError(err).WithField("page", n).Warn("Listing page failed, skipping")

			consecutiveFailures++
			if consecutiveFailures >= maxConsecutivePageFailures {
				c.logger.WithField("page", n).Warn("Too many consecutive page failures, stopping")
				break
			}
			continue
		}
		consecutiveFailures = 0
		result.PagesFetched++

		if len(page.Entries) == 0 {
			break
		}
		for _, e := range page.Entries {
			if seen[e.ImageURL] {
				continue
			}
			seen[e.ImageURL] = true
			result.Entries = append(result.Entries, e)
		}
		if onPage != nil {
			onPage(page, len(result.Entries))
		}
		if !page.HasNext {
			break
		}
	}

	result.Duration = time.Since(start)
	c.logger.WithFields(map[string]interface{}{
		"pages_fetched": result.PagesFetched,
		"pages_failed":  result.PagesFailed,
		"entries":       len(result.Entries),
		"duration":      result.Duration,
	}).Info("Listing scrape completed")

	return result, nil
}
