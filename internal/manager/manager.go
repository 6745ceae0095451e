// Package manager drives full update runs and answers the read queries
// used by the API and CLI.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/external/janoshik"
	"github.com/wonny/coarank/backend/internal/extractor"
	"github.com/wonny/coarank/backend/internal/imagestore"
	"github.com/wonny/coarank/backend/internal/scoring"
	"github.com/wonny/coarank/backend/pkg/logger"
	"github.com/wonny/coarank/backend/pkg/redis"
)

// ErrRunInProgress is returned when a full update is started while another
// one is still running.
var ErrRunInProgress = errors.New("a full update is already running")

// Scraper lists certificates and downloads their images.
type Scraper interface {
	Scrape(ctx context.Context, maxPages int, onPage func(page *contracts.ListingPage, total int)) (*janoshik.ScrapeResult, error)
	DownloadImage(ctx context.Context, imageURL string) ([]byte, error)
}

// CertificateStore is what the manager needs from the certificate
// repository.
type CertificateStore interface {
	contracts.CertificateRepository
	UniquePeptides(ctx context.Context) ([]string, error)
	GetBlendsByProtocol(ctx context.Context, protocol string) ([]*contracts.Certificate, error)
	GetBlendsContaining(ctx context.Context, peptide string) ([]*contracts.Certificate, error)
	GetReplicatesAboveCV(ctx context.Context, cv float64) ([]*contracts.Certificate, error)
	Renormalize(ctx context.Context, supplier, peptide func(string) string) (int, error)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Scraper   Scraper
	Images    *imagestore.ContentStore
	Extractor *extractor.Extractor
	Certs     CertificateStore
	Rankings  contracts.RankingRepository
	Scorer    *scoring.Scorer
	Cache     *redis.Cache
	Metrics   *Metrics
	Logger    *logger.Logger
}

// Options tune a Manager.
type Options struct {
	// Concurrency bounds parallel extractions. Providers without batch
	// support always run one at a time.
	Concurrency int
	// KeepLast is the number of ranking snapshots kept after each run.
	KeepLast int
}

// Manager orchestrates scrape, extraction, persistence and scoring.
type Manager struct {
	scraper   Scraper
	images    *imagestore.ContentStore
	extractor *extractor.Extractor
	certs     CertificateStore
	rankings  contracts.RankingRepository
	scorer    *scoring.Scorer
	cache     *redis.Cache
	metrics   *Metrics
	logger    *logger.Logger

	concurrency int
	keepLast    int

	maxRateLimitRetries int
	rateLimitBackoff    time.Duration

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	running bool
	lastRun *RunSummary
}

// New validates deps and builds a Manager.
func New(deps Deps, opts Options) (*Manager, error) {
	switch {
	case deps.Scraper == nil:
		return nil, fmt.Errorf("manager: scraper is required")
	case deps.Images == nil:
		return nil, fmt.Errorf("manager: image store is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("manager: extractor is required")
	case deps.Certs == nil:
		return nil, fmt.Errorf("manager: certificate repository is required")
	case deps.Rankings == nil:
		return nil, fmt.Errorf("manager: ranking repository is required")
	case deps.Scorer == nil:
		return nil, fmt.Errorf("manager: scorer is required")
	}
	if opts.KeepLast < 1 {
		return nil, fmt.Errorf("manager: keep-last must be at least 1, got %d", opts.KeepLast)
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	cache := deps.Cache
	if cache == nil {
		cache = redis.NewCache(redis.Disabled(), "coarank")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	concurrency := opts.Concurrency
	if concurrency < 1 || !deps.Extractor.Provider().SupportsBatch() {
		concurrency = 1
	}

	return &Manager{
		scraper:             deps.Scraper,
		images:              deps.Images,
		extractor:           deps.Extractor,
		certs:               deps.Certs,
		rankings:            deps.Rankings,
		scorer:              deps.Scorer,
		cache:               cache,
		metrics:             metrics,
		logger:              log.WithField("module", "manager"),
		concurrency:         concurrency,
		keepLast:            opts.KeepLast,
		maxRateLimitRetries: 3,
		rateLimitBackoff:    5 * time.Second,
		now:                 func() time.Time { return time.Now().UTC() },
		newID:               uuid.NewString,
	}, nil
}

// Concurrency returns the effective extraction concurrency.
func (m *Manager) Concurrency() int { return m.concurrency }

// Running reports whether a full update is in progress.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastRun returns the summary of the most recent finished run, or nil.
func (m *Manager) LastRun() *RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

func (m *Manager) tryStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *Manager) finish(sum *RunSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if sum != nil {
		m.lastRun = sum
	}
}
