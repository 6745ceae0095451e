package manager

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/wonny/coarank/backend/internal/certificate"
	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/external/janoshik"
	"github.com/wonny/coarank/backend/internal/extractor"
	"github.com/wonny/coarank/backend/internal/imagestore"
	"github.com/wonny/coarank/backend/internal/provider"
	"github.com/wonny/coarank/backend/internal/ranking"
	"github.com/wonny/coarank/backend/internal/scoring"
	"github.com/wonny/coarank/backend/pkg/database"
)

// fakeScraper serves a fixed listing and in-memory images.
type fakeScraper struct {
	mu      sync.Mutex
	entries []contracts.ListingEntry
	images  map[string][]byte
	failing map[string]error
}

func (f *fakeScraper) add(task string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "https://lab.test/img/" + task + ".png"
	f.entries = append(f.entries, contracts.ListingEntry{TaskNumber: task, ImageURL: url, Page: 1})
	f.images[url] = []byte("\x89PNG\r\n\x1a\n" + task)
}

func (f *fakeScraper) Scrape(ctx context.Context, _ int, onPage func(*contracts.ListingPage, int)) (*janoshik.ScrapeResult, error) {
	if err := ctx.Err(); err != nil {
		return &janoshik.ScrapeResult{}, err
	}
	f.mu.Lock()
	entries := append([]contracts.ListingEntry(nil), f.entries...)
	f.mu.Unlock()

	if onPage != nil {
		onPage(&contracts.ListingPage{Number: 1, Entries: entries}, len(entries))
	}
	return &janoshik.ScrapeResult{Entries: entries, PagesFetched: 1}, nil
}

func (f *fakeScraper) DownloadImage(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[url]; err != nil {
		return nil, err
	}
	data, ok := f.images[url]
	if !ok {
		return nil, &contracts.NetworkError{Op: "download", URL: url, StatusCode: 404, Err: errors.New("not found")}
	}
	return data, nil
}

// fakeProvider answers per image hash.
type fakeProvider struct {
	mu        sync.Mutex
	batch     bool
	docs      map[string]string // task number -> raw JSON
	errs      map[string][]error
	calls     int
	callsTask map[string]int
}

func newFakeProvider(batch bool) *fakeProvider {
	return &fakeProvider{batch: batch, docs: map[string]string{}, errs: map[string][]error{}, callsTask: map[string]int{}}
}

func (p *fakeProvider) Name() string          { return "fake" }
func (p *fakeProvider) Model() string         { return "fake-vision" }
func (p *fakeProvider) CostPerImage() float64 { return 0.01 }
func (p *fakeProvider) SupportsBatch() bool   { return p.batch }

func (p *fakeProvider) Extract(_ context.Context, img provider.Image) (*contracts.RawExtraction, error) {
	task := string(bytes.TrimPrefix(img.Data, []byte("\x89PNG\r\n\x1a\n")))

	p.mu.Lock()
	p.calls++
	p.callsTask[task]++
	var err error
	if queue := p.errs[task]; len(queue) > 0 {
		err, p.errs[task] = queue[0], queue[1:]
	}
	doc := p.docs[task]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	var raw contracts.RawExtraction
	if jerr := json.Unmarshal([]byte(doc), &raw); jerr != nil {
		return nil, contracts.NewProviderError("fake", contracts.ProviderMalformedResponse, 200, jerr)
	}
	raw.Raw = json.RawMessage(doc)
	return &raw, nil
}

func (p *fakeProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	mgr      *Manager
	scraper  *fakeScraper
	provider *fakeProvider
	images   *imagestore.ContentStore
	certs    *certificate.Repository
	rankings *ranking.Repository
	registry *prometheus.Registry
}

var refNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, batch bool) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "coarank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	certs := certificate.NewRepository(db)
	require.NoError(t, certs.Migrate(ctx))
	rankings := ranking.NewRepository(db)
	require.NoError(t, rankings.Migrate(ctx))

	scorer, err := scoring.NewScorer(scoring.DefaultWeights(), nil)
	require.NoError(t, err)

	f := &fixture{
		scraper:  &fakeScraper{images: map[string][]byte{}, failing: map[string]error{}},
		provider: newFakeProvider(batch),
		images:   imagestore.NewContentStore(imagestore.NewMemoryStore()),
		certs:    certs,
		rankings: rankings,
		registry: prometheus.NewRegistry(),
	}

	f.mgr, err = New(Deps{
		Scraper:   f.scraper,
		Images:    f.images,
		Extractor: extractor.New(f.provider, nil),
		Certs:     certs,
		Rankings:  rankings,
		Scorer:    scorer,
		Metrics:   NewMetrics(f.registry),
	}, Options{Concurrency: 4, KeepLast: 3})
	require.NoError(t, err)
	f.mgr.now = func() time.Time { return refNow }
	f.mgr.rateLimitBackoff = time.Millisecond
	return f
}

// listing registers a certificate in the listing and its extraction.
func (f *fixture) listing(task, supplier, sample string, purity float64, daysAgo int) {
	f.scraper.add(task)
	date := refNow.AddDate(0, 0, -daysAgo).Format("02 Jan 2006")
	f.provider.docs[task] = fmt.Sprintf(`{
		"task_number": %q,
		"analysis_conducted": %q,
		"client": %q,
		"sample": %q,
		"results": {"Purity": "%.2f%%"}
	}`, task, date, supplier, sample, purity)
}

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressLog) record(ev Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *progressLog) stages() map[Stage]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := map[Stage]bool{}
	for _, ev := range p.events {
		seen[ev.Stage] = true
	}
	return seen
}

func (p *progressLog) last() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{}, Options{KeepLast: 1})
	assert.Error(t, err)

	f := newFixture(t, false)
	assert.Equal(t, 1, f.mgr.Concurrency(), "providers without batch support run one at a time")
}

func TestRunFullUpdate_EndToEnd(t *testing.T) {
	f := newFixture(t, true)
	f.listing("1001", "www.mandybio.com", "BPC-157 10mg", 99.6, 3)
	f.listing("1002", "Mandy Bio", "TB-500 5mg", 99.4, 10)
	f.listing("1003", "Acme Peptides", "BPC157 10mg", 97.2, 40)

	progress := &progressLog{}
	sum, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{Progress: progress.record})
	require.NoError(t, err)

	assert.Equal(t, StageComplete, sum.Stage)
	assert.Equal(t, 3, sum.Scraped)
	assert.Equal(t, 3, sum.New)
	assert.Equal(t, 3, sum.Extracted)
	assert.Equal(t, 3, sum.Inserted)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 2, sum.Scored)
	assert.Equal(t, "Mandy Bio", sum.TopSupplier)
	assert.NotEmpty(t, sum.SnapshotID)
	assert.InDelta(t, 0.03, sum.EstimatedCost, 1e-9)

	stages := progress.stages()
	for _, s := range []Stage{StageScraping, StageExtraction, StageStorage, StageScoring, StageComplete} {
		assert.True(t, stages[s], "missing stage %s", s)
	}
	assert.Equal(t, StageComplete, progress.last().Stage)
	assert.Equal(t, sum.RunID, progress.last().RunID)

	c, err := f.certs.GetByTaskNumber(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "Mandy Bio", c.SupplierName)
	assert.Equal(t, imagestore.KeyFor(c.ImageHash), c.ImageKey)

	ok, err := f.images.HasImage(context.Background(), c.ImageHash)
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := f.mgr.GetLatestRankings(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Mandy Bio", rows[0].SupplierName)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.mgr.metrics.Certificates.WithLabelValues("inserted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.mgr.metrics.ProviderRequests.WithLabelValues("fake", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.mgr.metrics.RankedSuppliers))
	assert.Same(t, sum, f.mgr.LastRun())
	assert.False(t, f.mgr.Running())
}

func TestRunFullUpdate_IdempotentRerun(t *testing.T) {
	f := newFixture(t, true)
	f.listing("2001", "Mandy Bio", "BPC-157 10mg", 99.6, 3)
	f.listing("2002", "Acme Peptides", "TB500 5mg", 98.1, 8)

	ctx := context.Background()
	_, err := f.mgr.RunFullUpdate(ctx, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, f.provider.totalCalls())

	sum, err := f.mgr.RunFullUpdate(ctx, UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, f.provider.totalCalls(), "stored images never reach the provider again")
	assert.Equal(t, 2, sum.SkippedDuplicate)
	assert.Zero(t, sum.New)
	assert.Zero(t, sum.Inserted)

	n, err := f.certs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snaps, err := f.rankings.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snaps)
}

func TestRunFullUpdate_AuthFailureHaltsQueue(t *testing.T) {
	f := newFixture(t, false)
	f.listing("3001", "Mandy Bio", "BPC-157 10mg", 99.6, 3)
	f.listing("3002", "Mandy Bio", "BPC-157 10mg", 99.1, 4)
	f.listing("3003", "Acme Peptides", "TB500 5mg", 98.1, 8)
	f.provider.errs["3001"] = []error{contracts.NewProviderError("fake", contracts.ProviderAuthFailure, 401, errors.New("invalid key"))}

	sum, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrAuthFailure)

	assert.Equal(t, 1, f.provider.totalCalls())
	assert.True(t, sum.Halted)
	assert.NotEmpty(t, sum.HaltReason)
	assert.Equal(t, StageComplete, sum.Stage)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "3001", sum.Failures[0].TaskNumber)
	assert.Equal(t, "auth_failure", sum.Failures[0].Kind)
	assert.NotEmpty(t, sum.Failures[0].ImageHash)
	assert.NotEmpty(t, sum.SnapshotID, "scoring still runs over what is stored")
}

func TestRunFullUpdate_RateLimitRetried(t *testing.T) {
	f := newFixture(t, true)
	f.listing("4001", "Mandy Bio", "BPC-157 10mg", 99.6, 3)
	limited := contracts.NewProviderError("fake", contracts.ProviderRateLimited, 429, errors.New("slow down"))
	f.provider.errs["4001"] = []error{limited, limited}

	sum, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, f.provider.totalCalls())
	assert.Equal(t, 1, sum.Inserted)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.mgr.metrics.ProviderRequests.WithLabelValues("fake", "rate_limited")))
}

func TestRunFullUpdate_RateLimitGivesUp(t *testing.T) {
	f := newFixture(t, true)
	f.listing("4101", "Mandy Bio", "BPC-157 10mg", 99.6, 3)
	limited := contracts.NewProviderError("fake", contracts.ProviderRateLimited, 429, errors.New("slow down"))
	f.provider.errs["4101"] = []error{limited, limited, limited, limited, limited}

	sum, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, f.mgr.maxRateLimitRetries+1, f.provider.totalCalls())
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, "rate_limited", sum.Failures[0].Kind)
	assert.False(t, sum.Halted)
}

func TestRunFullUpdate_ItemFailuresIsolated(t *testing.T) {
	f := newFixture(t, true)
	f.listing("5001", "Mandy Bio", "BPC-157 10mg", 99.6, 3)
	f.listing("5002", "Mandy Bio", "BPC-157 10mg", 99.2, 5)
	f.listing("5003", "Acme Peptides", "TB500 5mg", 98.1, 8)
	f.provider.docs["5002"] = `{"task_number": "5002", "client": ` // truncated answer
	f.scraper.failing["https://lab.test/img/5003.png"] = &contracts.NetworkError{Op: "download", StatusCode: 503, Err: errors.New("unavailable")}

	sum, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.Scored)

	kinds := map[string]ItemFailure{}
	for _, fail := range sum.Failures {
		kinds[fail.TaskNumber] = fail
	}
	assert.Equal(t, "malformed_response", kinds["5002"].Kind)
	assert.Equal(t, StageExtraction, kinds["5002"].Stage)
	assert.NotEmpty(t, kinds["5002"].ImageHash)
	assert.Equal(t, "network", kinds["5003"].Kind)
	assert.Equal(t, StageScraping, kinds["5003"].Stage)
}

func TestRunFullUpdate_MaxCertificates(t *testing.T) {
	f := newFixture(t, true)
	for i := 0; i < 5; i++ {
		f.listing(fmt.Sprintf("600%d", i), "Mandy Bio", "BPC-157 10mg", 99.5, i+1)
	}

	sum, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{MaxCertificates: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, f.provider.totalCalls())
	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, 3, sum.SkippedQuota)
	assert.Equal(t, 5, sum.New)
}

func TestRunFullUpdate_SameImageUnderSeveralTasks(t *testing.T) {
	f := newFixture(t, true)
	f.listing("7000", "Mandy Bio", "BPC-157 10mg", 99.5, 2)
	original := f.scraper.images["https://lab.test/img/7000.png"]
	for i := 1; i <= 5; i++ {
		task := fmt.Sprintf("700%d", i)
		url := "https://lab.test/img/" + task + ".png"
		f.scraper.entries = append(f.scraper.entries, contracts.ListingEntry{TaskNumber: task, ImageURL: url, Page: 1})
		f.scraper.images[url] = original
	}

	sum, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{MaxCertificates: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, f.provider.totalCalls())
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 5, sum.SkippedDuplicate)
	assert.Zero(t, sum.SkippedQuota)
	assert.Zero(t, sum.Failed)

	n, err := f.certs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunFullUpdate_Cancelled(t *testing.T) {
	f := newFixture(t, true)
	f.listing("7001", "Mandy Bio", "BPC-157 10mg", 99.6, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	progress := &progressLog{}
	sum, err := f.mgr.RunFullUpdate(ctx, UpdateOptions{Progress: progress.record})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, StageCancelled, sum.Stage)
	assert.Equal(t, StageCancelled, progress.last().Stage)
	assert.Zero(t, f.provider.totalCalls())
}

func TestRunFullUpdate_SingleFlight(t *testing.T) {
	f := newFixture(t, true)
	require.True(t, f.mgr.tryStart())

	_, err := f.mgr.RunFullUpdate(context.Background(), UpdateOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.True(t, f.mgr.Running())

	f.mgr.finish(nil)
	assert.False(t, f.mgr.Running())
}

func TestQueries(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.listing("8001", "Mandy Bio", "BPC-157 10mg", 99.6, 3)
	f.listing("8002", "Mandy Bio", "TB500 5mg", 99.4, 12)
	f.listing("8003", "Acme Peptides", "BPC-157 10mg", 97.0, 20)

	_, err := f.mgr.RunFullUpdate(ctx, UpdateOptions{})
	require.NoError(t, err)

	certs, err := f.mgr.GetSupplierCertificates(ctx, "Mandy Bio")
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, "8001", certs[0].TaskNumber)

	_, err = f.mgr.RecalculateRankings(ctx)
	require.NoError(t, err)

	trend, err := f.mgr.GetSupplierTrend(ctx, "Mandy Bio")
	require.NoError(t, err)
	assert.Len(t, trend, 2)

	history, err := f.mgr.GetSupplierHistory(ctx, "Acme Peptides", 5)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	best, err := f.mgr.BestSupplierForPeptide(ctx, "BPC157", nil)
	require.NoError(t, err)
	require.Len(t, best, 2)
	assert.Equal(t, "Mandy Bio", best[0].SupplierName)
	assert.Equal(t, 1, best[0].TotalCertificates)

	_, err = f.mgr.BestSupplierForPeptide(ctx, "Semaglutide", nil)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	stats, err := f.mgr.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCertificates)
	assert.Equal(t, 2, stats.Suppliers)
	assert.Equal(t, 2, stats.Peptides)
	assert.Equal(t, 2, stats.Snapshots)
	assert.Equal(t, "Mandy Bio", stats.TopSupplier)
	assert.Equal(t, "fake", stats.Provider)
	require.NotNil(t, stats.LastComputedAt)

	f.listing("8004", "Acme Peptides", "TB500 5mg", 98.0, 1)
	pending, err := f.mgr.CountPending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, pending.Listed)
	assert.Equal(t, 1, pending.Pending)
	assert.InDelta(t, 0.01, pending.Cost, 1e-9)
	assert.InDelta(t, 0.5, f.mgr.EstimateCost(50), 1e-9)

	deleted, err := f.mgr.CleanupOldRankings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = f.mgr.CleanupOldRankings(ctx, 0)
	assert.Error(t, err)
}

func TestExportRankings(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	dir := t.TempDir()

	err := f.mgr.ExportRankingsToCSV(ctx, filepath.Join(dir, "empty.csv"))
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	f.listing("9001", "Mandy Bio", "BPC-157 10mg", 99.6, 3)
	f.listing("9002", "Acme Peptides", "TB500 5mg", 97.5, 30)
	_, err = f.mgr.RunFullUpdate(ctx, UpdateOptions{})
	require.NoError(t, err)

	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(dir, "rankings.csv")
		require.NoError(t, f.mgr.ExportRankingsToCSV(ctx, path))

		file, err := os.Open(path)
		require.NoError(t, err)
		defer file.Close()

		records, err := csv.NewReader(file).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "Rank", records[0][0])
		assert.Equal(t, len(exportColumns), len(records[0]))
		assert.Equal(t, "1", records[1][0])
		assert.Equal(t, "Mandy Bio", records[1][1])
	})

	t.Run("xlsx", func(t *testing.T) {
		path := filepath.Join(dir, "rankings.xlsx")
		require.NoError(t, f.mgr.ExportRankingsToXLSX(ctx, path))

		wb, err := excelize.OpenFile(path)
		require.NoError(t, err)
		defer wb.Close()

		assert.Equal(t, []string{rankingSheet}, wb.GetSheetList())
		rows, err := wb.GetRows(rankingSheet)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "Supplier", rows[0][1])
		assert.Equal(t, "Acme Peptides", rows[2][1])
	})

	t.Run("xlsx writer", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.mgr.WriteRankingsXLSX(ctx, &buf))

		wb, err := excelize.OpenReader(&buf)
		require.NoError(t, err)
		defer wb.Close()
		rows, err := wb.GetRows(rankingSheet)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})
}

func TestCatalogQueries(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	date := refNow.AddDate(0, 0, -2).Format("02 Jan 2006")

	f.listing("9001", "Mandy Bio", "BPC-157 10mg", 99.2, 4)
	f.scraper.add("9002")
	f.provider.docs["9002"] = fmt.Sprintf(`{
		"task_number": "9002",
		"analysis_conducted": %q,
		"client": "Mandy Bio",
		"sample": "GLOW 70mg",
		"results": {"Purity": "98.9%%"}
	}`, date)
	f.scraper.add("9003")
	f.provider.docs["9003"] = fmt.Sprintf(`{
		"task_number": "9003",
		"analysis_conducted": %q,
		"client": "Acme Peptides",
		"sample": "TB500 5mg",
		"results": {"Purity 1": "99.5%%", "Purity 2": "90.0%%"}
	}`, date)

	_, err := f.mgr.RunFullUpdate(ctx, UpdateOptions{})
	require.NoError(t, err)

	glow, err := f.mgr.GetBlends(ctx, "GLOW", "")
	require.NoError(t, err)
	require.Len(t, glow, 1)
	assert.Equal(t, "9002", glow[0].TaskNumber)

	withBPC, err := f.mgr.GetBlends(ctx, "", "BPC-157")
	require.NoError(t, err)
	require.Len(t, withBPC, 1)
	assert.True(t, withBPC[0].IsBlend)

	_, err = f.mgr.GetBlends(ctx, "", "")
	assert.Error(t, err)

	noisy, err := f.mgr.GetVariableReplicates(ctx, 5)
	require.NoError(t, err)
	require.Len(t, noisy, 1)
	assert.Equal(t, "9003", noisy[0].TaskNumber)

	_, err = f.mgr.GetVariableReplicates(ctx, -1)
	assert.Error(t, err)

	changed, snap, err := f.mgr.RenormalizeNames(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Nil(t, snap)
}
