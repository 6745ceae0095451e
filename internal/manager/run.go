package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/extractor"
	"github.com/wonny/coarank/backend/internal/imagestore"
	"github.com/wonny/coarank/backend/internal/provider"
	"github.com/wonny/coarank/backend/pkg/logger"
)

type skipReason string

const (
	skipNone      skipReason = ""
	skipDuplicate skipReason = "duplicate_image"
	skipQuota     skipReason = "quota"
	skipHalted    skipReason = "halted"
	skipCancelled skipReason = "cancelled"
)

// itemResult is what an extraction worker hands to the collector.
type itemResult struct {
	entry  contracts.ListingEntry
	hash   string
	result *extractor.Result
	skip   skipReason
	stage  Stage
	err    error
}

// quota caps provider calls per run. max <= 0 means unlimited. It also
// holds the image hashes already taken by a worker in this run.
type quota struct {
	max     int64
	used    atomic.Int64
	claimed sync.Map
}

// claimImage reserves hash for the calling worker. It reports false when
// another entry of the same run already holds it.
func (q *quota) claimImage(hash string) bool {
	_, loaded := q.claimed.LoadOrStore(hash, struct{}{})
	return !loaded
}

func (q *quota) claim() bool {
	if q.max <= 0 {
		return true
	}
	return q.used.Add(1) <= q.max
}

// halter stops the extraction queue after an authentication failure.
type halter struct {
	once    sync.Once
	cancel  context.CancelFunc
	stopped atomic.Bool
	err     error
}

func (h *halter) halt(err error) {
	h.once.Do(func() {
		h.err = err
		h.stopped.Store(true)
		h.cancel()
	})
}

func (h *halter) halted() bool {
	return h.stopped.Load()
}

// RunFullUpdate scrapes the listing, extracts every image not seen
// before, persists the certificates and recomputes the ranking snapshot.
// Re-running after an interruption only processes images whose hash is
// not stored yet. Certificates persisted before a cancellation are kept.
func (m *Manager) RunFullUpdate(ctx context.Context, opts UpdateOptions) (*RunSummary, error) {
	if !m.tryStart() {
		return nil, ErrRunInProgress
	}

	sum := &RunSummary{RunID: m.newID(), StartedAt: m.now()}
	log := m.logger.WithField("run_id", sum.RunID)
	report := m.reporter(sum.RunID, opts.Progress)

	err := m.runFullUpdate(ctx, opts, sum, report, log)

	sum.FinishedAt = m.now()
	sum.Duration = sum.FinishedAt.Sub(sum.StartedAt)
	switch {
	case sum.Cancelled:
		sum.Stage = StageCancelled
		report(StageCancelled, "Run cancelled", sum.Extracted, sum.New)
	case err != nil && !sum.Halted:
		sum.Stage = StageError
		sum.Error = err.Error()
		report(StageError, err.Error(), 0, 0)
	default:
		sum.Stage = StageComplete
		msg := fmt.Sprintf("Ranked %d suppliers", sum.Scored)
		if sum.Halted {
			msg += "; extraction halted: " + sum.HaltReason
		}
		report(StageComplete, msg, sum.Scored, sum.Scored)
	}

	m.metrics.RunsTotal.WithLabelValues(string(sum.Stage)).Inc()
	m.metrics.RunSeconds.Observe(sum.Duration.Seconds())
	m.metrics.LastRunTimestamp.Set(float64(sum.FinishedAt.Unix()))

	log.WithFields(map[string]interface{}{
		"stage":             sum.Stage,
		"scraped":           sum.Scraped,
		"new":               sum.New,
		"extracted":         sum.Extracted,
		"inserted":          sum.Inserted,
		"skipped_duplicate": sum.SkippedDuplicate,
		"failed":            sum.Failed,
		"scored":            sum.Scored,
		"duration":          sum.Duration,
	}).Info("Full update finished")

	m.finish(sum)
	return sum, err
}

func (m *Manager) runFullUpdate(ctx context.Context, opts UpdateOptions, sum *RunSummary, report reportFunc, log *logger.Logger) error {
	// 1. Scrape
	report(StageScraping, "Fetching certificate listing", 0, opts.MaxPages)
	scraped, err := m.scraper.Scrape(ctx, opts.MaxPages, func(page *contracts.ListingPage, total int) {
		report(StageScraping, fmt.Sprintf("Listing page %d: %d certificates so far", page.Number, total), page.Number, opts.MaxPages)
	})
	if scraped != nil {
		sum.PagesFetched = scraped.PagesFetched
		sum.PagesFailed = scraped.PagesFailed
		sum.Scraped = len(scraped.Entries)
		for _, f := range scraped.Failures {
			sum.Failures = append(sum.Failures, ItemFailure{
				Stage:  StageScraping,
				Page:   f.Page,
				Kind:   contracts.ErrorKind(f.Err),
				Reason: f.Err.Error(),
			})
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			sum.Cancelled = true
		}
		return fmt.Errorf("scrape listing: %w", err)
	}

	// 2. Extract and store
	haltErr := m.extractAll(ctx, scraped.Entries, opts, sum, report, log)
	sum.EstimatedCost = m.extractor.EstimateCost(sum.New - sum.SkippedQuota)
	if ctx.Err() != nil {
		sum.Cancelled = true
		return ctx.Err()
	}

	// 3. Score
	report(StageScoring, "Computing supplier rankings", 0, 0)
	snap, pruned, err := m.recalculate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			sum.Cancelled = true
		}
		return err
	}
	sum.Scored = len(snap.Rankings)
	sum.SnapshotID = snap.ID
	sum.Pruned = pruned
	if top := snap.Top(); top != nil {
		sum.TopSupplier = top.SupplierName
	}

	if haltErr != nil {
		return fmt.Errorf("extraction halted: %w", haltErr)
	}
	return nil
}

// extractAll runs the worker pool over entries and persists each result
// as it arrives. It returns the error that halted the queue, if any.
func (m *Manager) extractAll(ctx context.Context, entries []contracts.ListingEntry, opts UpdateOptions, sum *RunSummary, report reportFunc, log *logger.Logger) error {
	if len(entries) == 0 {
		return nil
	}

	extractCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := &halter{cancel: cancel}
	q := &quota{max: int64(opts.MaxCertificates)}

	log.WithFields(map[string]interface{}{
		"entries":          len(entries),
		"workers":          m.concurrency,
		"provider":         m.extractor.Provider().Name(),
		"max_certificates": opts.MaxCertificates,
	}).Info("Starting extraction")
	report(StageExtraction, fmt.Sprintf("Processing %d certificates", len(entries)), 0, len(entries))

	resultCh := make(chan itemResult, len(entries))
	jobCh := make(chan contracts.ListingEntry, len(entries))

	var wg sync.WaitGroup
	for i := 0; i < m.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			m.extractWorker(extractCtx, workerID, jobCh, resultCh, q, h)
		}(i)
	}

	for _, e := range entries {
		jobCh <- e
	}
	close(jobCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Paid extractions are persisted even when the run is cancelled.
	storeCtx := context.WithoutCancel(ctx)
	done := 0
	for res := range resultCh {
		done++
		m.collect(storeCtx, res, sum, log)
		stage := StageExtraction
		if res.result != nil {
			stage = StageStorage
		}
		report(stage, itemMessage(res), done, len(entries))
	}

	if h.halted() {
		sum.Halted = true
		sum.HaltReason = h.err.Error()
		log.WithError(h.err).Error("Extraction halted by provider authentication failure")
	}

	log.WithFields(map[string]interface{}{
		"extracted": sum.Extracted,
		"inserted":  sum.Inserted,
		"failed":    sum.Failed,
		"duplicate": sum.SkippedDuplicate,
	}).Info("Extraction completed")

	if h.halted() {
		return h.err
	}
	return nil
}

func (m *Manager) collect(ctx context.Context, res itemResult, sum *RunSummary, log *logger.Logger) {
	switch res.skip {
	case skipDuplicate:
		sum.SkippedDuplicate++
		m.metrics.Certificates.WithLabelValues(string(skipDuplicate)).Inc()
		return
	case skipQuota:
		sum.New++
		sum.SkippedQuota++
		m.metrics.Certificates.WithLabelValues(string(skipQuota)).Inc()
		return
	case skipHalted, skipCancelled:
		return
	}

	if res.err != nil {
		if res.stage == StageExtraction {
			sum.New++
		}
		sum.addFailure(ItemFailure{
			Stage:      res.stage,
			TaskNumber: res.entry.TaskNumber,
			ImageHash:  res.hash,
			ImageURL:   res.entry.ImageURL,
			Kind:       contracts.ErrorKind(res.err),
			Reason:     res.err.Error(),
		})
		m.metrics.Certificates.WithLabelValues("failed").Inc()
		return
	}

	sum.New++
	sum.Extracted++
	sum.Warnings += len(res.result.Warnings)

	cert := res.result.Certificate
	itemLog := log.WithItem(cert.TaskNumber, res.hash)
	outcome, err := m.certs.Upsert(ctx, cert)
	if err != nil {
		itemLog.WithError(err).Error("Failed to store certificate")
		sum.addFailure(ItemFailure{
			Stage:      StageStorage,
			TaskNumber: cert.TaskNumber,
			ImageHash:  res.hash,
			ImageURL:   res.entry.ImageURL,
			Kind:       contracts.ErrorKind(err),
			Reason:     err.Error(),
		})
		m.metrics.Certificates.WithLabelValues("failed").Inc()
		return
	}

	switch outcome {
	case contracts.UpsertInserted:
		sum.Inserted++
	case contracts.UpsertBackfilled:
		sum.Backfilled++
	case contracts.UpsertDuplicate:
		sum.SkippedDuplicate++
	}
	m.metrics.Certificates.WithLabelValues(string(outcome)).Inc()
	itemLog.WithField("outcome", outcome).Debug("Certificate stored")
}

// extractWorker processes listing entries until the job channel closes.
// Once ctx is done the remaining entries are drained without work.
func (m *Manager) extractWorker(ctx context.Context, workerID int, jobCh <-chan contracts.ListingEntry, resultCh chan<- itemResult, q *quota, h *halter) {
	for entry := range jobCh {
		select {
		case <-ctx.Done():
			resultCh <- itemResult{entry: entry, skip: stopReason(h)}
			continue
		default:
		}

		res := m.processEntry(ctx, workerID, entry, q, h)
		if res.err != nil && ctx.Err() != nil && !errors.Is(res.err, contracts.ErrAuthFailure) {
			// Interrupted mid-flight; not a failure of the item itself.
			res = itemResult{entry: entry, hash: res.hash, skip: stopReason(h)}
		}
		resultCh <- res
	}
}

func stopReason(h *halter) skipReason {
	if h.halted() {
		return skipHalted
	}
	return skipCancelled
}

func (m *Manager) processEntry(ctx context.Context, workerID int, entry contracts.ListingEntry, q *quota, h *halter) itemResult {
	log := m.logger.WithFields(map[string]interface{}{
		"worker":      workerID,
		"task_number": entry.TaskNumber,
	})

	data, err := m.scraper.DownloadImage(ctx, entry.ImageURL)
	if err != nil {
		log.WithError(err).WithField("image_url", entry.ImageURL).Warn("Failed to download image")
		return itemResult{entry: entry, stage: StageScraping, err: err}
	}

	hash := imagestore.HashImage(data)
	exists, err := m.certs.ExistsByImageHash(ctx, hash)
	if err != nil {
		return itemResult{entry: entry, hash: hash, stage: StageStorage, err: fmt.Errorf("check image hash: %w", err)}
	}
	if exists || !q.claimImage(hash) {
		return itemResult{entry: entry, hash: hash, skip: skipDuplicate}
	}
	if !q.claim() {
		return itemResult{entry: entry, hash: hash, skip: skipQuota}
	}

	_, key, _, err := m.images.PutImage(ctx, data, map[string]string{
		"task_number": entry.TaskNumber,
		"source_url":  entry.ImageURL,
	})
	if err != nil {
		log.WithError(err).WithField("image_hash", hash).Error("Failed to store image")
		return itemResult{entry: entry, hash: hash, stage: StageStorage, err: err}
	}

	res, err := m.extractWithRetry(ctx, provider.NewImage(data, hash), entry, log)
	if err != nil {
		if errors.Is(err, contracts.ErrAuthFailure) {
			h.halt(err)
		}
		log.WithError(err).WithField("image_hash", hash).Error("Extraction failed")
		return itemResult{entry: entry, hash: hash, stage: StageExtraction, err: err}
	}
	res.Certificate.ImageKey = key
	return itemResult{entry: entry, hash: hash, result: res}
}

// extractWithRetry retries rate-limited calls with exponential backoff.
// Every other error is returned as is.
func (m *Manager) extractWithRetry(ctx context.Context, img provider.Image, entry contracts.ListingEntry, log *logger.Logger) (*extractor.Result, error) {
	name := m.extractor.Provider().Name()
	for attempt := 0; ; attempt++ {
		start := time.Now()
		res, err := m.extractor.Extract(ctx, img, entry)
		m.metrics.ExtractionSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
		m.metrics.ProviderRequests.WithLabelValues(name, resultLabel(err)).Inc()

		if err == nil || !errors.Is(err, contracts.ErrRateLimited) || attempt >= m.maxRateLimitRetries {
			return res, err
		}

		wait := m.rateLimitBackoff << attempt
		log.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("Provider rate limited, backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return contracts.ErrorKind(err)
}

func itemMessage(res itemResult) string {
	switch {
	case res.skip != skipNone:
		return fmt.Sprintf("Task %s skipped (%s)", res.entry.TaskNumber, res.skip)
	case res.err != nil:
		return fmt.Sprintf("Task %s failed: %s", res.entry.TaskNumber, contracts.ErrorKind(res.err))
	default:
		return fmt.Sprintf("Task %s extracted", res.result.Certificate.TaskNumber)
	}
}

type reportFunc func(stage Stage, message string, current, total int)

func (m *Manager) reporter(runID string, fn ProgressFunc) reportFunc {
	return func(stage Stage, message string, current, total int) {
		if fn == nil {
			return
		}
		fn(Progress{
			RunID:   runID,
			Stage:   stage,
			Message: message,
			Current: current,
			Total:   total,
			Time:    m.now(),
		})
	}
}
