package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/wonny/coarank/backend/internal/manager"
	"github.com/wonny/coarank/backend/pkg/logger"
)

// Runner starts full updates.
type Runner interface {
	RunFullUpdate(ctx context.Context, opts manager.UpdateOptions) (*manager.RunSummary, error)
	Running() bool
	LastRun() *manager.RunSummary
}

// RunHandler triggers full updates in the background.
type RunHandler struct {
	runner  Runner
	hub     *ProgressHub
	baseCtx context.Context
	logger  *logger.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewRunHandler creates a run handler. Background runs stop when ctx is
// cancelled.
func NewRunHandler(ctx context.Context, runner Runner, hub *ProgressHub, log *logger.Logger) *RunHandler {
	return &RunHandler{
		runner:  runner,
		hub:     hub,
		baseCtx: ctx,
		logger:  log.WithField("handler", "runs"),
	}
}

// RunRequest is the optional body of POST /api/runs.
type RunRequest struct {
	MaxPages        int `json:"max_pages"`
	MaxCertificates int `json:"max_certificates"`
}

// StartRun launches a full update unless one is already running
// POST /api/runs
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MaxPages < 0 || req.MaxCertificates < 0 {
		respondError(w, http.StatusBadRequest, "Limits must not be negative")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runner.Running() {
		respondError(w, http.StatusConflict, "A full update is already running")
		return
	}

	started := make(chan struct{})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		opts := manager.UpdateOptions{
			MaxPages:        req.MaxPages,
			MaxCertificates: req.MaxCertificates,
			Progress: func(p manager.Progress) {
				if h.hub != nil {
					h.hub.Publish(p)
				}
				select {
				case <-started:
				default:
					close(started)
				}
			},
		}
		sum, err := h.runner.RunFullUpdate(h.baseCtx, opts)
		select {
		case <-started:
		default:
			close(started)
		}
		if err != nil {
			log := h.logger.WithError(err)
			if sum != nil {
				log = log.WithField("run_id", sum.RunID)
			}
			log.Error("Background full update failed")
		}
	}()

	// The first progress event means the run owns the single-flight slot.
	<-started

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "started",
		"message": "Full update started; follow /ws/progress",
	})
}

// LastRun returns the summary of the latest finished run
// GET /api/runs/last
func (h *RunHandler) LastRun(w http.ResponseWriter, r *http.Request) {
	sum := h.runner.LastRun()
	if sum == nil {
		respondError(w, http.StatusNotFound, "No run has finished yet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.runner.Running(),
		"summary": sum,
	})
}

// Wait blocks until background runs have returned.
func (h *RunHandler) Wait() {
	h.wg.Wait()
}
