package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/coarank/backend/internal/api/handlers"
	"github.com/wonny/coarank/backend/pkg/logger"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Ranking  *handlers.RankingHandler
	Runs     *handlers.RunHandler
	Progress *handlers.ProgressHub
	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
}

// NewRouter creates and configures the HTTP router
func NewRouter(h Handlers, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Rankings
	api.HandleFunc("/rankings", h.Ranking.GetLatest).Methods("GET")
	api.HandleFunc("/rankings/export", h.Ranking.Export).Methods("GET")
	api.HandleFunc("/statistics", h.Ranking.GetStatistics).Methods("GET")

	// Suppliers and peptides
	api.HandleFunc("/suppliers/{name}/certificates", h.Ranking.GetSupplierCertificates).Methods("GET")
	api.HandleFunc("/suppliers/{name}/trend", h.Ranking.GetSupplierTrend).Methods("GET")
	api.HandleFunc("/peptides/suggest", h.Ranking.Suggest).Methods("GET")
	api.HandleFunc("/peptides/{name}/suppliers", h.Ranking.GetPeptideSuppliers).Methods("GET")

	// Runs
	if h.Runs != nil {
		api.HandleFunc("/runs", h.Runs.StartRun).Methods("POST")
		api.HandleFunc("/runs/last", h.Runs.LastRun).Methods("GET")
	}
	if h.Progress != nil {
		r.HandleFunc("/ws/progress", h.Progress.ServeWS).Methods("GET")
	}

	if h.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "coarank-api",
	})
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack forwards to the underlying writer for websocket upgrades.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
