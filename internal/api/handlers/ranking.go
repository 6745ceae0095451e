package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/manager"
	"github.com/wonny/coarank/backend/internal/normalize"
	"github.com/wonny/coarank/backend/pkg/logger"
)

// RankingService is the read side of the manager.
type RankingService interface {
	GetLatestRankings(ctx context.Context, topN int) ([]contracts.SupplierRanking, error)
	GetSupplierCertificates(ctx context.Context, supplier string) ([]*contracts.Certificate, error)
	GetSupplierTrend(ctx context.Context, supplier string) ([]contracts.TrendPoint, error)
	GetStatistics(ctx context.Context) (*manager.Statistics, error)
	BestSupplierForPeptide(ctx context.Context, peptide string, filter *contracts.QuantityFilter) ([]contracts.SupplierRanking, error)
	WriteRankingsCSV(ctx context.Context, w io.Writer) error
	WriteRankingsXLSX(ctx context.Context, w io.Writer) error
}

// RankingHandler serves rankings, supplier and statistics endpoints.
type RankingHandler struct {
	service RankingService
	logger  *logger.Logger
}

// NewRankingHandler creates a new ranking handler
func NewRankingHandler(service RankingService, log *logger.Logger) *RankingHandler {
	return &RankingHandler{
		service: service,
		logger:  log.WithField("handler", "ranking"),
	}
}

// RankingsResponse is the body of GET /api/rankings.
type RankingsResponse struct {
	Count    int                         `json:"count"`
	Rankings []contracts.SupplierRanking `json:"rankings"`
}

// GetLatest returns the newest snapshot's top rows
// GET /api/rankings?top=N
func (h *RankingHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	top, err := intQuery(r, "top", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.service.GetLatestRankings(r.Context(), top)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get rankings")
		respondError(w, statusFor(err), "Failed to retrieve rankings")
		return
	}
	if rows == nil {
		rows = []contracts.SupplierRanking{}
	}

	respondJSON(w, http.StatusOK, RankingsResponse{Count: len(rows), Rankings: rows})
}

// GetSupplierCertificates lists one supplier's certificates
// GET /api/suppliers/{name}/certificates
func (h *RankingHandler) GetSupplierCertificates(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	certs, err := h.service.GetSupplierCertificates(r.Context(), name)
	if err != nil {
		h.logger.WithError(err).WithField("supplier", name).Error("Failed to get supplier certificates")
		respondError(w, statusFor(err), "Failed to retrieve certificates")
		return
	}
	if len(certs) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("No certificates for supplier %q", name))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"supplier":     name,
		"count":        len(certs),
		"certificates": certs,
	})
}

// GetSupplierTrend returns one supplier's score across snapshots
// GET /api/suppliers/{name}/trend
func (h *RankingHandler) GetSupplierTrend(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	points, err := h.service.GetSupplierTrend(r.Context(), name)
	if err != nil {
		h.logger.WithError(err).WithField("supplier", name).Error("Failed to get supplier trend")
		respondError(w, statusFor(err), "Failed to retrieve trend")
		return
	}
	if points == nil {
		points = []contracts.TrendPoint{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"supplier": name,
		"points":   points,
	})
}

// GetStatistics returns database and ranking counts
// GET /api/statistics
func (h *RankingHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStatistics(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get statistics")
		respondError(w, statusFor(err), "Failed to retrieve statistics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetPeptideSuppliers ranks suppliers on one peptide
// GET /api/peptides/{name}/suppliers?quantity=10&unit=mg
func (h *RankingHandler) GetPeptideSuppliers(w http.ResponseWriter, r *http.Request) {
	peptide := normalize.Peptide(mux.Vars(r)["name"])

	var filter *contracts.QuantityFilter
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil || q <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'quantity' parameter")
			return
		}
		unit := r.URL.Query().Get("unit")
		if unit == "" {
			unit = "mg"
		}
		filter = &contracts.QuantityFilter{Quantity: q, Unit: unit}
	}

	rows, err := h.service.BestSupplierForPeptide(r.Context(), peptide, filter)
	if err != nil {
		respondError(w, statusFor(err), fmt.Sprintf("No suppliers for peptide %q", peptide))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"peptide":  peptide,
		"rankings": rows,
	})
}

// Suggest proposes canonical peptide or supplier names
// GET /api/peptides/suggest?q=bpc&kind=peptide
func (h *RankingHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, "Missing 'q' parameter")
		return
	}
	kind := normalize.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = normalize.KindPeptide
	}
	limit, err := intQuery(r, "limit", 5)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	suggestions, err := normalize.Suggest(kind, q, limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []normalize.Suggestion{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":       q,
		"kind":        kind,
		"suggestions": suggestions,
	})
}

// Export streams the latest snapshot as CSV or XLSX
// GET /api/rankings/export?format=csv|xlsx
func (h *RankingHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	stamp := time.Now().UTC().Format("20060102")

	var (
		write       func(context.Context, io.Writer) error
		contentType string
	)
	switch format {
	case "csv":
		write, contentType = h.service.WriteRankingsCSV, "text/csv"
	case "xlsx":
		write, contentType = h.service.WriteRankingsXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		respondError(w, http.StatusBadRequest, "Unknown export format (expected csv or xlsx)")
		return
	}

	// Rendered in memory first so errors can still change the status.
	var buf bytes.Buffer
	if err := write(r.Context(), &buf); err != nil {
		h.logger.WithError(err).WithField("format", format).Error("Failed to export rankings")
		respondError(w, statusFor(err), "Failed to export rankings")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=rankings-%s.%s", stamp, format))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
