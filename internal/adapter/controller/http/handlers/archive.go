package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// ArchiveReader queries archived scans
type ArchiveReader interface {
	ListByIP(ctx context.Context, ip string, limit int) ([]entity.AggregatedScanResult, error)
	SeverityCounts(ctx context.Context, since time.Time) (map[entity.Severity]uint64, error)
}

// ArchiveHandler handles scan archive HTTP requests
type ArchiveHandler struct {
	repo ArchiveReader
}

// NewArchiveHandler creates a new handler
func NewArchiveHandler(repo ArchiveReader) *ArchiveHandler {
	return &ArchiveHandler{repo: repo}
}

// ListByIP returns archived scans of one IP, newest first
// GET /api/v1/archive/ip/{ip}?limit=20
func (h *ArchiveHandler) ListByIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid IP address", nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	scans, err := h.repo.ListByIP(r.Context(), ip, limit)
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to query archive", err)
		return
	}
	if scans == nil {
		scans = []entity.AggregatedScanResult{}
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"ip":    ip,
		"scans": scans,
	})
}

// Stats returns archived severity counts for a period
// GET /api/v1/archive/stats?period=24h
func (h *ArchiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if p := r.URL.Query().Get("period"); p != "" {
		d, err := time.ParseDuration(p)
		if err != nil || d <= 0 {
			ErrorResponse(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		period = d
	}

	counts, err := h.repo.SeverityCounts(r.Context(), time.Now().Add(-period))
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to query archive", err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"period":      period.String(),
		"by_severity": counts,
	})
}
