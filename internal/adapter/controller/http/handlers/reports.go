package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kr1s57/ipreputation/internal/usecase/reports"
)

// ReportGenerator renders scan reports
type ReportGenerator interface {
	GenerateReport(ctx context.Context, format string) ([]byte, string, error)
}

// ReportsHandler handles report-related HTTP requests
type ReportsHandler struct {
	service ReportGenerator
}

// NewReportsHandler creates a new reports handler
func NewReportsHandler(service ReportGenerator) *ReportsHandler {
	return &ReportsHandler{service: service}
}

// GenerateReport renders completed scans as a downloadable file
// GET /api/v1/reports/scans.{format}
func (h *ReportsHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	if format == "" {
		format = "pdf"
	}

	var contentType string
	switch format {
	case "pdf":
		contentType = "application/pdf"
	case "xml":
		contentType = "application/xml"
	default:
		ErrorResponse(w, http.StatusBadRequest, "Unsupported report format", nil)
		return
	}

	data, filename, err := h.service.GenerateReport(r.Context(), format)
	if errors.Is(err, reports.ErrNoCompletedScans) {
		ErrorResponse(w, http.StatusNotFound, "No completed scans to report", nil)
		return
	}
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to generate report", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
