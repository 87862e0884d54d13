package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kr1s57/ipreputation/internal/adapter/parser/iplist"
	"github.com/kr1s57/ipreputation/internal/entity"
	"github.com/kr1s57/ipreputation/internal/usecase/scanner"
)

const maxUploadSize = 5 << 20

// ScanRunner accepts scan batches and exposes the scan history
type ScanRunner interface {
	Submit(ctx context.Context, req scanner.BatchRequest) (*scanner.BatchTicket, error)
	History() []entity.AggregatedScanResult
	Get(id string) (*entity.AggregatedScanResult, error)
	ClearHistory(ctx context.Context) int
}

// KeySnapshotter provides the key pools a batch runs with
type KeySnapshotter interface {
	Snapshot() entity.KeySet
}

// ScansHandler handles scan HTTP requests
type ScansHandler struct {
	runner      ScanRunner
	keys        KeySnapshotter
	defaultMode entity.ScanMode
}

// NewScansHandler creates a new handler. defaultMode applies to requests
// without a mode; empty means smart.
func NewScansHandler(runner ScanRunner, keys KeySnapshotter, defaultMode entity.ScanMode) *ScansHandler {
	if defaultMode == "" {
		defaultMode = entity.ScanModeSmart
	}
	return &ScansHandler{runner: runner, keys: keys, defaultMode: defaultMode}
}

// SubmitScanRequest represents the request body for starting a scan.
// IPs and Text are merged; Text may hold any free-form content.
type SubmitScanRequest struct {
	IPs  []string `json:"ips"`
	Text string   `json:"text"`
	Mode string   `json:"mode"` // smart, full; empty uses the configured default
}

// SubmitScanResponse is returned when a batch is accepted
type SubmitScanResponse struct {
	*scanner.BatchTicket
	Rejected []string `json:"rejected"`
}

// Submit starts a scan batch
// POST /api/v1/scans
func (h *ScansHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitScanRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	parsed := iplist.Extract(strings.Join(append(req.IPs, req.Text), "\n"))
	h.submit(w, r, parsed, req.Mode)
}

// Upload starts a scan batch from an uploaded text file
// POST /api/v1/scans/upload
func (h *ScansHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Missing file", err)
		return
	}
	defer file.Close()

	parsed, err := iplist.ExtractReader(file)
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Failed to read file", err)
		return
	}

	h.submit(w, r, parsed, r.FormValue("mode"))
}

func (h *ScansHandler) submit(w http.ResponseWriter, r *http.Request, parsed iplist.Result, modeParam string) {
	mode := h.defaultMode
	if strings.TrimSpace(modeParam) != "" {
		var err error
		if mode, err = entity.ParseScanMode(modeParam); err != nil {
			ErrorResponse(w, http.StatusBadRequest, "Invalid scan mode", err)
			return
		}
	}

	rejected := parsed.Rejected
	if rejected == nil {
		rejected = []string{}
	}

	if len(parsed.IPs) == 0 {
		JSONResponse(w, http.StatusBadRequest, map[string]interface{}{
			"error":    "No valid IPv4 addresses found",
			"success":  false,
			"rejected": rejected,
		})
		return
	}

	// Jobs outlive the request: the runner detaches them from r.Context()
	ticket, err := h.runner.Submit(r.Context(), scanner.BatchRequest{
		IPs:  parsed.IPs,
		Mode: mode,
		Keys: h.keys.Snapshot(),
	})
	switch {
	case errors.Is(err, scanner.ErrNoIPs), errors.Is(err, scanner.ErrInvalidRequest):
		ErrorResponse(w, http.StatusBadRequest, "Invalid scan request", err)
		return
	case err != nil:
		ErrorResponse(w, http.StatusServiceUnavailable, "Failed to start scan", err)
		return
	}

	JSONResponse(w, http.StatusAccepted, SubmitScanResponse{
		BatchTicket: ticket,
		Rejected:    rejected,
	})
}

// List returns the scan history, newest first
// GET /api/v1/scans?limit=50&offset=0
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	all := h.runner.History()
	page := []entity.AggregatedScanResult{}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		page = all[offset:end]
	}

	JSONResponse(w, http.StatusOK, NewPaginatedResponse(page, int64(len(all)), limit, offset))
}

// Get returns one scan record
// GET /api/v1/scans/{id}
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	scan, err := h.runner.Get(chi.URLParam(r, "id"))
	if errors.Is(err, scanner.ErrScanNotFound) {
		ErrorResponse(w, http.StatusNotFound, "Scan not found", nil)
		return
	}
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to get scan", err)
		return
	}

	JSONResponse(w, http.StatusOK, scan)
}

// Clear removes finished records from the history
// DELETE /api/v1/scans
func (h *ScansHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed := h.runner.ClearHistory(r.Context())
	SuccessResponse(w, "Scan history cleared", map[string]int{"removed": removed})
}
