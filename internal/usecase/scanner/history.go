package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kr1s57/ipreputation/internal/domain/scoring"
	"github.com/kr1s57/ipreputation/internal/entity"
)

var ErrScanNotFound = errors.New("scan not found")

// HistoryStore persists the whole scan collection as one value
type HistoryStore interface {
	LoadHistory(ctx context.Context) ([]entity.AggregatedScanResult, error)
	SaveHistory(ctx context.Context, scans []entity.AggregatedScanResult) error
}

// RescanPolicy decides whether an IP already in history is scanned again
type RescanPolicy string

const (
	RescanNever  RescanPolicy = "never"  // any record blocks a rescan
	RescanFailed RescanPolicy = "failed" // records that failed wholesale are replaced
)

// ParseRescanPolicy resolves a policy name; empty input gives RescanNever
func ParseRescanPolicy(s string) (RescanPolicy, error) {
	switch RescanPolicy(s) {
	case "", RescanNever:
		return RescanNever, nil
	case RescanFailed:
		return RescanFailed, nil
	default:
		return "", errors.New("invalid rescan policy: " + s)
	}
}

const historySaveTimeout = 5 * time.Second

// interruptedReason marks records left scanning by a previous process
const interruptedReason = "scan interrupted"

// History is the authoritative in-memory scan collection.
// The store is only a cache of it.
type History struct {
	mu      sync.Mutex
	records []*entity.AggregatedScanResult // insertion order
	store   HistoryStore
	logger  *slog.Logger
}

// NewHistory loads persisted history; a load failure starts empty
func NewHistory(ctx context.Context, store HistoryStore, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{store: store, logger: logger}

	if store == nil {
		return h
	}
	scans, err := store.LoadHistory(ctx)
	if err != nil {
		logger.Warn("[HISTORY] Failed to load scan history, starting empty", "error", err)
		return h
	}
	interrupted := 0
	for i := range scans {
		rec := scans[i].Clone()
		if rec.IsScanning {
			finalizeInterrupted(rec, time.Now())
			interrupted++
		}
		h.records = append(h.records, rec)
	}
	if interrupted > 0 {
		logger.Warn("[HISTORY] Finalized scans interrupted by restart", "count", interrupted)
		h.persist(ctx)
	}
	logger.Info("[HISTORY] Scan history loaded", "count", len(h.records))
	return h
}

// finalizeInterrupted turns a record no job will ever finish into a failure
func finalizeInterrupted(rec *entity.AggregatedScanResult, now time.Time) {
	for i := range rec.Results {
		if !rec.Results[i].Status.IsTerminal() {
			rec.Results[i] = errorSlot(rec.Results[i].Provider, rec.IP, "", interruptedReason)
		}
	}
	rec.Error = interruptedReason
	rec.IsScanning = false
	rec.OverallSeverity = scoring.ResolveSeverity(rec.Results)
	rec.CompletedAt = &now
}

// AddIfAbsent inserts rec unless its IP is already recorded.
// Under RescanFailed, wholesale-failed records of the IP are replaced.
func (h *History) AddIfAbsent(ctx context.Context, rec *entity.AggregatedScanResult, policy RescanPolicy) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	var kept []*entity.AggregatedScanResult
	for _, r := range h.records {
		if r.IP != rec.IP {
			kept = append(kept, r)
			continue
		}
		if policy == RescanFailed && !r.IsScanning && r.Error != "" {
			continue
		}
		return false
	}

	h.records = append(kept, rec.Clone())
	h.persist(ctx)
	return true
}

// MergeProviderResult replaces one slot of the still-scanning record of ip.
// Returns false when no such record exists, e.g. after finalization.
func (h *History) MergeProviderResult(ctx context.Context, ip string, r entity.ServiceScanResult) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, rec := range h.records {
		if rec.IP == ip && rec.IsScanning {
			if !rec.ReplaceSlot(r) {
				return false
			}
			h.persist(ctx)
			return true
		}
	}
	return false
}

// ReplaceByID swaps the record with the same job id
func (h *History) ReplaceByID(ctx context.Context, rec *entity.AggregatedScanResult) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, r := range h.records {
		if r.ID == rec.ID {
			h.records[i] = rec.Clone()
			h.persist(ctx)
			return true
		}
	}
	return false
}

// Get returns a copy of the record with the given job id
func (h *History) Get(id string) (*entity.AggregatedScanResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range h.records {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, ErrScanNotFound
}

// List returns copies of all records, newest first
func (h *History) List() []entity.AggregatedScanResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]entity.AggregatedScanResult, 0, len(h.records))
	for i := len(h.records) - 1; i >= 0; i-- {
		out = append(out, *h.records[i].Clone())
	}
	return out
}

// Clear removes every finished record and returns how many were removed.
// Records still scanning are kept so their jobs can finalize.
func (h *History) Clear(ctx context.Context) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var kept []*entity.AggregatedScanResult
	for _, r := range h.records {
		if r.IsScanning {
			kept = append(kept, r)
		}
	}
	removed := len(h.records) - len(kept)
	h.records = kept
	h.persist(ctx)
	return removed
}

// persist writes the snapshot; callers hold h.mu
func (h *History) persist(ctx context.Context) {
	if h.store == nil {
		return
	}
	snapshot := make([]entity.AggregatedScanResult, 0, len(h.records))
	for _, r := range h.records {
		snapshot = append(snapshot, *r.Clone())
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historySaveTimeout)
	defer cancel()

	if err := h.store.SaveHistory(saveCtx, snapshot); err != nil {
		h.logger.Warn("[HISTORY] Failed to persist scan history", "error", err, "count", len(snapshot))
	}
}
