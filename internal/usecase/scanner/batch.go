package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kr1s57/ipreputation/internal/domain/scoring"
	"github.com/kr1s57/ipreputation/internal/entity"
	"golang.org/x/time/rate"
)

var ErrNoIPs = errors.New("no IPs to scan")

// Scanner scans a single IP
type Scanner interface {
	Providers() []entity.Provider
	ScanIP(ctx context.Context, req ScanRequest) (*entity.AggregatedScanResult, error)
}

// Archiver receives every finalized record
type Archiver interface {
	ArchiveScan(ctx context.Context, scan *entity.AggregatedScanResult) error
}

// BatchRequest is a set of IPs scanned with one key snapshot
type BatchRequest struct {
	IPs  []string
	Mode entity.ScanMode
	Keys entity.KeySet
}

// BatchTicket describes an accepted batch
type BatchTicket struct {
	BatchID  string                        `json:"batch_id"`
	Mode     entity.ScanMode               `json:"mode"`
	Accepted []entity.AggregatedScanResult `json:"accepted"`
	Skipped  []string                      `json:"skipped"`

	results []entity.AggregatedScanResult
	done    chan struct{}
}

// Done is closed once every accepted job has finalized
func (t *BatchTicket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the batch is done or ctx ends
func (t *BatchTicket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the finalized records in acceptance order, nil while running
func (t *BatchTicket) Results() []entity.AggregatedScanResult {
	select {
	case <-t.done:
		return t.results
	default:
		return nil
	}
}

// BatchRunnerConfig holds batch runner configuration
type BatchRunnerConfig struct {
	DefaultMode   entity.ScanMode // used when a request has no mode, empty means smart
	Rescan        RescanPolicy
	DispatchRate  float64 // job starts per second, 0 means unlimited
	DispatchBurst int
	Archiver      Archiver
	Logger        *slog.Logger
	Now           func() time.Time
}

// BatchRunner accepts IP batches and runs one scan job per new IP
type BatchRunner struct {
	scanner  Scanner
	history  *History
	events   Publisher
	mode     entity.ScanMode
	rescan   RescanPolicy
	pacer    *rate.Limiter
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	jobs    sync.WaitGroup

	closeMu sync.Mutex // orders Submit reservations against Close
	closed  bool
}

// NewBatchRunner creates a batch runner. events may be nil.
func NewBatchRunner(scanner Scanner, history *History, events Publisher, cfg BatchRunnerConfig) *BatchRunner {
	if events == nil {
		events = discard{}
	}
	mode := cfg.DefaultMode
	if mode == "" {
		mode = entity.ScanModeSmart
	}
	rescan := cfg.Rescan
	if rescan == "" {
		rescan = RescanNever
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var pacer *rate.Limiter
	if cfg.DispatchRate > 0 {
		burst := cfg.DispatchBurst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &BatchRunner{
		scanner:  scanner,
		history:  history,
		events:   events,
		mode:     mode,
		rescan:   rescan,
		pacer:    pacer,
		archiver: cfg.Archiver,
		logger:   logger,
		now:      now,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Submit records a pending scan for every IP not yet in history and starts
// the jobs in the background. Jobs outlive ctx; only Close cancels them.
func (r *BatchRunner) Submit(ctx context.Context, req BatchRequest) (*BatchTicket, error) {
	if len(req.IPs) == 0 {
		return nil, ErrNoIPs
	}
	mode := req.Mode
	if mode == "" {
		mode = r.mode
	}
	if mode != entity.ScanModeFull && mode != entity.ScanModeSmart {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidRequest, mode)
	}
	if !r.reserve() {
		return nil, fmt.Errorf("batch runner closed: %w", context.Canceled)
	}
	defer r.jobs.Done()

	ticket := &BatchTicket{
		BatchID:  uuid.NewString(),
		Mode:     mode,
		Accepted: []entity.AggregatedScanResult{},
		Skipped:  []string{},
		done:     make(chan struct{}),
	}

	keys := req.Keys.Clone()
	providers := r.scanner.Providers()
	seen := make(map[string]bool, len(req.IPs))

	var pending []*entity.AggregatedScanResult
	for _, ip := range req.IPs {
		if seen[ip] {
			continue
		}
		seen[ip] = true

		rec := entity.NewPendingScan(uuid.NewString(), ip, mode, providers, r.now())
		if !r.history.AddIfAbsent(ctx, rec, r.rescan) {
			ticket.Skipped = append(ticket.Skipped, ip)
			continue
		}
		pending = append(pending, rec)
		ticket.Accepted = append(ticket.Accepted, *rec.Clone())

		r.events.Publish(Event{
			Type:      EventScanStarted,
			JobID:     rec.ID,
			IP:        ip,
			Scan:      rec.Clone(),
			Timestamp: r.now(),
		})
	}

	r.logger.Info("[SCAN] Batch accepted",
		"batch_id", ticket.BatchID,
		"mode", mode,
		"accepted", len(pending),
		"skipped", len(ticket.Skipped))

	ticket.results = make([]entity.AggregatedScanResult, len(pending))

	var batch sync.WaitGroup
	for i, rec := range pending {
		batch.Add(1)
		r.jobs.Add(1)
		go func(i int, rec *entity.AggregatedScanResult) {
			defer r.jobs.Done()
			defer batch.Done()
			ticket.results[i] = r.runJob(rec, keys)
		}(i, rec)
	}

	go func() {
		batch.Wait()
		close(ticket.done)
		r.logger.Info("[SCAN] Batch finished", "batch_id", ticket.BatchID, "jobs", len(pending))
	}()

	return ticket, nil
}

// reserve holds the job group open for one Submit call; false once closed
func (r *BatchRunner) reserve() bool {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return false
	}
	r.jobs.Add(1)
	return true
}

// Run submits the batch and waits until every job has finalized
func (r *BatchRunner) Run(ctx context.Context, req BatchRequest) (*BatchTicket, error) {
	ticket, err := r.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := ticket.Wait(ctx); err != nil {
		return ticket, err
	}
	return ticket, nil
}

// runJob scans one IP and stores the final record, never panicking
func (r *BatchRunner) runJob(pending *entity.AggregatedScanResult, keys entity.KeySet) (final entity.AggregatedScanResult) {
	ctx := r.baseCtx

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("[SCAN] Scan job panicked", "ip", pending.IP, "job_id", pending.ID, "panic", rec)
			final = *r.complete(r.failed(pending, fmt.Sprintf("scan failed: %v", rec)))
		}
	}()

	if r.pacer != nil {
		if err := r.pacer.Wait(ctx); err != nil {
			return *r.complete(r.failed(pending, fmt.Sprintf("scan not started: %v", err)))
		}
	}

	forward := PublisherFunc(func(e Event) {
		if e.Type == EventProviderResult && e.Result != nil {
			if !r.history.MergeProviderResult(ctx, e.IP, *e.Result) {
				return
			}
		}
		r.events.Publish(e)
	})

	res, err := r.scanner.ScanIP(ctx, ScanRequest{
		JobID:     pending.ID,
		IP:        pending.IP,
		Keys:      keys,
		Mode:      pending.Mode,
		Publisher: forward,
	})
	if err != nil {
		r.logger.Error("[SCAN] Scan job failed", "ip", pending.IP, "job_id", pending.ID, "error", err)
		return *r.complete(r.failed(pending, err.Error()))
	}
	return *r.complete(res)
}

// failed builds the wholesale failure record from the latest merged state
func (r *BatchRunner) failed(pending *entity.AggregatedScanResult, msg string) *entity.AggregatedScanResult {
	rec, err := r.history.Get(pending.ID)
	if err != nil {
		rec = pending.Clone()
	}

	for i := range rec.Results {
		if !rec.Results[i].Status.IsTerminal() {
			rec.Results[i] = errorSlot(rec.Results[i].Provider, rec.IP, "", msg)
		}
	}
	rec.Error = msg
	rec.IsScanning = false
	rec.OverallSeverity = scoring.ResolveSeverity(rec.Results)
	done := r.now()
	rec.CompletedAt = &done
	return rec
}

// complete stores the final record and announces it
func (r *BatchRunner) complete(rec *entity.AggregatedScanResult) *entity.AggregatedScanResult {
	ctx := r.baseCtx

	if !r.history.ReplaceByID(ctx, rec) {
		r.logger.Warn("[HISTORY] Finalized scan no longer in history", "ip", rec.IP, "job_id", rec.ID)
	}

	if r.archiver != nil {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historySaveTimeout)
		if err := r.archiver.ArchiveScan(archiveCtx, rec); err != nil {
			r.logger.Warn("[SCAN] Failed to archive scan", "ip", rec.IP, "job_id", rec.ID, "error", err)
		}
		cancel()
	}

	evType := EventScanCompleted
	if rec.Error != "" {
		evType = EventScanFailed
	}
	r.events.Publish(Event{
		Type:      evType,
		JobID:     rec.ID,
		IP:        rec.IP,
		Scan:      rec.Clone(),
		Timestamp: r.now(),
	})

	return rec
}

// History returns all records, newest first
func (r *BatchRunner) History() []entity.AggregatedScanResult {
	return r.history.List()
}

// Get returns one record by job id
func (r *BatchRunner) Get(id string) (*entity.AggregatedScanResult, error) {
	return r.history.Get(id)
}

// ClearHistory forgets finished records so their IPs can be scanned again
func (r *BatchRunner) ClearHistory(ctx context.Context) int {
	n := r.history.Clear(ctx)
	r.logger.Info("[HISTORY] Scan history cleared", "removed", n)
	return n
}

// Close cancels running jobs and waits for them to finalize
func (r *BatchRunner) Close() {
	r.closeMu.Lock()
	r.closed = true
	r.closeMu.Unlock()

	r.cancel()
	r.jobs.Wait()
}
