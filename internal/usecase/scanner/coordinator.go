package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kr1s57/ipreputation/internal/adapter/external/threatintel"
	"github.com/kr1s57/ipreputation/internal/domain/scoring"
	"github.com/kr1s57/ipreputation/internal/entity"
)

var (
	ErrInvalidRequest = errors.New("invalid scan request")
	ErrNoClient       = errors.New("no client registered for provider")
)

// Admitter decides whether a provider key may be used right now.
// A true return means the use has already been recorded.
type Admitter interface {
	TryAdmit(ctx context.Context, provider entity.Provider, keyID string) bool
}

// SmartScanPolicy controls the smart-mode early exit.
// Configured providers outside Primary are secondary.
type SmartScanPolicy struct {
	Primary   []entity.Provider
	Threshold int // risky primary results needed to skip the secondaries
}

// DefaultSmartScanPolicy returns the stock policy: two risky verdicts from
// VirusTotal and AbuseIPDB skip Scamalytics.
func DefaultSmartScanPolicy() SmartScanPolicy {
	return SmartScanPolicy{
		Primary:   []entity.Provider{entity.ProviderVirusTotal, entity.ProviderAbuseIPDB},
		Threshold: 2,
	}
}

// split partitions providers into primaries and secondaries, keeping order
func (p SmartScanPolicy) split(providers []entity.Provider) (primary, secondary []entity.Provider) {
	isPrimary := make(map[entity.Provider]bool, len(p.Primary))
	for _, pp := range p.Primary {
		isPrimary[pp] = true
	}
	for _, pp := range providers {
		if isPrimary[pp] {
			primary = append(primary, pp)
		} else {
			secondary = append(secondary, pp)
		}
	}
	return primary, secondary
}

// CoordinatorConfig holds coordinator configuration
type CoordinatorConfig struct {
	Providers []entity.Provider // slots of every aggregate; defaults to all providers
	Smart     SmartScanPolicy
	Logger    *slog.Logger
	Now       func() time.Time
}

// ScanRequest describes a single-IP scan job
type ScanRequest struct {
	JobID     string
	IP        string
	Keys      entity.KeySet
	Mode      entity.ScanMode
	Publisher Publisher // receives one provider_result event per terminal slot
}

// Coordinator runs one IP through the configured providers
type Coordinator struct {
	registry  *threatintel.Registry
	admitter  Admitter
	providers []entity.Provider
	smart     SmartScanPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator creates a new scan coordinator
func NewCoordinator(registry *threatintel.Registry, admitter Admitter, cfg CoordinatorConfig) *Coordinator {
	providers := cfg.Providers
	if len(providers) == 0 {
		providers = entity.AllProviders()
	}

	smart := cfg.Smart
	if smart.Primary == nil {
		smart.Primary = DefaultSmartScanPolicy().Primary
	}
	if smart.Threshold <= 0 {
		smart.Threshold = DefaultSmartScanPolicy().Threshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		registry:  registry,
		admitter:  admitter,
		providers: append([]entity.Provider(nil), providers...),
		smart:     smart,
		logger:    logger,
		now:       now,
	}
}

// Providers returns the providers every aggregate has a slot for
func (c *Coordinator) Providers() []entity.Provider {
	return append([]entity.Provider(nil), c.providers...)
}

// ScanIP scans one IP and returns the finalized aggregate.
// Provider failures become error slots; an error is returned only when the
// scan cannot be orchestrated at all.
func (c *Coordinator) ScanIP(ctx context.Context, req ScanRequest) (*entity.AggregatedScanResult, error) {
	if req.IP == "" {
		return nil, fmt.Errorf("%w: empty ip", ErrInvalidRequest)
	}
	if req.Mode != entity.ScanModeFull && req.Mode != entity.ScanModeSmart {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidRequest, req.Mode)
	}
	for _, p := range c.providers {
		if _, ok := c.registry.Get(p); !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoClient, p)
		}
	}

	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	pub := req.Publisher
	if pub == nil {
		pub = discard{}
	}

	agg := entity.NewPendingScan(req.JobID, req.IP, req.Mode, c.providers, c.now())

	var mu sync.Mutex
	record := func(r entity.ServiceScanResult) {
		mu.Lock()
		agg.ReplaceSlot(r)
		mu.Unlock()

		res := r
		pub.Publish(Event{
			Type:      EventProviderResult,
			JobID:     req.JobID,
			IP:        req.IP,
			Result:    &res,
			Timestamp: c.now(),
		})
	}

	switch req.Mode {
	case entity.ScanModeFull:
		c.dispatch(ctx, req, c.providers, record)

	case entity.ScanModeSmart:
		primary, secondary := c.smart.split(c.providers)
		results := c.dispatch(ctx, req, primary, record)

		risky := scoring.CountRisky(results)
		if risky >= c.smart.Threshold {
			reason := fmt.Sprintf("%d of %d primary providers already flagged this IP as suspicious or malicious.", risky, len(primary))
			for _, p := range secondary {
				record(entity.ServiceScanResult{
					Provider:   p,
					IP:         req.IP,
					Status:     entity.StatusSkipped,
					Severity:   entity.SeverityUnknown,
					SkipReason: reason,
				})
			}
			c.logger.Info("[SCAN] Smart scan skipped secondary providers",
				"ip", req.IP,
				"risky", risky,
				"skipped", len(secondary))
		} else {
			c.dispatch(ctx, req, secondary, record)
		}
	}

	c.finalize(agg, pub)

	c.logger.Info("[SCAN] Scan completed",
		"job_id", agg.ID,
		"ip", agg.IP,
		"mode", agg.Mode,
		"severity", agg.OverallSeverity)

	return agg, nil
}

// dispatch scans providers concurrently and returns their results in order
func (c *Coordinator) dispatch(ctx context.Context, req ScanRequest, providers []entity.Provider, record func(entity.ServiceScanResult)) []entity.ServiceScanResult {
	results := make([]entity.ServiceScanResult, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p entity.Provider) {
			defer wg.Done()
			r := c.scanProvider(ctx, req, p)
			results[i] = r
			record(r)
		}(i, p)
	}
	wg.Wait()

	return results
}

// scanProvider runs one provider call with the first admitted key
func (c *Coordinator) scanProvider(ctx context.Context, req ScanRequest, p entity.Provider) (result entity.ServiceScanResult) {
	keys := req.Keys.Sorted(p)
	if len(keys) == 0 {
		return entity.ServiceScanResult{
			Provider:    p,
			IP:          req.IP,
			Status:      entity.StatusKeyMissing,
			Severity:    entity.SeverityUnknown,
			ErrorDetail: fmt.Sprintf("No API key configured for %s.", p),
		}
	}

	var key *entity.APIKeyConfig
	for i := range keys {
		if c.admitter.TryAdmit(ctx, p, keys[i].ID) {
			key = &keys[i]
			break
		}
	}
	if key == nil {
		c.logger.Warn("[RATELIMIT] All keys exhausted",
			"provider", p,
			"keys", len(keys),
			"ip", req.IP)
		return entity.ServiceScanResult{
			Provider:    p,
			IP:          req.IP,
			Status:      entity.StatusRateLimited,
			Severity:    entity.SeverityUnknown,
			ErrorDetail: fmt.Sprintf("All %d API key(s) for %s are rate limited. Try again later.", len(keys), p),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("[SCAN] Provider panicked",
				"provider", p,
				"ip", req.IP,
				"panic", rec)
			result = errorSlot(p, req.IP, key.ID, fmt.Sprintf("provider panic: %v", rec))
		}
	}()

	client, _ := c.registry.Get(p)
	out, err := client.Scan(ctx, req.IP, key.Secret)
	if err != nil {
		c.logger.Warn("[SCAN] Provider call failed",
			"provider", p,
			"ip", req.IP,
			"key_id", key.ID,
			"error", err)
		return errorSlot(p, req.IP, key.ID, err.Error())
	}
	if out == nil {
		return errorSlot(p, req.IP, key.ID, "provider returned no result")
	}

	result = *out
	result.Provider = p
	result.IP = req.IP
	result.UsedKeyID = key.ID
	if !result.Status.IsTerminal() {
		return errorSlot(p, req.IP, key.ID, fmt.Sprintf("provider returned non-terminal status %q", result.Status))
	}
	if result.Status != entity.StatusSuccess && result.Status != entity.StatusError {
		result.Severity = entity.SeverityUnknown
	}
	return result
}

// finalize fills any non-terminal slot and computes the overall verdict
func (c *Coordinator) finalize(agg *entity.AggregatedScanResult, pub Publisher) {
	for _, r := range agg.Results {
		if r.Status.IsTerminal() {
			continue
		}
		c.logger.Error("[SCAN] Provider slot left pending at finalization",
			"provider", r.Provider,
			"ip", agg.IP)
		slot := errorSlot(r.Provider, agg.IP, "", "provider did not complete")
		agg.ReplaceSlot(slot)
		pub.Publish(Event{
			Type:      EventProviderResult,
			JobID:     agg.ID,
			IP:        agg.IP,
			Result:    &slot,
			Timestamp: c.now(),
		})
	}

	agg.OverallSeverity = scoring.ResolveSeverity(agg.Results)
	agg.IsScanning = false
	done := c.now()
	agg.CompletedAt = &done
}

func errorSlot(p entity.Provider, ip, keyID, msg string) entity.ServiceScanResult {
	return entity.ServiceScanResult{
		Provider:    p,
		IP:          ip,
		Status:      entity.StatusError,
		Severity:    entity.SeverityUnknown,
		ErrorDetail: msg,
		UsedKeyID:   keyID,
	}
}
