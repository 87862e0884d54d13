package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kr1s57/ipreputation/internal/adapter/external/threatintel"
	"github.com/kr1s57/ipreputation/internal/entity"
	"github.com/kr1s57/ipreputation/internal/usecase/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type scanFunc func(ctx context.Context, ip, apiKey string) (*entity.ServiceScanResult, error)

type fakeClient struct {
	provider entity.Provider
	scan     scanFunc
	calls    atomic.Int32

	mu   sync.Mutex
	keys []string
}

func newFakeClient(p entity.Provider, fn scanFunc) *fakeClient {
	return &fakeClient{provider: p, scan: fn}
}

func (f *fakeClient) Provider() entity.Provider {
	return f.provider
}

func (f *fakeClient) Scan(ctx context.Context, ip, apiKey string) (*entity.ServiceScanResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()
	return f.scan(ctx, ip, apiKey)
}

func verdict(p entity.Provider, sev entity.Severity) scanFunc {
	return func(_ context.Context, ip, _ string) (*entity.ServiceScanResult, error) {
		return &entity.ServiceScanResult{
			Provider: p,
			IP:       ip,
			Status:   entity.StatusSuccess,
			Severity: sev,
			Score:    entity.IntPtr(sev.Rank()),
		}, nil
	}
}

type countingAdmitter struct {
	mu    sync.Mutex
	deny  map[string]bool
	calls map[entity.Provider]int
}

func newCountingAdmitter() *countingAdmitter {
	return &countingAdmitter{deny: map[string]bool{}, calls: map[entity.Provider]int{}}
}

func (a *countingAdmitter) TryAdmit(_ context.Context, p entity.Provider, keyID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[p]++
	return !a.deny[keyID]
}

func (a *countingAdmitter) Calls(p entity.Provider) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[p]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func oneKeyEach() entity.KeySet {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return entity.KeySet{
		entity.ProviderVirusTotal:  {{ID: "vt-1", Secret: "vt-secret", AddedAt: t0}},
		entity.ProviderAbuseIPDB:   {{ID: "ab-1", Secret: "ab-secret", AddedAt: t0}},
		entity.ProviderScamalytics: {{ID: "sc-1", Secret: "sc-secret", AddedAt: t0}},
	}
}

func newTestCoordinator(admitter Admitter, clients ...threatintel.Client) *Coordinator {
	return NewCoordinator(threatintel.NewRegistry(clients...), admitter, CoordinatorConfig{Logger: testLogger()})
}

func requireFinalized(t *testing.T, agg *entity.AggregatedScanResult) {
	t.Helper()
	assert.False(t, agg.IsScanning)
	assert.NotNil(t, agg.CompletedAt)
	for _, r := range agg.Results {
		assert.True(t, r.Status.IsTerminal(), "slot %s left %s", r.Provider, r.Status)
	}
}

// =============================================================================
// Full mode
// =============================================================================

func TestCoordinator_FullModeScansAllProviders(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeverityClean))
	ab := newFakeClient(entity.ProviderAbuseIPDB, verdict(entity.ProviderAbuseIPDB, entity.SeveritySuspicious))
	sc := newFakeClient(entity.ProviderScamalytics, verdict(entity.ProviderScamalytics, entity.SeverityClean))
	rec := &eventRecorder{}

	c := newTestCoordinator(newCountingAdmitter(), vt, ab, sc)
	agg, err := c.ScanIP(context.Background(), ScanRequest{
		JobID:     "job-1",
		IP:        "45.33.32.156",
		Keys:      oneKeyEach(),
		Mode:      entity.ScanModeFull,
		Publisher: rec,
	})
	require.NoError(t, err)

	requireFinalized(t, agg)
	assert.Equal(t, "job-1", agg.ID)
	assert.Equal(t, entity.SeveritySuspicious, agg.OverallSeverity)
	require.Len(t, agg.Results, 3)
	for i, p := range entity.AllProviders() {
		assert.Equal(t, p, agg.Results[i].Provider)
		assert.Equal(t, entity.StatusSuccess, agg.Results[i].Status)
	}

	slot, _ := agg.Slot(entity.ProviderAbuseIPDB)
	assert.Equal(t, "ab-1", slot.UsedKeyID)

	events := rec.OfType(EventProviderResult)
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, "job-1", e.JobID)
		assert.Equal(t, "45.33.32.156", e.IP)
		require.NotNil(t, e.Result)
	}
}

func TestCoordinator_KeyMissingSkipsAdmission(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeverityClean))
	ab := newFakeClient(entity.ProviderAbuseIPDB, verdict(entity.ProviderAbuseIPDB, entity.SeverityClean))
	sc := newFakeClient(entity.ProviderScamalytics, verdict(entity.ProviderScamalytics, entity.SeverityClean))
	admitter := newCountingAdmitter()

	keys := oneKeyEach()
	delete(keys, entity.ProviderAbuseIPDB)

	c := newTestCoordinator(admitter, vt, ab, sc)
	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: keys, Mode: entity.ScanModeFull})
	require.NoError(t, err)

	slot, _ := agg.Slot(entity.ProviderAbuseIPDB)
	assert.Equal(t, entity.StatusKeyMissing, slot.Status)
	assert.Equal(t, entity.SeverityUnknown, slot.Severity)
	assert.Equal(t, 0, admitter.Calls(entity.ProviderAbuseIPDB))
	assert.Equal(t, int32(0), ab.calls.Load())
	assert.NotEmpty(t, agg.ID)
}

func TestCoordinator_NonSuccessSeverityIsUnknown(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, func(_ context.Context, ip, _ string) (*entity.ServiceScanResult, error) {
		return &entity.ServiceScanResult{Status: entity.StatusNotFound, Severity: entity.SeverityMalicious}, nil
	})

	c := NewCoordinator(threatintel.NewRegistry(vt), newCountingAdmitter(), CoordinatorConfig{
		Providers: []entity.Provider{entity.ProviderVirusTotal},
		Logger:    testLogger(),
	})
	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: entity.ScanModeFull})
	require.NoError(t, err)

	slot, _ := agg.Slot(entity.ProviderVirusTotal)
	assert.Equal(t, entity.StatusNotFound, slot.Status)
	assert.Equal(t, entity.SeverityUnknown, slot.Severity)
	assert.Equal(t, entity.ProviderVirusTotal, slot.Provider)
	assert.Equal(t, "45.33.32.156", slot.IP)
	assert.Equal(t, entity.SeverityUnknown, agg.OverallSeverity)
}

// =============================================================================
// Smart mode
// =============================================================================

func TestCoordinator_SmartSkipsSecondaryWhenPrimariesAgree(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeverityMalicious))
	ab := newFakeClient(entity.ProviderAbuseIPDB, verdict(entity.ProviderAbuseIPDB, entity.SeverityMalicious))
	sc := newFakeClient(entity.ProviderScamalytics, verdict(entity.ProviderScamalytics, entity.SeverityClean))
	admitter := newCountingAdmitter()

	c := newTestCoordinator(admitter, vt, ab, sc)
	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: entity.ScanModeSmart})
	require.NoError(t, err)

	requireFinalized(t, agg)
	slot, _ := agg.Slot(entity.ProviderScamalytics)
	assert.Equal(t, entity.StatusSkipped, slot.Status)
	assert.Contains(t, slot.SkipReason, "2 of 2")
	assert.Equal(t, 0, admitter.Calls(entity.ProviderScamalytics))
	assert.Equal(t, int32(0), sc.calls.Load())
	assert.Equal(t, entity.SeverityMalicious, agg.OverallSeverity)
}

func TestCoordinator_SmartInvokesSecondaryBelowThreshold(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeverityMalicious))
	ab := newFakeClient(entity.ProviderAbuseIPDB, verdict(entity.ProviderAbuseIPDB, entity.SeverityClean))
	sc := newFakeClient(entity.ProviderScamalytics, verdict(entity.ProviderScamalytics, entity.SeverityClean))
	admitter := newCountingAdmitter()

	c := newTestCoordinator(admitter, vt, ab, sc)
	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: entity.ScanModeSmart})
	require.NoError(t, err)

	slot, _ := agg.Slot(entity.ProviderScamalytics)
	assert.Equal(t, entity.StatusSuccess, slot.Status)
	assert.Equal(t, 1, admitter.Calls(entity.ProviderScamalytics))
	assert.Equal(t, int32(1), sc.calls.Load())
	assert.Equal(t, entity.SeverityMalicious, agg.OverallSeverity)
}

func TestCoordinator_SmartPrimariesFinishBeforeSecondary(t *testing.T) {
	var finished atomic.Int32
	slowClean := func(p entity.Provider) scanFunc {
		return func(ctx context.Context, ip, key string) (*entity.ServiceScanResult, error) {
			time.Sleep(20 * time.Millisecond)
			defer finished.Add(1)
			return verdict(p, entity.SeverityClean)(ctx, ip, key)
		}
	}

	var primariesDone int32
	vt := newFakeClient(entity.ProviderVirusTotal, slowClean(entity.ProviderVirusTotal))
	ab := newFakeClient(entity.ProviderAbuseIPDB, slowClean(entity.ProviderAbuseIPDB))
	sc := newFakeClient(entity.ProviderScamalytics, func(ctx context.Context, ip, key string) (*entity.ServiceScanResult, error) {
		primariesDone = finished.Load()
		return verdict(entity.ProviderScamalytics, entity.SeverityClean)(ctx, ip, key)
	})

	c := newTestCoordinator(newCountingAdmitter(), vt, ab, sc)
	_, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: entity.ScanModeSmart})
	require.NoError(t, err)

	assert.Equal(t, int32(2), primariesDone)
}

func TestCoordinator_SmartPolicyIsConfigurable(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeveritySuspicious))
	ab := newFakeClient(entity.ProviderAbuseIPDB, verdict(entity.ProviderAbuseIPDB, entity.SeverityClean))
	sc := newFakeClient(entity.ProviderScamalytics, verdict(entity.ProviderScamalytics, entity.SeverityClean))

	c := NewCoordinator(threatintel.NewRegistry(vt, ab, sc), newCountingAdmitter(), CoordinatorConfig{
		Smart:  SmartScanPolicy{Primary: []entity.Provider{entity.ProviderVirusTotal}, Threshold: 1},
		Logger: testLogger(),
	})
	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: entity.ScanModeSmart})
	require.NoError(t, err)

	for _, p := range []entity.Provider{entity.ProviderAbuseIPDB, entity.ProviderScamalytics} {
		slot, _ := agg.Slot(p)
		assert.Equal(t, entity.StatusSkipped, slot.Status, p)
	}
	assert.Equal(t, int32(0), ab.calls.Load())
	assert.Equal(t, int32(0), sc.calls.Load())
}

// =============================================================================
// Key selection
// =============================================================================

func TestCoordinator_OldestKeyFirst(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeverityClean))
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := entity.KeySet{
		entity.ProviderVirusTotal: {
			{ID: "newer", Secret: "s-newer", AddedAt: t0.Add(time.Hour)},
			{ID: "older", Secret: "s-older", AddedAt: t0},
		},
	}

	c := NewCoordinator(threatintel.NewRegistry(vt), newCountingAdmitter(), CoordinatorConfig{
		Providers: []entity.Provider{entity.ProviderVirusTotal},
		Logger:    testLogger(),
	})
	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: keys, Mode: entity.ScanModeFull})
	require.NoError(t, err)

	slot, _ := agg.Slot(entity.ProviderVirusTotal)
	assert.Equal(t, "older", slot.UsedKeyID)
	assert.Equal(t, []string{"s-older"}, vt.keys)
}

func TestCoordinator_KeyPoolFallback(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(map[entity.Provider]entity.RateLimitConfig{
		entity.ProviderVirusTotal: {MaxRequestsPerWindow: 1, Window: time.Minute},
	}, nil, ratelimit.WithClock(func() time.Time { return now }), ratelimit.WithLogger(testLogger()))

	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeverityClean))
	keys := entity.KeySet{
		entity.ProviderVirusTotal: {
			{ID: "key-a", Secret: "a", AddedAt: now.Add(-2 * time.Hour)},
			{ID: "key-b", Secret: "b", AddedAt: now.Add(-time.Hour)},
		},
	}
	c := NewCoordinator(threatintel.NewRegistry(vt), limiter, CoordinatorConfig{
		Providers: []entity.Provider{entity.ProviderVirusTotal},
		Logger:    testLogger(),
	})

	require.True(t, limiter.TryAdmit(context.Background(), entity.ProviderVirusTotal, "key-a"))

	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: keys, Mode: entity.ScanModeFull})
	require.NoError(t, err)
	slot, _ := agg.Slot(entity.ProviderVirusTotal)
	assert.Equal(t, entity.StatusSuccess, slot.Status)
	assert.Equal(t, "key-b", slot.UsedKeyID)

	agg, err = c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: keys, Mode: entity.ScanModeFull})
	require.NoError(t, err)
	slot, _ = agg.Slot(entity.ProviderVirusTotal)
	assert.Equal(t, entity.StatusRateLimited, slot.Status)
	assert.Empty(t, slot.UsedKeyID)
	assert.Equal(t, int32(1), vt.calls.Load())
}

// =============================================================================
// Failures
// =============================================================================

func TestCoordinator_ProviderFailuresAreIsolated(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, func(context.Context, string, string) (*entity.ServiceScanResult, error) {
		return nil, errors.New("malformed response")
	})
	ab := newFakeClient(entity.ProviderAbuseIPDB, func(context.Context, string, string) (*entity.ServiceScanResult, error) {
		panic("decoder exploded")
	})
	sc := newFakeClient(entity.ProviderScamalytics, verdict(entity.ProviderScamalytics, entity.SeveritySuspicious))

	c := newTestCoordinator(newCountingAdmitter(), vt, ab, sc)
	agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: entity.ScanModeFull})
	require.NoError(t, err)
	requireFinalized(t, agg)

	slot, _ := agg.Slot(entity.ProviderVirusTotal)
	assert.Equal(t, entity.StatusError, slot.Status)
	assert.Equal(t, "malformed response", slot.ErrorDetail)
	assert.Equal(t, "vt-1", slot.UsedKeyID)

	slot, _ = agg.Slot(entity.ProviderAbuseIPDB)
	assert.Equal(t, entity.StatusError, slot.Status)
	assert.Contains(t, slot.ErrorDetail, "decoder exploded")
	assert.Equal(t, "ab-1", slot.UsedKeyID)

	slot, _ = agg.Slot(entity.ProviderScamalytics)
	assert.Equal(t, entity.StatusSuccess, slot.Status)
	assert.Equal(t, entity.SeveritySuspicious, agg.OverallSeverity)
}

func TestCoordinator_NeverLeavesPendingSlots(t *testing.T) {
	outcomes := map[string]scanFunc{
		"error": func(context.Context, string, string) (*entity.ServiceScanResult, error) {
			return nil, errors.New("boom")
		},
		"panic": func(context.Context, string, string) (*entity.ServiceScanResult, error) {
			panic("boom")
		},
		"nil": func(context.Context, string, string) (*entity.ServiceScanResult, error) {
			return nil, nil
		},
		"pending": func(_ context.Context, ip, _ string) (*entity.ServiceScanResult, error) {
			return &entity.ServiceScanResult{IP: ip, Status: entity.StatusPending}, nil
		},
		"malicious": verdict(entity.ProviderVirusTotal, entity.SeverityMalicious),
	}

	for _, mode := range []entity.ScanMode{entity.ScanModeFull, entity.ScanModeSmart} {
		for name, fn := range outcomes {
			t.Run(string(mode)+"/"+name, func(t *testing.T) {
				c := newTestCoordinator(newCountingAdmitter(),
					newFakeClient(entity.ProviderVirusTotal, fn),
					newFakeClient(entity.ProviderAbuseIPDB, fn),
					newFakeClient(entity.ProviderScamalytics, fn),
				)
				agg, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: mode})
				require.NoError(t, err)
				requireFinalized(t, agg)
				assert.Len(t, agg.Results, 3)
			})
		}
	}
}

func TestCoordinator_OrchestrationErrors(t *testing.T) {
	vt := newFakeClient(entity.ProviderVirusTotal, verdict(entity.ProviderVirusTotal, entity.SeverityClean))
	c := newTestCoordinator(newCountingAdmitter(), vt)

	_, err := c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Keys: oneKeyEach(), Mode: entity.ScanModeFull})
	assert.ErrorIs(t, err, ErrNoClient)

	_, err = c.ScanIP(context.Background(), ScanRequest{Keys: oneKeyEach(), Mode: entity.ScanModeFull})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.ScanIP(context.Background(), ScanRequest{IP: "45.33.32.156", Mode: "turbo"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, int32(0), vt.calls.Load())
}
