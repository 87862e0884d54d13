package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

const (
	dayKeyLayout   = "2006-01-02"
	dailyRetention = 7 * 24 * time.Hour
	persistTimeout = 5 * time.Second
)

// UsageStore persists per-key usage state between process runs
type UsageStore interface {
	LoadKeyUsage(ctx context.Context, provider entity.Provider, keyID string) (*entity.KeyUsageState, error)
	SaveKeyUsage(ctx context.Context, provider entity.Provider, keyID string, state *entity.KeyUsageState) error
}

type usageKey struct {
	provider entity.Provider
	keyID    string
}

// keyUsage is the state of one key; mu covers admission, load and persist
type keyUsage struct {
	mu     sync.Mutex
	state  *entity.KeyUsageState
	loaded bool
}

// Limiter enforces a sliding window and an optional daily quota per provider key.
// Admission and recording of a key happen under that key's lock, so concurrent
// scans sharing a key can never be admitted past its budget.
type Limiter struct {
	mu      sync.Mutex // guards keys only
	keys    map[usageKey]*keyUsage
	configs map[entity.Provider]entity.RateLimitConfig
	store   UsageStore
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the limiter logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// NewLimiter creates a limiter. A nil store keeps usage in memory only.
func NewLimiter(configs map[entity.Provider]entity.RateLimitConfig, store UsageStore, opts ...Option) *Limiter {
	cfgs := make(map[entity.Provider]entity.RateLimitConfig, len(configs))
	for p, c := range configs {
		cfgs[p] = c
	}

	l := &Limiter{
		configs: cfgs,
		keys:    make(map[usageKey]*keyUsage),
		store:   store,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the admission policy of a provider
func (l *Limiter) Config(provider entity.Provider) (entity.RateLimitConfig, bool) {
	cfg, ok := l.configs[provider]
	return cfg, ok
}

// TryAdmit checks and, on success, records one request for the provider key.
// A true result means the request has already been counted.
func (l *Limiter) TryAdmit(ctx context.Context, provider entity.Provider, keyID string) bool {
	ku := l.key(provider, keyID)
	ku.mu.Lock()
	defer ku.mu.Unlock()

	now := l.now()
	state := l.stateLocked(ctx, ku, provider, keyID)
	cfg, limited := l.configs[provider]

	if limited {
		pruneWindow(state, now, cfg.Window)
		if len(state.WindowTimestamps) >= cfg.MaxRequestsPerWindow {
			l.logger.Debug("[RATELIMIT] Window exhausted",
				"provider", provider,
				"key_id", keyID,
				"used", len(state.WindowTimestamps),
				"limit", cfg.MaxRequestsPerWindow)
			return false
		}
	}

	today := dayKey(now)
	pruneDaily(state, now)
	if limited && cfg.DailyQuota > 0 && state.DailyCounts[today] >= cfg.DailyQuota {
		l.logger.Debug("[RATELIMIT] Daily quota exhausted",
			"provider", provider,
			"key_id", keyID,
			"quota", cfg.DailyQuota)
		return false
	}

	state.WindowTimestamps = append(state.WindowTimestamps, now)
	state.DailyCounts[today]++

	l.persistLocked(ctx, provider, keyID, state)
	return true
}

// UsageSnapshot describes the current budget of one key
type UsageSnapshot struct {
	Provider        entity.Provider `json:"provider"`
	KeyID           string          `json:"key_id"`
	WindowUsed      int             `json:"window_used"`
	WindowLimit     int             `json:"window_limit"`
	WindowRemaining int             `json:"window_remaining"`
	TodayUsed       int             `json:"today_used"`
	DailyQuota      int             `json:"daily_quota"` // 0 = no quota
	DailyRemaining  int             `json:"daily_remaining"`
}

// Usage returns the key's current budget without recording anything
func (l *Limiter) Usage(ctx context.Context, provider entity.Provider, keyID string) UsageSnapshot {
	ku := l.key(provider, keyID)
	ku.mu.Lock()
	defer ku.mu.Unlock()

	now := l.now()
	state := l.stateLocked(ctx, ku, provider, keyID)
	cfg := l.configs[provider]

	windowUsed := 0
	for _, ts := range state.WindowTimestamps {
		if now.Sub(ts) < cfg.Window {
			windowUsed++
		}
	}

	snap := UsageSnapshot{
		Provider:    provider,
		KeyID:       keyID,
		WindowUsed:  windowUsed,
		WindowLimit: cfg.MaxRequestsPerWindow,
		TodayUsed:   state.DailyCounts[dayKey(now)],
		DailyQuota:  cfg.DailyQuota,
	}
	snap.WindowRemaining = max(0, cfg.MaxRequestsPerWindow-windowUsed)
	if cfg.DailyQuota > 0 {
		snap.DailyRemaining = max(0, cfg.DailyQuota-snap.TodayUsed)
	}
	return snap
}

// key returns the entry of a provider key, creating it on first use
func (l *Limiter) key(provider entity.Provider, keyID string) *keyUsage {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := usageKey{provider: provider, keyID: keyID}
	ku, ok := l.keys[k]
	if !ok {
		ku = &keyUsage{}
		l.keys[k] = ku
	}
	return ku
}

// stateLocked returns the key's state, loading it from the store on first use.
// Callers hold ku.mu.
func (l *Limiter) stateLocked(ctx context.Context, ku *keyUsage, provider entity.Provider, keyID string) *entity.KeyUsageState {
	if ku.loaded {
		return ku.state
	}

	state := entity.NewKeyUsageState()
	if l.store != nil {
		loaded, err := l.store.LoadKeyUsage(ctx, provider, keyID)
		switch {
		case err != nil:
			l.logger.Warn("[RATELIMIT] Failed to load key usage, starting empty",
				"provider", provider,
				"key_id", keyID,
				"error", err)
		case loaded != nil:
			state = loaded
			if state.DailyCounts == nil {
				state.DailyCounts = make(map[string]int)
			}
		}
	}

	ku.state = state
	ku.loaded = true
	return state
}

// persistLocked saves a copy of the state; callers hold the key's lock so
// writes of one key reach the store in admission order
func (l *Limiter) persistLocked(ctx context.Context, provider entity.Provider, keyID string, state *entity.KeyUsageState) {
	if l.store == nil {
		return
	}

	snapshot := &entity.KeyUsageState{
		WindowTimestamps: append([]time.Time(nil), state.WindowTimestamps...),
		DailyCounts:      make(map[string]int, len(state.DailyCounts)),
	}
	for day, n := range state.DailyCounts {
		snapshot.DailyCounts[day] = n
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := l.store.SaveKeyUsage(saveCtx, provider, keyID, snapshot); err != nil {
		l.logger.Warn("[RATELIMIT] Failed to persist key usage",
			"provider", provider,
			"key_id", keyID,
			"error", err)
	}
}

// pruneWindow drops timestamps that fell out of the sliding window
func pruneWindow(state *entity.KeyUsageState, now time.Time, window time.Duration) {
	kept := state.WindowTimestamps[:0]
	for _, ts := range state.WindowTimestamps {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	state.WindowTimestamps = kept
}

// pruneDaily drops day counters older than the retention period
func pruneDaily(state *entity.KeyUsageState, now time.Time) {
	today, _ := time.Parse(dayKeyLayout, dayKey(now))
	for day := range state.DailyCounts {
		t, err := time.Parse(dayKeyLayout, day)
		if err != nil || today.Sub(t) > dailyRetention {
			delete(state.DailyCounts, day)
		}
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}
