package entity

import (
	"sort"
	"time"
)

// APIKeyConfig is one credential in a provider's key pool
type APIKeyConfig struct {
	ID      string    `json:"id" yaml:"id"`
	Secret  string    `json:"secret" yaml:"secret"`
	Label   string    `json:"label,omitempty" yaml:"label,omitempty"`
	AddedAt time.Time `json:"added_at" yaml:"added_at"`
}

// Masked returns a copy safe to expose over the API
func (k APIKeyConfig) Masked() APIKeyConfig {
	out := k
	switch {
	case len(k.Secret) > 8:
		out.Secret = k.Secret[:4] + "****" + k.Secret[len(k.Secret)-4:]
	case len(k.Secret) > 0:
		out.Secret = "****"
	}
	return out
}

// KeySet maps each provider to its key pool
type KeySet map[Provider][]APIKeyConfig

// Sorted returns the provider's pool oldest first (ties broken by ID)
func (ks KeySet) Sorted(p Provider) []APIKeyConfig {
	keys := append([]APIKeyConfig(nil), ks[p]...)
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].AddedAt.Equal(keys[j].AddedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].AddedAt.Before(keys[j].AddedAt)
	})
	return keys
}

// Clone returns a deep copy so a batch works on a stable snapshot
func (ks KeySet) Clone() KeySet {
	out := make(KeySet, len(ks))
	for p, keys := range ks {
		out[p] = append([]APIKeyConfig(nil), keys...)
	}
	return out
}

// RateLimitConfig is the static admission policy of a provider.
// DailyQuota 0 means no daily quota is enforced.
type RateLimitConfig struct {
	MaxRequestsPerWindow int           `json:"max_requests_per_window"`
	Window               time.Duration `json:"window"`
	DailyQuota           int           `json:"daily_quota"`
}

// DefaultRateLimits contains the free-tier limits of each provider
var DefaultRateLimits = map[Provider]RateLimitConfig{
	ProviderVirusTotal:  {MaxRequestsPerWindow: 4, Window: time.Minute, DailyQuota: 500},
	ProviderAbuseIPDB:   {MaxRequestsPerWindow: 20, Window: time.Minute, DailyQuota: 1000},
	ProviderScamalytics: {MaxRequestsPerWindow: 4, Window: time.Minute, DailyQuota: 150}, // 5000/month
}

// KeyUsageState is the mutable admission history of one provider key
type KeyUsageState struct {
	WindowTimestamps []time.Time    `json:"window_timestamps"`
	DailyCounts      map[string]int `json:"daily_counts"` // "YYYY-MM-DD" (UTC) -> count
}

// NewKeyUsageState returns an empty usage state
func NewKeyUsageState() *KeyUsageState {
	return &KeyUsageState{DailyCounts: make(map[string]int)}
}
