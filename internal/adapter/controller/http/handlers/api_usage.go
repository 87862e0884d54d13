package handlers

import (
	"context"
	"net/http"

	"github.com/kr1s57/ipreputation/internal/entity"
	"github.com/kr1s57/ipreputation/internal/usecase/ratelimit"
)

// UsageReader reports the current admission budget of a key
type UsageReader interface {
	Usage(ctx context.Context, provider entity.Provider, keyID string) ratelimit.UsageSnapshot
	Config(provider entity.Provider) (entity.RateLimitConfig, bool)
}

// ProviderUsage is the budget of every key of one provider
type ProviderUsage struct {
	Provider entity.Provider           `json:"provider"`
	Limits   *entity.RateLimitConfig   `json:"limits,omitempty"`
	Keys     []ratelimit.UsageSnapshot `json:"keys"`
}

// APIUsageHandler handles API usage HTTP requests
type APIUsageHandler struct {
	limiter UsageReader
	keys    KeySnapshotter
}

// NewAPIUsageHandler creates a new handler
func NewAPIUsageHandler(limiter UsageReader, keys KeySnapshotter) *APIUsageHandler {
	return &APIUsageHandler{limiter: limiter, keys: keys}
}

// GetAllProviders returns the rate-limit usage of every configured key
// GET /api/v1/usage
func (h *APIUsageHandler) GetAllProviders(w http.ResponseWriter, r *http.Request) {
	snapshot := h.keys.Snapshot()

	providers := make([]ProviderUsage, 0, len(entity.AllProviders()))
	for _, p := range entity.AllProviders() {
		usage := ProviderUsage{
			Provider: p,
			Keys:     []ratelimit.UsageSnapshot{},
		}
		if cfg, ok := h.limiter.Config(p); ok {
			usage.Limits = &cfg
		}
		for _, key := range snapshot.Sorted(p) {
			usage.Keys = append(usage.Keys, h.limiter.Usage(r.Context(), p, key.ID))
		}
		providers = append(providers, usage)
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
	})
}
