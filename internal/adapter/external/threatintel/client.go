package threatintel

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

// Client is the contract every provider adapter satisfies.
//
// Expected outcomes (missing key, no record, provider-side limits) are
// returned as a result with the matching status. Only unexpected failures
// (malformed input or response, transport errors) are returned as errors.
// Severity is Unknown whenever the status is not success.
type Client interface {
	Provider() entity.Provider
	Scan(ctx context.Context, ip, apiKey string) (*entity.ServiceScanResult, error)
}

// Registry is the closed lookup table from provider to adapter
type Registry struct {
	clients map[entity.Provider]Client
}

// NewRegistry indexes clients by the provider they serve
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[entity.Provider]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Provider()] = c
	}
	return r
}

// MockConfig configures the built-in data generators
type MockConfig struct {
	Latency time.Duration // simulated network delay per call
}

// NewDefaultRegistry registers the three built-in adapters
func NewDefaultRegistry(cfg MockConfig) *Registry {
	return NewRegistry(
		NewVirusTotalClient(VirusTotalConfig{Latency: cfg.Latency}),
		NewAbuseIPDBClient(AbuseIPDBConfig{Latency: cfg.Latency}),
		NewScamalyticsClient(ScamalyticsConfig{Latency: cfg.Latency}),
	)
}

// Get returns the adapter for a provider
func (r *Registry) Get(p entity.Provider) (Client, bool) {
	c, ok := r.clients[p]
	return c, ok
}

// Providers returns registered providers in canonical order
func (r *Registry) Providers() []entity.Provider {
	var out []entity.Provider
	for _, p := range entity.AllProviders() {
		if _, ok := r.clients[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// simulateLatency waits for d or until ctx is done
func simulateLatency(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lastOctet parses an IPv4 address and returns its last octet
func lastOctet(ip string) (int, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", ip)
	}
	return int(parsed[3]), nil
}

// isPrivate reports whether the address is in a private or loopback range
func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && (parsed.IsPrivate() || parsed.IsLoopback())
}

func keyMissing(p entity.Provider, ip string) *entity.ServiceScanResult {
	return &entity.ServiceScanResult{
		Provider:    p,
		IP:          ip,
		Status:      entity.StatusKeyMissing,
		Severity:    entity.SeverityUnknown,
		ErrorDetail: fmt.Sprintf("API key for %s not provided.", p),
	}
}
