package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kr1s57/ipreputation/internal/config"
	"github.com/kr1s57/ipreputation/internal/entity"
)

// usageTTL outlives the limiter's daily retention so stale keys expire on their own
const usageTTL = 8 * 24 * time.Hour

// Store persists key usage, scan history and API keys as JSON values in Redis
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore connects to Redis and verifies the connection
func NewStore(ctx context.Context, cfg *config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "ipreputation"
	}
	return &Store{client: client, prefix: prefix}
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) usageKey(provider entity.Provider, keyID string) string {
	return fmt.Sprintf("%s:usage:%s:%s", s.prefix, provider, keyID)
}

func (s *Store) historyKey() string {
	return s.prefix + ":history"
}

func (s *Store) keysKey() string {
	return s.prefix + ":keys"
}

// LoadKeyUsage returns the stored usage of a key, nil when absent
func (s *Store) LoadKeyUsage(ctx context.Context, provider entity.Provider, keyID string) (*entity.KeyUsageState, error) {
	var state entity.KeyUsageState
	found, err := s.getJSON(ctx, s.usageKey(provider, keyID), &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SaveKeyUsage replaces the stored usage of a key
func (s *Store) SaveKeyUsage(ctx context.Context, provider entity.Provider, keyID string, state *entity.KeyUsageState) error {
	return s.setJSON(ctx, s.usageKey(provider, keyID), state, usageTTL)
}

// LoadHistory returns the stored scan collection
func (s *Store) LoadHistory(ctx context.Context) ([]entity.AggregatedScanResult, error) {
	var scans []entity.AggregatedScanResult
	if _, err := s.getJSON(ctx, s.historyKey(), &scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// SaveHistory replaces the stored scan collection
func (s *Store) SaveHistory(ctx context.Context, scans []entity.AggregatedScanResult) error {
	return s.setJSON(ctx, s.historyKey(), scans, 0)
}

// LoadKeys returns the stored key pools
func (s *Store) LoadKeys(ctx context.Context) (entity.KeySet, error) {
	keys := make(entity.KeySet)
	if _, err := s.getJSON(ctx, s.keysKey(), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// SaveKeys replaces the stored key pools
func (s *Store) SaveKeys(ctx context.Context, keys entity.KeySet) error {
	return s.setJSON(ctx, s.keysKey(), keys, 0)
}

func (s *Store) getJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
