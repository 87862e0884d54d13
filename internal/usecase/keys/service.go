package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kr1s57/ipreputation/internal/entity"
)

var (
	ErrKeyNotFound = errors.New("api key not found")
	ErrEmptySecret = errors.New("api key secret is empty")
	ErrDuplicate   = errors.New("api key already configured")
)

// KeyRepository persists the key pools
type KeyRepository interface {
	LoadKeys(ctx context.Context) (entity.KeySet, error)
	SaveKeys(ctx context.Context, keys entity.KeySet) error
}

// Service manages the API key pool of every provider
type Service struct {
	repo   KeyRepository
	mu     sync.RWMutex
	keys   entity.KeySet
	logger *slog.Logger
	now    func() time.Time
}

// NewService loads the stored key pools
func NewService(ctx context.Context, repo KeyRepository, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keys, err := repo.LoadKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}
	if keys == nil {
		keys = make(entity.KeySet)
	}

	return &Service{
		repo:   repo,
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Add appends a new key to a provider pool
func (s *Service) Add(ctx context.Context, provider entity.Provider, secret, label string) (*entity.APIKeyConfig, error) {
	if !provider.IsKnown() {
		return nil, entity.ErrUnknownProvider
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys[provider] {
		if k.Secret == secret {
			return nil, ErrDuplicate
		}
	}

	key := entity.APIKeyConfig{
		ID:      uuid.NewString(),
		Secret:  secret,
		Label:   strings.TrimSpace(label),
		AddedAt: s.now().UTC(),
	}

	next := s.keys.Clone()
	next[provider] = append(next[provider], key)
	if err := s.repo.SaveKeys(ctx, next); err != nil {
		return nil, fmt.Errorf("save api keys: %w", err)
	}
	s.keys = next

	s.logger.Info("[KEYS] API key added",
		"provider", provider,
		"key_id", key.ID,
		"pool_size", len(next[provider]))

	masked := key.Masked()
	return &masked, nil
}

// Remove deletes a key from a provider pool
func (s *Service) Remove(ctx context.Context, provider entity.Provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := s.keys[provider]
	idx := -1
	for i, k := range pool {
		if k.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrKeyNotFound
	}

	next := s.keys.Clone()
	next[provider] = append(next[provider][:idx], next[provider][idx+1:]...)
	if len(next[provider]) == 0 {
		delete(next, provider)
	}
	if err := s.repo.SaveKeys(ctx, next); err != nil {
		return fmt.Errorf("save api keys: %w", err)
	}
	s.keys = next

	s.logger.Info("[KEYS] API key removed", "provider", provider, "key_id", id)
	return nil
}

// List returns a provider pool, oldest first, with secrets masked
func (s *Service) List(provider entity.Provider) []entity.APIKeyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.keys.Sorted(provider)
	out := make([]entity.APIKeyConfig, 0, len(sorted))
	for _, k := range sorted {
		out = append(out, k.Masked())
	}
	return out
}

// Snapshot returns a copy of every pool for one batch
func (s *Service) Snapshot() entity.KeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.Clone()
}

// Seed adds keys from configuration that are not stored yet
func (s *Service) Seed(ctx context.Context, seeds map[entity.Provider]string) error {
	for _, p := range entity.AllProviders() {
		secret, ok := seeds[p]
		if !ok {
			continue
		}
		_, err := s.Add(ctx, p, secret, "env")
		switch {
		case err == nil, errors.Is(err, ErrDuplicate), errors.Is(err, ErrEmptySecret):
		default:
			return fmt.Errorf("seed %s key: %w", p, err)
		}
	}
	return nil
}
