package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kr1s57/ipreputation/internal/entity"
	"github.com/kr1s57/ipreputation/internal/usecase/keys"
)

// KeyService manages provider API keys
type KeyService interface {
	Add(ctx context.Context, provider entity.Provider, secret, label string) (*entity.APIKeyConfig, error)
	Remove(ctx context.Context, provider entity.Provider, id string) error
	List(provider entity.Provider) []entity.APIKeyConfig
}

// KeysHandler handles API key HTTP requests
type KeysHandler struct {
	service KeyService
}

// NewKeysHandler creates a new handler
func NewKeysHandler(service KeyService) *KeysHandler {
	return &KeysHandler{service: service}
}

// AddKeyRequest represents the request body for adding a key
type AddKeyRequest struct {
	Secret string `json:"secret"`
	Label  string `json:"label"`
}

// ListAll returns the masked key pools of every provider
// GET /api/v1/keys
func (h *KeysHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	pools := make(map[entity.Provider][]entity.APIKeyConfig)
	for _, p := range entity.AllProviders() {
		pools[p] = nonNilKeys(h.service.List(p))
	}
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"keys": pools,
	})
}

// List returns the masked key pool of one provider
// GET /api/v1/keys/{provider}
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	provider, err := entity.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		ErrorResponse(w, http.StatusNotFound, "Unknown provider", err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"provider": provider,
		"keys":     nonNilKeys(h.service.List(provider)),
	})
}

// Add appends a key to a provider's pool
// POST /api/v1/keys/{provider}
func (h *KeysHandler) Add(w http.ResponseWriter, r *http.Request) {
	provider, err := entity.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		ErrorResponse(w, http.StatusNotFound, "Unknown provider", err)
		return
	}

	var req AddKeyRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	key, err := h.service.Add(r.Context(), provider, req.Secret, req.Label)
	switch {
	case errors.Is(err, keys.ErrEmptySecret):
		ErrorResponse(w, http.StatusBadRequest, "API key secret is required", nil)
		return
	case errors.Is(err, keys.ErrDuplicate):
		ErrorResponse(w, http.StatusConflict, "API key already configured", nil)
		return
	case err != nil:
		ErrorResponse(w, http.StatusInternalServerError, "Failed to add API key", err)
		return
	}

	JSONResponse(w, http.StatusCreated, key)
}

// Remove deletes a key by id
// DELETE /api/v1/keys/{provider}/{id}
func (h *KeysHandler) Remove(w http.ResponseWriter, r *http.Request) {
	provider, err := entity.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		ErrorResponse(w, http.StatusNotFound, "Unknown provider", err)
		return
	}

	err = h.service.Remove(r.Context(), provider, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, keys.ErrKeyNotFound):
		ErrorResponse(w, http.StatusNotFound, "API key not found", nil)
		return
	case err != nil:
		ErrorResponse(w, http.StatusInternalServerError, "Failed to remove API key", err)
		return
	}

	SuccessResponse(w, "API key removed", nil)
}

func nonNilKeys(k []entity.APIKeyConfig) []entity.APIKeyConfig {
	if k == nil {
		return []entity.APIKeyConfig{}
	}
	return k
}
