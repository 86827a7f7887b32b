package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/server/middleware"
	"github.com/loomhq/loom/internal/service"
)

// KeyHandler manages the API key lifecycle over HTTP and exchanges
// credentials for signed tokens.
type KeyHandler struct {
	keys   *service.KeyManager
	tokens *service.TokenService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys *service.KeyManager, tokens *service.TokenService) *KeyHandler {
	return &KeyHandler{keys: keys, tokens: tokens}
}

// ---------------------------------------------------------------------------
// Token exchange
// ---------------------------------------------------------------------------

// IssueToken exchanges the authenticated credential for a signed token.
// POST /api/v1/auth/token
func (h *KeyHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	key, err := h.keys.GetKey(r.Context(), identity.Sub)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "API key revoked or disabled")
		return
	}

	token, err := h.tokens.Generate(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, model.TokenResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresAt: time.Now().Add(h.tokens.TTL()).UTC(),
	})
}

// WhoAmI echoes the request identity established by the authentication
// middleware.
// GET /api/v1/auth/whoami
func (h *KeyHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// Status reports whether the caller presented a valid credential. The route
// sits behind the optional-auth middleware, so anonymous requests succeed.
// GET /api/v1/status
func (h *KeyHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	resp := map[string]interface{}{
		"status":        "ok",
		"authenticated": identity != nil,
	}
	if identity != nil {
		resp["sub"] = identity.Sub
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Key management
// ---------------------------------------------------------------------------

// ListKeys returns all key records with the key hash redacted.
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	writeJSON(w, http.StatusOK, model.KeyListResponse{
		Keys:  keys,
		Count: len(keys),
	})
}

// createKeyRequest is the expected payload for CreateKey.
type createKeyRequest struct {
	Name          string   `json:"name"`
	ExpiresInDays int      `json:"expires_in_days,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	UsageLimit    int64    `json:"usage_limit,omitempty"`
}

// CreateKey generates a new API key. The plaintext secret appears in this
// response only; it is not retrievable afterwards.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	secret, record, err := h.keys.GenerateKey(r.Context(), req.Name, service.GenerateOptions{
		ExpiresInDays: req.ExpiresInDays,
		Permissions:   req.Permissions,
		UsageLimit:    req.UsageLimit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateKeyResponse{
		Key:    secret,
		Record: record.Redacted(),
	})
}

// GetKey returns a single redacted key record.
// GET /api/v1/keys/{keyID}
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyID")
	key, err := h.keys.GetKey(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// updateKeyRequest is the expected payload for UpdateKey. Absent fields are
// left unchanged.
type updateKeyRequest struct {
	Name        *string  `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	UsageLimit  *int64   `json:"usage_limit,omitempty"`
}

// UpdateKey applies a partial update of the mutable fields.
// PATCH /api/v1/keys/{keyID}
func (h *KeyHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyID")

	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ok, err := h.keys.UpdateKey(r.Context(), id, service.UpdatePatch{
		Name:        req.Name,
		Permissions: req.Permissions,
		UsageLimit:  req.UsageLimit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update key")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}

	key, err := h.keys.GetKey(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// RevokeKey hard-deletes a key, immediately invalidating the raw secret and
// any outstanding tokens derived from it.
// DELETE /api/v1/keys/{keyID}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyID")

	ok, err := h.keys.RevokeKey(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to revoke key")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// EnableKey re-enables a disabled key.
// POST /api/v1/keys/{keyID}/enable
func (h *KeyHandler) EnableKey(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

// DisableKey disables a key without deleting it.
// POST /api/v1/keys/{keyID}/disable
func (h *KeyHandler) DisableKey(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *KeyHandler) toggle(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "keyID")

	ok, err := h.keys.ToggleKey(r.Context(), id, enabled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to toggle key")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}
