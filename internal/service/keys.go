package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/model"
)

// ErrInvalidKey is returned for every key validation failure: unknown key,
// disabled, expired, or over the usage limit. The conditions are deliberately
// collapsed so a caller cannot distinguish a wrong secret from an expired one.
var ErrInvalidKey = errors.New("invalid api key")

// GenerateOptions are the optional parameters for key generation.
type GenerateOptions struct {
	// ExpiresInDays sets an absolute expiry relative to now. Zero means the
	// key never expires. Negative values are permitted and yield an
	// already-expired key.
	ExpiresInDays int
	// Permissions granted to the key. Defaults to model.DefaultPermissions.
	Permissions []string
	// UsageLimit caps successful validations. Zero means unlimited.
	UsageLimit int64
}

// UpdatePatch is a partial update of a key's mutable fields. Nil fields are
// left unchanged.
type UpdatePatch struct {
	Name        *string
	Permissions []string
	UsageLimit  *int64
}

// KeyManager is the sole authority for the API key table. All other
// components query it; none mutate records directly.
type KeyManager struct {
	store config.KeyStore
}

// NewKeyManager creates a KeyManager on top of the given store.
func NewKeyManager(store config.KeyStore) *KeyManager {
	return &KeyManager{store: store}
}

// GenerateKey creates a new credential and returns the plaintext secret and
// the stored record. The secret is shown exactly once; only its SHA-256 hash
// is retained. The returned record carries the real hash for internal use —
// display paths go through GetKey/ListKeys, which redact it.
func (m *KeyManager) GenerateKey(ctx context.Context, name string, opts GenerateOptions) (string, *model.APIKey, error) {
	now := time.Now().UTC()

	// The id combines wall time and random bytes; collision avoidance,
	// not a cryptographic uniqueness guarantee.
	id := fmt.Sprintf("%d-%s", now.UnixMilli(), randomHex(8))

	// sk_<8 hex>_<64 hex>: a short identifying prefix plus a high-entropy
	// secret segment.
	secret := "sk_" + randomHex(4) + "_" + randomHex(32)

	permissions := opts.Permissions
	if len(permissions) == 0 {
		permissions = model.DefaultPermissions()
	}

	var expiresAt *time.Time
	if opts.ExpiresInDays != 0 {
		t := now.Add(time.Duration(opts.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	var usageLimit *int64
	if opts.UsageLimit > 0 {
		limit := opts.UsageLimit
		usageLimit = &limit
	}

	key := &model.APIKey{
		ID:          id,
		Name:        name,
		KeyHash:     config.HashAPIKey(secret),
		KeyPrefix:   secret[:8] + "...",
		Permissions: permissions,
		Enabled:     true,
		UsageLimit:  usageLimit,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}

	if err := m.store.CreateKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}
	return secret, key, nil
}

// ValidateKey checks a raw secret against the stored key hashes. It has no
// side effects: usage metering is a separate explicit IncrementUsage call, so
// validation is safe for speculative and read-only checks.
func (m *KeyManager) ValidateKey(ctx context.Context, secret string) (*model.APIKey, error) {
	key, err := m.store.GetKeyByHash(ctx, config.HashAPIKey(secret))
	if err != nil {
		return nil, ErrInvalidKey
	}

	if !key.Enabled {
		return nil, ErrInvalidKey
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrInvalidKey
	}
	if key.UsageLimit != nil && key.UsageCount >= *key.UsageLimit {
		return nil, ErrInvalidKey
	}

	return key, nil
}

// IncrementUsage bumps the usage counter and last-used timestamp. The store
// performs the increment as one atomic mutation; a read-modify-write here
// would lose counts under concurrent requests and let a limited key validate
// past its cap. Unknown ids are a no-op: the caller already holds a validated
// credential and the record may have been revoked in between.
func (m *KeyManager) IncrementUsage(ctx context.Context, id string) {
	_ = m.store.IncrementKeyUsage(ctx, id)
}

// GetKey returns a redacted copy of the record, or config.ErrNotFound.
func (m *KeyManager) GetKey(ctx context.Context, id string) (*model.APIKey, error) {
	key, err := m.store.GetKey(ctx, id)
	if err != nil {
		return nil, err
	}
	redacted := key.Redacted()
	return &redacted, nil
}

// ListKeys returns redacted copies of all records in insertion order.
func (m *KeyManager) ListKeys(ctx context.Context) ([]model.APIKey, error) {
	keys, err := m.store.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.APIKey, len(keys))
	for i := range keys {
		out[i] = keys[i].Redacted()
	}
	return out, nil
}

// RevokeKey hard-deletes the record. Reports whether a record existed.
func (m *KeyManager) RevokeKey(ctx context.Context, id string) (bool, error) {
	if err := m.store.DeleteKey(ctx, id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ToggleKey flips the enabled flag. Reports whether a record existed.
func (m *KeyManager) ToggleKey(ctx context.Context, id string, enabled bool) (bool, error) {
	key, err := m.store.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	key.Enabled = enabled
	if err := m.store.UpdateKey(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateKey applies a partial update of the mutable fields (name,
// permissions, usage limit). Reports whether a record existed.
func (m *KeyManager) UpdateKey(ctx context.Context, id string, patch UpdatePatch) (bool, error) {
	key, err := m.store.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if patch.Name != nil {
		key.Name = *patch.Name
	}
	if patch.Permissions != nil {
		key.Permissions = append([]string(nil), patch.Permissions...)
	}
	if patch.UsageLimit != nil {
		if *patch.UsageLimit > 0 {
			limit := *patch.UsageLimit
			key.UsageLimit = &limit
		} else {
			key.UsageLimit = nil
		}
	}

	if err := m.store.UpdateKey(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// randomHex returns n random bytes hex-encoded (2n characters).
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
