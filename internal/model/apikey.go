package model

import "time"

// Permission strings understood by the authorization middleware. They are
// opaque capability labels; PermissionAdmin bypasses every specific check.
const (
	PermissionChatRead     = "chat:read"
	PermissionChatWrite    = "chat:write"
	PermissionAgentExecute = "agent:execute"
	PermissionMCPExecute   = "mcp:execute"
	PermissionSkillExecute = "skill:execute"
	PermissionAdmin        = "admin"
)

// DefaultPermissions are granted when a key is created without an explicit
// permission set.
func DefaultPermissions() []string {
	return []string{PermissionChatWrite, PermissionAgentExecute}
}

// APIKey represents one issued credential. The raw secret is never stored;
// only a SHA-256 hash and a short display prefix are retained.
type APIKey struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	KeyHash     string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	Permissions []string   `json:"permissions" db:"-"`
	Enabled     bool       `json:"enabled" db:"enabled"`
	UsageCount  int64      `json:"usage_count" db:"usage_count"`
	UsageLimit  *int64     `json:"usage_limit,omitempty" db:"usage_limit"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Redacted returns a copy safe for read/list responses: the key hash is
// blanked and the permission slice is copied so callers cannot mutate the
// stored record through it.
func (k *APIKey) Redacted() APIKey {
	out := *k
	out.KeyHash = ""
	out.Permissions = append([]string(nil), k.Permissions...)
	return out
}

// HasPermission reports whether the key's permission set contains perm.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
