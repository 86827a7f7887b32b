package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/service"
)

type contextKeyAuth string

// IdentityKey is the context key for the authenticated identity.
const IdentityKey contextKeyAuth = "auth_identity"

// Identity is the request-scoped result of authentication, shaped like a
// token payload regardless of whether a signed token or a raw API key was
// presented.
type Identity struct {
	Sub         string   `json:"sub"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	IssuedAt    int64    `json:"iat"`
	ExpiresAt   int64    `json:"exp"`
	Issuer      string   `json:"iss"`
	Audience    string   `json:"aud"`
}

// HasPermission reports whether the identity's permission set contains perm.
func (id *Identity) HasPermission(perm string) bool {
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Authenticate returns an HTTP middleware that gates every protected
// request. The credential is taken from the Authorization Bearer header,
// falling back to the "token" query parameter for transports that cannot
// set headers (event-stream subscriptions).
//
// A signed token is tried first; if it verifies, the backing key must still
// exist and be enabled — token validity alone is insufficient since keys can
// be revoked after issuance. Otherwise the credential is treated as a raw
// API key. On success an Identity is attached to the request context and
// the key's usage counter is incremented; on failure a 401 JSON error is
// returned and the downstream handler is never called.
func Authenticate(keys *service.KeyManager, tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := extractCredential(r)
			if credential == "" {
				writeAuthError(w, http.StatusUnauthorized, "No token provided")
				return
			}

			// Signed token first.
			if claims, err := tokens.Verify(credential); err == nil {
				key, err := keys.GetKey(r.Context(), claims.Subject)
				if err != nil || !key.Enabled {
					writeAuthError(w, http.StatusUnauthorized, "API key revoked or disabled")
					return
				}
				identity := identityFromClaims(claims)
				keys.IncrementUsage(r.Context(), claims.Subject)
				next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
				return
			}

			// Fall back to raw API key.
			if key, err := keys.ValidateKey(r.Context(), credential); err == nil {
				identity := identityFromKey(key, tokens.TTL())
				keys.IncrementUsage(r.Context(), key.ID)
				next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
				return
			}

			writeAuthError(w, http.StatusUnauthorized, "Invalid token or API key")
		})
	}
}

// OptionalAuthenticate attaches an identity when a valid signed token is
// presented but never rejects the request: endpoints behind it behave
// differently for authenticated callers without refusing anonymous ones.
func OptionalAuthenticate(keys *service.KeyManager, tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := extractCredential(r)
			if credential == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Verify(credential)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			key, err := keys.GetKey(r.Context(), claims.Subject)
			if err != nil || !key.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			identity := identityFromClaims(claims)
			keys.IncrementUsage(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// RequirePermission returns an HTTP middleware enforcing that the request
// identity holds at least one of the required permissions. The "admin"
// permission bypasses all specific checks. Must run after Authenticate.
func RequirePermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			if identity.HasPermission(model.PermissionAdmin) {
				next.ServeHTTP(w, r)
				return
			}
			for _, required := range permissions {
				if identity.HasPermission(required) {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeAuthError(w, http.StatusForbidden, "Insufficient permissions")
		})
	}
}

// GetIdentity extracts the authenticated identity from the context. Returns
// nil if no identity is present (i.e., unauthenticated request).
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(IdentityKey).(*Identity); ok {
		return id
	}
	return nil
}

func withIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// extractCredential returns the bearer token from the Authorization header,
// or the "token" query parameter as a fallback.
func extractCredential(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func identityFromClaims(claims *service.TokenClaims) *Identity {
	identity := &Identity{
		Sub:         claims.Subject,
		Name:        claims.Name,
		Permissions: claims.Permissions,
		Issuer:      claims.Issuer,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if len(claims.Audience) > 0 {
		identity.Audience = claims.Audience[0]
	}
	return identity
}

// identityFromKey synthesizes a token-shaped identity for a raw API key, so
// downstream consumers see a uniform shape for both credential forms.
func identityFromKey(key *model.APIKey, ttl time.Duration) *Identity {
	now := time.Now()
	return &Identity{
		Sub:         key.ID,
		Name:        key.Name,
		Permissions: append([]string(nil), key.Permissions...),
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
		Issuer:      service.TokenIssuer,
		Audience:    service.TokenAudience,
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: message})
}
