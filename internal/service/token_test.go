package service

import (
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/model"
)

func testAPIKey() *model.APIKey {
	return &model.APIKey{
		ID:          "key-123",
		Name:        "test key",
		Permissions: []string{model.PermissionChatWrite, model.PermissionAgentExecute},
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestGenerateTokenStructure(t *testing.T) {
	s := NewTokenService(NewSigningSecret(), 0)

	token, err := s.Generate(testAPIKey())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("token has %d segments, want 3", len(parts))
	}
}

func TestVerifyTokenClaims(t *testing.T) {
	s := NewTokenService(NewSigningSecret(), 0)
	key := testAPIKey()

	token, err := s.Generate(key)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != key.ID {
		t.Errorf("sub = %q, want %q", claims.Subject, key.ID)
	}
	if claims.Name != key.Name {
		t.Errorf("name = %q, want %q", claims.Name, key.Name)
	}
	if claims.Issuer != TokenIssuer {
		t.Errorf("iss = %q, want %q", claims.Issuer, TokenIssuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != TokenAudience {
		t.Errorf("aud = %v, want [%q]", claims.Audience, TokenAudience)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[0] != model.PermissionChatWrite {
		t.Errorf("permissions = %v, want %v", claims.Permissions, key.Permissions)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Fatal("exp and iat must be set")
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != DefaultTokenTTL {
		t.Errorf("exp - iat = %v, want %v", ttl, DefaultTokenTTL)
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	s := NewTokenService(NewSigningSecret(), 0)

	token, err := s.Generate(testAPIKey())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Flip a character in the payload segment.
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := s.Verify(tampered); err != ErrInvalidToken {
		t.Errorf("tampered token: expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", 0).Generate(testAPIKey())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := NewTokenService("secret-b", 0).Verify(token); err != ErrInvalidToken {
		t.Errorf("wrong secret: expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyMalformedTokens(t *testing.T) {
	s := NewTokenService(NewSigningSecret(), 0)

	for _, tok := range []string{
		"",
		"not-a-valid-token",
		"a.b",
		"a.b.c",
		"....",
	} {
		if _, err := s.Verify(tok); err != ErrInvalidToken {
			t.Errorf("Verify(%q): expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	s := NewTokenService(NewSigningSecret(), time.Nanosecond)

	token, err := s.Generate(testAPIKey())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := s.Verify(token); err != ErrInvalidToken {
		t.Errorf("expired token: expected ErrInvalidToken, got %v", err)
	}
}

func TestTTLDefault(t *testing.T) {
	if got := NewTokenService("s", 0).TTL(); got != DefaultTokenTTL {
		t.Errorf("TTL() = %v, want %v", got, DefaultTokenTTL)
	}
	if got := NewTokenService("s", time.Minute).TTL(); got != time.Minute {
		t.Errorf("TTL() = %v, want %v", got, time.Minute)
	}
}

func TestNewSigningSecret(t *testing.T) {
	a, b := NewSigningSecret(), NewSigningSecret()
	if a == b {
		t.Error("secrets should be random")
	}
	if len(a) != 128 {
		t.Errorf("secret length = %d, want 128 hex chars", len(a))
	}
}
