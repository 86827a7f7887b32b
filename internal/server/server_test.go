package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/service"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server *Server
	keys   *service.KeyManager
	tokens *service.TokenService

	// adminSecret is the raw secret of a pre-created admin key.
	adminSecret string
	adminID     string
}

// newTestEnv creates a fresh test environment with an in-memory key store,
// an admin key, and a fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := config.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	keys := service.NewKeyManager(store)
	tokens := service.NewTokenService(service.NewSigningSecret(), 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	adminSecret, adminKey, err := keys.GenerateKey(context.Background(), "test admin", service.GenerateOptions{
		Permissions: []string{model.PermissionAdmin},
	})
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	srv := New(DefaultConfig(), keys, tokens, logger)
	return &testEnv{
		server:      srv,
		keys:        keys,
		tokens:      tokens,
		adminSecret: adminSecret,
		adminID:     adminKey.ID,
	}
}

// do performs a request against the server with an optional bearer credential
// and JSON body.
func (e *testEnv) do(t *testing.T, method, path, credential string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func wantError(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rr.Code != status {
		t.Errorf("status = %d, want %d (body %q)", rr.Code, status, rr.Body.String())
	}
	var resp model.ErrorResponse
	decodeBody(t, rr, &resp)
	if resp.Error != message {
		t.Errorf("error = %q, want %q", resp.Error, message)
	}
}

// ---------------------------------------------------------------------------
// Public routes
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "GET", "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status field = %q, want %q", resp["status"], "ok")
	}
}

func TestOpenAPISpecServed(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "GET", "/openapi.json", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var doc map[string]interface{}
	decodeBody(t, rr, &doc)
	if doc["openapi"] == "" {
		t.Error("spec should declare an openapi version")
	}
	if _, ok := doc["paths"].(map[string]interface{}); !ok {
		t.Error("spec should declare paths")
	}
}

func TestStatusAnonymous(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "GET", "/api/v1/status", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decodeBody(t, rr, &resp)
	if resp["authenticated"] != false {
		t.Errorf("authenticated = %v, want false", resp["authenticated"])
	}
}

func TestStatusAuthenticated(t *testing.T) {
	e := newTestEnv(t)

	token, err := e.tokens.Generate(mustGetKey(t, e, e.adminID))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	rr := e.do(t, "GET", "/api/v1/status", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decodeBody(t, rr, &resp)
	if resp["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", resp["authenticated"])
	}
	if resp["sub"] != e.adminID {
		t.Errorf("sub = %v, want %q", resp["sub"], e.adminID)
	}
}

func mustGetKey(t *testing.T, e *testEnv, id string) *model.APIKey {
	t.Helper()
	key, err := e.keys.GetKey(context.Background(), id)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	return key
}

// ---------------------------------------------------------------------------
// Token exchange and identity
// ---------------------------------------------------------------------------

func TestIssueTokenAndWhoAmI(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "POST", "/api/v1/auth/token", e.adminSecret, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("issue token: status = %d, body %q", rr.Code, rr.Body.String())
	}
	var tokenResp model.TokenResponse
	decodeBody(t, rr, &tokenResp)
	if tokenResp.Token == "" {
		t.Fatal("expected a token in the response")
	}
	if tokenResp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want %q", tokenResp.TokenType, "bearer")
	}

	// The issued token works as a credential in its own right.
	rr = e.do(t, "GET", "/api/v1/auth/whoami", tokenResp.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("whoami: status = %d, body %q", rr.Code, rr.Body.String())
	}
	var identity map[string]interface{}
	decodeBody(t, rr, &identity)
	if identity["sub"] != e.adminID {
		t.Errorf("sub = %v, want %q", identity["sub"], e.adminID)
	}
	if identity["iss"] != service.TokenIssuer {
		t.Errorf("iss = %v, want %q", identity["iss"], service.TokenIssuer)
	}
	if identity["aud"] != service.TokenAudience {
		t.Errorf("aud = %v, want %q", identity["aud"], service.TokenAudience)
	}
}

func TestAuthErrors(t *testing.T) {
	e := newTestEnv(t)

	t.Run("no credential", func(t *testing.T) {
		rr := e.do(t, "GET", "/api/v1/auth/whoami", "", nil)
		wantError(t, rr, http.StatusUnauthorized, "No token provided")
	})

	t.Run("garbage credential", func(t *testing.T) {
		rr := e.do(t, "GET", "/api/v1/auth/whoami", "not-a-valid-token", nil)
		wantError(t, rr, http.StatusUnauthorized, "Invalid token or API key")
	})

	t.Run("token for deleted key", func(t *testing.T) {
		secret, key, err := e.keys.GenerateKey(context.Background(), "doomed", service.GenerateOptions{})
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		token, err := e.tokens.Generate(key)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if _, err := e.keys.RevokeKey(context.Background(), key.ID); err != nil {
			t.Fatalf("RevokeKey: %v", err)
		}

		rr := e.do(t, "GET", "/api/v1/auth/whoami", token, nil)
		wantError(t, rr, http.StatusUnauthorized, "API key revoked or disabled")

		// The raw secret is gone too.
		rr = e.do(t, "GET", "/api/v1/auth/whoami", secret, nil)
		wantError(t, rr, http.StatusUnauthorized, "Invalid token or API key")
	})
}

// ---------------------------------------------------------------------------
// Key management routes
// ---------------------------------------------------------------------------

func TestKeyLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	// Create.
	rr := e.do(t, "POST", "/api/v1/keys", e.adminSecret, map[string]interface{}{
		"name":        "ci bot",
		"permissions": []string{model.PermissionChatWrite},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %q", rr.Code, rr.Body.String())
	}
	var created model.CreateKeyResponse
	decodeBody(t, rr, &created)
	if created.Key == "" {
		t.Fatal("create response must carry the plaintext secret")
	}
	if created.Record.KeyHash != "" {
		t.Error("create response record must not carry the hash")
	}
	id := created.Record.ID

	// List includes it.
	rr = e.do(t, "GET", "/api/v1/keys", e.adminSecret, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rr.Code)
	}
	var list model.KeyListResponse
	decodeBody(t, rr, &list)
	if list.Count != 2 {
		t.Errorf("count = %d, want 2 (admin + created)", list.Count)
	}

	// Get.
	rr = e.do(t, "GET", "/api/v1/keys/"+id, e.adminSecret, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rr.Code)
	}
	var got model.APIKey
	decodeBody(t, rr, &got)
	if got.Name != "ci bot" {
		t.Errorf("name = %q, want %q", got.Name, "ci bot")
	}

	// Patch.
	rr = e.do(t, "PATCH", "/api/v1/keys/"+id, e.adminSecret, map[string]interface{}{
		"name": "ci bot v2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: status = %d, body %q", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &got)
	if got.Name != "ci bot v2" {
		t.Errorf("patched name = %q, want %q", got.Name, "ci bot v2")
	}

	// Disable, verify the secret stops working, re-enable.
	rr = e.do(t, "POST", "/api/v1/keys/"+id+"/disable", e.adminSecret, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("disable: status = %d", rr.Code)
	}
	rr = e.do(t, "GET", "/api/v1/auth/whoami", created.Key, nil)
	wantError(t, rr, http.StatusUnauthorized, "Invalid token or API key")

	rr = e.do(t, "POST", "/api/v1/keys/"+id+"/enable", e.adminSecret, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("enable: status = %d", rr.Code)
	}
	rr = e.do(t, "GET", "/api/v1/auth/whoami", created.Key, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("re-enabled key should authenticate, got %d", rr.Code)
	}

	// Delete.
	rr = e.do(t, "DELETE", "/api/v1/keys/"+id, e.adminSecret, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rr.Code)
	}
	rr = e.do(t, "GET", "/api/v1/keys/"+id, e.adminSecret, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rr.Code)
	}
}

func TestCreateKeyValidation(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "POST", "/api/v1/keys", e.adminSecret, map[string]interface{}{})
	wantError(t, rr, http.StatusBadRequest, "Name is required")
}

func TestKeyRoutesRequireAdmin(t *testing.T) {
	e := newTestEnv(t)

	secret, _, err := e.keys.GenerateKey(context.Background(), "plain", service.GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	// Default permissions include chat:write but not admin.
	for _, route := range []struct {
		method, path string
	}{
		{"GET", "/api/v1/keys"},
		{"POST", "/api/v1/keys"},
		{"GET", "/api/v1/keys/" + e.adminID},
		{"DELETE", "/api/v1/keys/" + e.adminID},
	} {
		rr := e.do(t, route.method, route.path, secret, nil)
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", route.method, route.path, rr.Code)
		}
		var resp model.ErrorResponse
		decodeBody(t, rr, &resp)
		if resp.Error != "Insufficient permissions" {
			t.Errorf("%s %s: error = %q", route.method, route.path, resp.Error)
		}
	}

	// The same key can still reach routes its grant covers.
	rr := e.do(t, "GET", "/api/v1/auth/whoami", secret, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("whoami with non-admin key: status = %d, want 200", rr.Code)
	}
}

func TestKeyNotFound(t *testing.T) {
	e := newTestEnv(t)

	for _, route := range []struct {
		method, path string
	}{
		{"GET", "/api/v1/keys/no-such-id"},
		{"DELETE", "/api/v1/keys/no-such-id"},
		{"POST", "/api/v1/keys/no-such-id/enable"},
		{"POST", "/api/v1/keys/no-such-id/disable"},
	} {
		rr := e.do(t, route.method, route.path, e.adminSecret, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", route.method, route.path, rr.Code)
		}
	}
}

func TestRequestIDHeaderOnResponses(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "GET", "/healthz", "", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header on every response")
	}
}

func TestUsageMeteredPerRequest(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 3; i++ {
		rr := e.do(t, "GET", "/api/v1/auth/whoami", e.adminSecret, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rr.Code)
		}
	}

	key := mustGetKey(t, e, e.adminID)
	if key.UsageCount != 3 {
		t.Errorf("usage count = %d, want 3", key.UsageCount)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Host != "127.0.0.1" {
		t.Errorf("host = %q, want loopback", cfg.Host)
	}
	if cfg.Port != 8317 {
		t.Errorf("port = %d, want 8317", cfg.Port)
	}
	if addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port); addr != "127.0.0.1:8317" {
		t.Errorf("addr = %q", addr)
	}
}
