package openapi

import (
	"testing"
)

func TestGenerateSpec_ValidOpenAPI(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info == nil {
		t.Fatal("Info is nil")
	}
	if doc.Info.Title != "Loom Local API" {
		t.Errorf("Info.Title = %q, want %q", doc.Info.Title, "Loom Local API")
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://127.0.0.1:8317" {
		t.Errorf("Servers not set correctly: %+v", doc.Servers)
	}
}

func TestGenerateSpec_SecurityScheme(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	if doc.Components == nil {
		t.Fatal("Components is nil")
	}

	bearer, ok := doc.Components.SecuritySchemes["bearerAuth"]
	if !ok {
		t.Fatal("bearerAuth security scheme not found")
	}
	if bearer.Value.Type != "http" {
		t.Errorf("bearerAuth.Type = %q, want %q", bearer.Value.Type, "http")
	}
	if bearer.Value.Scheme != "bearer" {
		t.Errorf("bearerAuth.Scheme = %q, want %q", bearer.Value.Scheme, "bearer")
	}
	if bearer.Value.BearerFormat != "JWT" {
		t.Errorf("bearerAuth.BearerFormat = %q, want %q", bearer.Value.BearerFormat, "JWT")
	}

	if len(doc.Security) != 1 {
		t.Errorf("Security requirements count = %d, want 1", len(doc.Security))
	}
}

func TestGenerateSpec_Paths(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	expectedPaths := []string{
		"/healthz",
		"/api/v1/status",
		"/api/v1/auth/token",
		"/api/v1/auth/whoami",
		"/api/v1/keys",
		"/api/v1/keys/{keyID}",
		"/api/v1/keys/{keyID}/enable",
		"/api/v1/keys/{keyID}/disable",
	}

	for _, path := range expectedPaths {
		if doc.Paths.Find(path) == nil {
			t.Errorf("Path %q not found", path)
		}
	}
}

func TestGenerateSpec_KeyCollectionOperations(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	keys := doc.Paths.Find("/api/v1/keys")
	if keys == nil {
		t.Fatal("Path /api/v1/keys not found")
	}
	if keys.Get == nil {
		t.Error("GET operation missing for key collection")
	}
	if keys.Post == nil {
		t.Error("POST operation missing for key collection")
	}
	if keys.Post != nil && (keys.Post.RequestBody == nil || keys.Post.RequestBody.Value == nil) {
		t.Error("POST /api/v1/keys should declare a request body")
	}

	item := doc.Paths.Find("/api/v1/keys/{keyID}")
	if item == nil {
		t.Fatal("Path /api/v1/keys/{keyID} not found")
	}
	if item.Get == nil {
		t.Error("GET operation missing for key item")
	}
	if item.Patch == nil {
		t.Error("PATCH operation missing for key item")
	}
	if item.Delete == nil {
		t.Error("DELETE operation missing for key item")
	}
	if len(item.Parameters) != 1 || item.Parameters[0].Value.Name != "keyID" {
		t.Error("keyID path parameter not declared")
	}
}

func TestGenerateSpec_PublicRoutesOptOutOfSecurity(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	for _, path := range []string{"/healthz", "/api/v1/status"} {
		item := doc.Paths.Find(path)
		if item == nil || item.Get == nil {
			t.Fatalf("GET %s not found", path)
		}
		sec := item.Get.Security
		if sec == nil || len(*sec) != 0 {
			t.Errorf("GET %s should declare an empty security requirement", path)
		}
	}
}

func TestGenerateSpec_ErrorResponseSchema(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	errSchema, ok := doc.Components.Schemas["ErrorResponse"]
	if !ok {
		t.Fatal("ErrorResponse schema not found in components")
	}
	errorProp, ok := errSchema.Value.Properties["error"]
	if !ok {
		t.Fatal("error property not found in ErrorResponse schema")
	}
	if errorProp.Value.Type.Slice()[0] != "string" {
		t.Errorf("error type = %v, want string", errorProp.Value.Type)
	}
}

func TestGenerateSpec_APIKeySchemaRedactsSecret(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	keySchema, ok := doc.Components.Schemas["APIKey"]
	if !ok {
		t.Fatal("APIKey schema not found in components")
	}

	// The record schema exposes the display prefix only, never the
	// hash or the plaintext secret.
	if _, ok := keySchema.Value.Properties["key_prefix"]; !ok {
		t.Error("key_prefix property missing from APIKey schema")
	}
	if _, ok := keySchema.Value.Properties["key_hash"]; ok {
		t.Error("key_hash must not appear in APIKey schema")
	}
	if _, ok := keySchema.Value.Properties["key"]; ok {
		t.Error("plaintext key must not appear in APIKey schema")
	}
}

func TestGenerateSpec_ErrorResponsesDeclared(t *testing.T) {
	doc := GenerateSpec("http://127.0.0.1:8317")

	whoami := doc.Paths.Find("/api/v1/auth/whoami")
	if whoami == nil || whoami.Get == nil {
		t.Fatal("GET /api/v1/auth/whoami not found")
	}

	for _, code := range []string{"200", "401", "403", "404"} {
		if whoami.Get.Responses.Value(code) == nil {
			t.Errorf("Response %s not declared for whoami", code)
		}
	}
}

func TestCapitalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"enable", "Enable"},
		{"disable", "Disable"},
		{"Already", "Already"},
	}
	for _, tt := range tests {
		if got := capitalize(tt.input); got != tt.want {
			t.Errorf("capitalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
