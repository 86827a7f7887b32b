package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loomhq/loom/internal/service"
)

// registerTools registers all Loom MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Read-only tools -----

	srv.AddTool(
		mcp.NewTool("loom_list_keys",
			mcp.WithDescription(
				"List all API keys known to Loom. Returns each key's id, name, "+
					"display prefix, permissions, enabled state, usage counters, and "+
					"timestamps. Key hashes and plaintext secrets are never included.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("loom_get_key",
			mcp.WithDescription(
				"Get a single API key record by id. Use loom_list_keys first to "+
					"discover key ids.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("API key record id"),
			),
		),
		s.handleGetKey,
	)

	// ----- Mutating tools -----

	srv.AddTool(
		mcp.NewTool("loom_create_key",
			mcp.WithDescription(
				"Create a new API key. The response contains the plaintext secret "+
					"exactly once; it cannot be recovered later. Omitting permissions "+
					"grants the defaults (chat:write, agent:execute).",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Human-readable label for the key"),
			),
			mcp.WithNumber("expires_in_days",
				mcp.Description("Days until the key expires. Omit or 0 for no expiry."),
			),
			mcp.WithArray("permissions",
				mcp.Description("Permissions to grant (e.g. [\"chat:write\", \"admin\"]). Omit for defaults."),
				mcp.WithStringItems(),
			),
			mcp.WithNumber("usage_limit",
				mcp.Description("Maximum number of authenticated requests. Omit or 0 for unlimited."),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("loom_revoke_key",
			mcp.WithDescription(
				"Permanently delete an API key. The raw secret stops validating "+
					"immediately, and tokens derived from it fail the liveness check "+
					"on their next use.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Id of the key to revoke"),
			),
		),
		s.handleRevokeKey,
	)

	srv.AddTool(
		mcp.NewTool("loom_toggle_key",
			mcp.WithDescription(
				"Enable or disable an API key without deleting it. Disabled keys "+
					"fail authentication but keep their record and usage history.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Id of the key to toggle"),
			),
			mcp.WithBoolean("enabled",
				mcp.Required(),
				mcp.Description("true to enable, false to disable"),
			),
		),
		s.handleToggleKey,
	)

	srv.AddTool(
		mcp.NewTool("loom_issue_token",
			mcp.WithDescription(
				"Issue a signed bearer token for an existing API key. The token "+
					"carries the key's current permissions and expires after the "+
					"configured TTL (default 24h).",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Id of the key to issue a token for"),
			),
		),
		s.handleIssueToken,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

// handleListKeys returns all key records, redacted.
func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keys, err := s.keys.ListKeys(ctx)
	if err != nil {
		return toolError("Failed to list keys: %v", err)
	}

	return successJSON(map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

// handleGetKey returns a single key record by id.
func (s *MCPServer) handleGetKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.keys.GetKey(ctx, id)
	if err != nil {
		return toolError("Key %q not found. Use loom_list_keys to discover key ids.", id)
	}

	return successJSON(key)
}

// handleCreateKey creates a new key and returns the one-time plaintext secret.
func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}

	opts := service.GenerateOptions{
		ExpiresInDays: optionalInt(request, "expires_in_days", 0),
		Permissions:   optionalStringSlice(request, "permissions"),
		UsageLimit:    int64(optionalInt(request, "usage_limit", 0)),
	}

	secret, key, err := s.keys.GenerateKey(ctx, name, opts)
	if err != nil {
		return toolError("Failed to create key: %v", err)
	}

	s.logger.Info("api key created via MCP", "id", key.ID, "name", key.Name)

	record := key.Redacted()
	return successJSON(map[string]interface{}{
		"key":    secret,
		"record": record,
		"note":   "Store the key now. It is shown only once and cannot be recovered.",
	})
}

// handleRevokeKey deletes a key record.
func (s *MCPServer) handleRevokeKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}

	revoked, err := s.keys.RevokeKey(ctx, id)
	if err != nil {
		return toolError("Failed to revoke key %q: %v", id, err)
	}
	if !revoked {
		return toolError("Key %q not found. Use loom_list_keys to discover key ids.", id)
	}

	s.logger.Info("api key revoked via MCP", "id", id)

	return successJSON(map[string]interface{}{
		"revoked": true,
		"id":      id,
	})
}

// handleToggleKey enables or disables a key.
func (s *MCPServer) handleToggleKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	enabled, err := request.RequireBool("enabled")
	if err != nil {
		return toolError("missing required parameter %q", "enabled")
	}

	ok, err := s.keys.ToggleKey(ctx, id, enabled)
	if err != nil {
		return toolError("Failed to toggle key %q: %v", id, err)
	}
	if !ok {
		return toolError("Key %q not found. Use loom_list_keys to discover key ids.", id)
	}

	return successJSON(map[string]interface{}{
		"id":      id,
		"enabled": enabled,
	})
}

// handleIssueToken signs a bearer token for an existing key.
func (s *MCPServer) handleIssueToken(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.keys.GetKey(ctx, id)
	if err != nil {
		return toolError("Key %q not found. Use loom_list_keys to discover key ids.", id)
	}
	if !key.Enabled {
		return toolError("Key %q is disabled. Enable it with loom_toggle_key before issuing tokens.", id)
	}

	token, err := s.tokens.Generate(key)
	if err != nil {
		return toolError("Failed to sign token: %v", err)
	}

	return successJSON(map[string]interface{}{
		"token":      token,
		"token_type": "bearer",
		"expires_at": time.Now().Add(s.tokens.TTL()).UTC().Format(time.RFC3339),
	})
}
