package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// loom://keys — list of all API keys (redacted)
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"loom://keys",
			"API Keys",
			mcp.WithResourceDescription(
				"List of all API keys known to Loom, with display prefixes, "+
					"permissions, enabled state, and usage counters. Secrets and "+
					"hashes are never included.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	// -------------------------------------------------------------------
	// loom://keys/{id} — single key record (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"loom://keys/{id}",
			"API Key",
			mcp.WithTemplateDescription(
				"A single API key record, redacted.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeyResource,
	)
}

// handleKeysResource returns a JSON list of all key records.
func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.keys.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	b, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keys: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "loom://keys",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleKeyResource returns a single key record by id.
func (s *MCPServer) handleKeyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	// Extract the id from the URI: "loom://keys/{id}"
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, "loom://keys/")
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid key URI %q: expected loom://keys/{id}", uri)
	}

	key, err := s.keys.GetKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("key %q not found: %w", id, err)
	}

	b, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
