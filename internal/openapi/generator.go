package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// GenerateSpec builds the OpenAPI 3.1 document for Loom's local API:
// credential exchange, identity introspection, and API key management.
func GenerateSpec(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Loom Local API",
			Description: "Loom's local HTTP API. Protected routes accept a signed bearer token or a raw API key.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}
	doc.Components.Schemas["APIKey"] = apiKeySchema()
	doc.Components.Schemas["Identity"] = identitySchema()

	doc.Paths = openapi3.NewPaths()

	addHealthPath(doc)
	addStatusPath(doc)
	addAuthPaths(doc)
	addKeyPaths(doc)

	return doc
}

func addHealthPath(doc *openapi3.T) {
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Security:    &openapi3.SecurityRequirements{},
			Responses: newResponses("200", "Process is running", &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"object"}},
			}),
		},
	})
}

func addStatusPath(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/status", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Server status",
			Description: "Reports whether the caller presented a valid credential. Anonymous requests succeed.",
			OperationID: "status",
			Security:    &openapi3.SecurityRequirements{},
			Responses: newResponses("200", "Status report", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"status":        &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"authenticated": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
						"sub":           &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
					},
				},
			}),
		},
	})
}

func addAuthPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/auth/token", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Exchange a credential for a signed token",
			Description: "Authenticates with a raw API key (or an existing token) and issues a short-lived signed token.",
			OperationID: "issue_token",
			Responses: newResponses("200", "Issued token", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"token":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"token_type": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"expires_at": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
					},
				},
			}),
		},
	})

	doc.Paths.Set("/api/v1/auth/whoami", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Inspect the request identity",
			OperationID: "whoami",
			Responses: newResponses("200", "Request identity",
				openapi3.NewSchemaRef("#/components/schemas/Identity", nil)),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	keyRef := openapi3.NewSchemaRef("#/components/schemas/APIKey", nil)

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List API keys",
			Description: "Returns every key record with the key hash redacted. Requires the admin permission.",
			OperationID: "list_keys",
			Responses: newResponses("200", "Key records", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"keys": &openapi3.SchemaRef{
							Value: &openapi3.Schema{
								Type:  &openapi3.Types{"array"},
								Items: keyRef,
							},
						},
						"count": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
					},
				},
			}),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Create an API key",
			Description: "Generates a new key. The plaintext secret appears in this response only.",
			OperationID: "create_key",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content: openapi3.NewContentWithJSONSchemaRef(&openapi3.SchemaRef{
						Value: &openapi3.Schema{
							Type:     &openapi3.Types{"object"},
							Required: []string{"name"},
							Properties: openapi3.Schemas{
								"name":            &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
								"expires_in_days": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
								"permissions": &openapi3.SchemaRef{
									Value: &openapi3.Schema{
										Type:  &openapi3.Types{"array"},
										Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
									},
								},
								"usage_limit": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
							},
						},
					}),
				},
			},
			Responses: newResponses("201", "Created key with one-time plaintext secret", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"key":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"record": keyRef,
					},
				},
			}),
		},
	})

	doc.Paths.Set("/api/v1/keys/{keyID}", &openapi3.PathItem{
		Parameters: keyIDParameter(),
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Get an API key",
			OperationID: "get_key",
			Responses:   newResponses("200", "Key record", keyRef),
		},
		Patch: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Update an API key",
			Description: "Partial update of name, permissions, and usage limit.",
			OperationID: "update_key",
			Responses:   newResponses("200", "Updated key record", keyRef),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke an API key",
			Description: "Hard delete. Immediately invalidates the raw secret and any outstanding tokens derived from it.",
			OperationID: "revoke_key",
			Responses: newResponses("200", "Key revoked", &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"object"}},
			}),
		},
	})

	for _, action := range []string{"enable", "disable"} {
		doc.Paths.Set("/api/v1/keys/{keyID}/"+action, &openapi3.PathItem{
			Parameters: keyIDParameter(),
			Post: &openapi3.Operation{
				Tags:        []string{"keys"},
				Summary:     capitalize(action) + " an API key",
				OperationID: action + "_key",
				Responses: newResponses("200", "Toggled key", &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"object"}},
				}),
			},
		})
	}
}

func keyIDParameter() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewPathParameter("keyID").
				WithDescription("API key record id.").
				WithSchema(openapi3.NewStringSchema()),
		},
	}
}

func apiKeySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":         &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"name":       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"key_prefix": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"permissions": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
					},
				},
				"enabled":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"usage_count":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"usage_limit":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"expires_at":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
				"created_at":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
				"last_used_at": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
			},
		},
	}
}

func identitySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"sub":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"name": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"permissions": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
					},
				},
				"iat": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"exp": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"iss": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"aud": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}
}

// newResponses builds a Responses map with a success response and standard
// error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)

	unauthDesc := "Unauthorized"
	responses.Set("401", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &unauthDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	forbiddenDesc := "Insufficient permissions"
	responses.Set("403", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &forbiddenDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	notFoundDesc := "Not found"
	responses.Set("404", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &notFoundDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	return responses
}

// capitalize returns a string with its first character uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
