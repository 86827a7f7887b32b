package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/loomhq/loom/internal/openapi"
)

// OpenAPIHandler serves the generated OpenAPI 3.1 document for the local API.
// The document is static for the life of the process, so it is generated once
// on first request and cached.
type OpenAPIHandler struct {
	once sync.Once
	doc  *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler() *OpenAPIHandler {
	return &OpenAPIHandler{}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		h.doc = openapi.GenerateSpec(scheme + "://" + r.Host)
	})

	writeJSON(w, http.StatusOK, h.doc)
}
