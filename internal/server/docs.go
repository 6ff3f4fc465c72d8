package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/crm-reply-router/api"
)

// setupDocsRoutes serves the OpenAPI document and a Swagger UI page
func (s *Server) setupDocsRoutes(r *mux.Router) {
	r.HandleFunc("/docs/openapi.yaml", s.handleOpenAPIYAML).Methods(http.MethodGet)
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPIJSON).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)
	r.HandleFunc("/docs/", s.handleSwaggerUI).Methods(http.MethodGet)
}

func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(api.OpenAPI)
}

func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(api.OpenAPI, &doc); err != nil {
		s.logger.WithError(err).Error("Failed to parse OpenAPI document")
		s.writeErrorResponse(w, http.StatusInternalServerError, "error parsing OpenAPI document")
		return
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "error converting OpenAPI document")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	// the UI loads assets from unpkg, so relax the default policy for this page
	w.Header().Set("Content-Security-Policy", "default-src 'self' https://unpkg.com 'unsafe-inline'")
	fmt.Fprintf(w, swaggerPage, getBaseURL(r)+"/docs/openapi.yaml")
}

// getBaseURL extracts the base URL from the request
func getBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>CRM Reply Router - API Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { display: none; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: '%s',
                dom_id: '#swagger-ui',
                deepLinking: true,
                docExpansion: "list",
                validatorUrl: null,
                requestInterceptor: function(request) {
                    if (!request.headers['X-API-Key'] && !request.headers['Authorization']) {
                        request.headers['X-API-Key'] = 'your-api-key-here';
                    }
                    return request;
                }
            });
        };
    </script>
</body>
</html>`
