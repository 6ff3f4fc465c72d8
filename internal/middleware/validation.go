package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"
)

// ValidationMiddleware rejects requests that do not match the OpenAPI document
type ValidationMiddleware struct {
	router routers.Router
	logger *logrus.Logger
}

// NewValidationMiddleware loads and validates an OpenAPI document
func NewValidationMiddleware(openAPI []byte, logger *logrus.Logger) (*ValidationMiddleware, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPI)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}

	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAPI router: %w", err)
	}

	logger.WithField("paths", doc.Paths.Len()).Debug("Request validation enabled")
	return &ValidationMiddleware{router: router, logger: logger}, nil
}

// Middleware returns the HTTP middleware function
func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := vm.validateRequest(r); err != nil {
			vm.logger.WithError(err).WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("Request validation failed")

			vm.writeValidationError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateRequest checks r against its documented operation. Undocumented
// routes pass through.
func (vm *ValidationMiddleware) validateRequest(r *http.Request) error {
	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
	}

	err = openapi3filter.ValidateRequest(r.Context(), input)

	// the filter consumes the body
	r.Body = io.NopCloser(bytes.NewReader(body))
	return err
}

// ValidationErrorDetail is the client-facing summary of a validation failure
type ValidationErrorDetail struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (vm *ValidationMiddleware) writeValidationError(w http.ResponseWriter, err error) {
	detail := parseValidationError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": detail.Message,
			"type":    "validation_error",
			"code":    http.StatusBadRequest,
			"details": detail.Details,
		},
		"timestamp": time.Now().Unix(),
	})
}

func parseValidationError(err error) *ValidationErrorDetail {
	detail := &ValidationErrorDetail{
		Message: "Request validation failed",
		Details: map[string]interface{}{"error": err.Error()},
	}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.Parameter != nil:
			detail.Message = fmt.Sprintf("Invalid parameter %q", reqErr.Parameter.Name)
			detail.Details["field"] = reqErr.Parameter.Name
		case reqErr.RequestBody != nil:
			detail.Message = "Invalid request body"
			var schemaErr *openapi3.SchemaError
			if errors.As(reqErr.Err, &schemaErr) {
				if field := strings.Join(schemaErr.JSONPointer(), "."); field != "" {
					detail.Details["field"] = field
				}
				detail.Details["reason"] = schemaErr.Reason
			}
		}
	}
	return detail
}
