package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"surgiplan/internal/assistant"
	"surgiplan/internal/detect"
	"surgiplan/internal/engine"
	"surgiplan/internal/loader"
	"surgiplan/internal/repo"
	"surgiplan/pkg/logger"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Assistant defaults to the engine's configured provider.
	Assistant      *assistant.Service
	BasePath       string
	Auth           AuthConfig
	AllowedOrigins []string
	Logger         *logger.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_schedule"`
	Message string         `json:"message" example:"invalid schedule: row 3: priority: unknown priority \"x\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the SurgiPlan API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Assistant == nil {
		cfg.Assistant = cfg.Engine.NewAssistant()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema errors are the caller's fault, not a bad schedule
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	mw := newMiddleware(log)
	router := chi.NewRouter()
	router.Use(mw.RequestID)
	router.Use(mw.Logger)
	router.Use(mw.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(mw.CORS(cfg.AllowedOrigins))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("SurgiPlan API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine, cfg.Assistant)
	registerAnalyses(group, cfg.Engine)
	registerFiles(group, cfg.Engine)
	registerAssistant(group, cfg.Engine, cfg.Assistant)
	registerOpenAPI(router, api, basePath, cfg.Auth.enabled())

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var invalid *detect.InvalidScheduleError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_schedule", err.Error(), map[string]any{"problems": invalid.Problems})
	}
	var cfgErr *detect.ConfigurationError
	if errors.As(err, &cfgErr) {
		return newAPIError(http.StatusInternalServerError, "configuration_error", err.Error(), map[string]any{"field": cfgErr.Field})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, assistant.ErrSessionNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, assistant.ErrSessionEnded):
		return newAPIError(http.StatusGone, "session_ended", msg, nil)
	case errors.Is(err, assistant.ErrTimeout):
		return newAPIError(http.StatusGatewayTimeout, "assistant_timeout", msg, nil)
	case errors.Is(err, assistant.ErrUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", msg, nil)
	case errors.Is(err, engine.ErrStorageDisabled):
		return newAPIError(http.StatusConflict, "storage_disabled", msg, nil)
	case errors.Is(err, loader.ErrUnsupportedFormat):
		return newAPIError(http.StatusBadRequest, "unsupported_format", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, loader.ErrUnreadable):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI serves the document built on first request. Routes are all
// registered by then, so it never changes afterwards.
func registerOpenAPI(r chi.Router, api huma.API, basePath string, withAuth bool) {
	specPath := path.Join(basePath, "openapi.json")
	build := sync.OnceValues(func() ([]byte, error) {
		oas := api.OpenAPI()
		registerErrorSchema(oas)
		ensureDefaultErrorResponses(oas)
		if withAuth {
			applyAuthSecurity(oas, basePath)
		}
		return json.Marshal(oas)
	})
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		spec, err := build()
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "openapi document unavailable", nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

// registerErrorSchema adds the envelope every default response points at.
func registerErrorSchema(oas *huma.OpenAPI) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas == nil {
		oas.Components.Schemas = huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	}
	str := &huma.Schema{Type: huma.TypeString}
	oas.Components.Schemas.Map()["ApiError"] = &huma.Schema{
		Type:     huma.TypeObject,
		Required: []string{"error"},
		Properties: map[string]*huma.Schema{
			"error": {
				Type:     huma.TypeObject,
				Required: []string{"code", "message"},
				Properties: map[string]*huma.Schema{
					"code":    str,
					"message": str,
					"details": {Type: huma.TypeObject, Description: "problems for invalid_schedule, field for configuration_error"},
				},
			},
		},
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>SurgiPlan API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

// Cursors are opaque to clients: base64url of "created_at|id" of the last
// item of the previous page.
func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("invalid cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || ts == "" || id == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return ts, id, nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(ts + "|" + id))
}
