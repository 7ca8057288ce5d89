// Package server exposes the operator HTTP API. Responses are wrapped in the
// {ok, data | error, request_id} envelope and every response carries the
// X-Request-Id header.
package server

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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"treta/internal/autonomy"
	"treta/internal/control"
	"treta/internal/domain"
	"treta/internal/engine"
	"treta/internal/events"
	"treta/internal/logging"
	"treta/internal/repo"
	"treta/internal/strategy"
)

const (
	// Source tags events created by HTTP requests.
	Source = "http"

	DefaultMaxBodyBytes int64 = 1 << 20
	DefaultIntegrityTTL       = 15 * time.Second

	headerRequestID = "X-Request-Id"
	headerTraceID   = "X-Trace-Id"
	headerEventID   = "X-Event-Id"
)

// Error types of the envelope.
const (
	ErrClientError        = "client_error"
	ErrServerError        = "server_error"
	ErrDependencyError    = "dependency_error"
	ErrInvariantViolation = "invariant_violation"
	ErrNotFound           = "not_found"
	ErrConflict           = "conflict"
)

// EventBus is the part of the bus the API reads and feeds.
type EventBus interface {
	Push(e events.Event) bool
	Recent(limit int) []events.Event
	Len() int
}

// Autonomy reports the autonomy policy.
type Autonomy interface {
	Report(ctx context.Context) (autonomy.Report, error)
	AdaptiveStatus() autonomy.Status
}

// Config for the HTTP API handler.
type Config struct {
	Dispatcher *control.Dispatcher
	Bus        EventBus
	Autonomy   Autonomy
	Planner    strategy.Planner
	// Sales is nil when no sales platform is connected.
	Sales engine.SalesSource
	// Integrity overrides the integrity computation, mainly for tests.
	Integrity    IntegrityFunc
	IntegrityTTL time.Duration
	MaxBodyBytes int64
	Auth         AuthConfig
	Version      string
	Log          *zap.Logger
	Now          func() time.Time
}

type apiErrorBody struct {
	Type    string         `json:"type" enum:"client_error,server_error,dependency_error,invariant_violation,not_found,conflict" example:"conflict"`
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot move proposal from draft to launched"`
	Details map[string]any `json:"details" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the failure envelope.
type apiError struct {
	status    int
	OK        bool         `json:"ok"`
	Body      apiErrorBody `json:"error"`
	RequestID string       `json:"request_id"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// envelope is the success envelope.
type envelope[T any] struct {
	OK        bool   `json:"ok"`
	Data      T      `json:"data"`
	RequestID string `json:"request_id"`
}

type reply[T any] struct {
	Body envelope[T]
}

func respond[T any](ctx context.Context, data T) (*reply[T], error) {
	return &reply[T]{Body: envelope[T]{OK: true, Data: data, RequestID: requestID(ctx)}}, nil
}

type service struct {
	dispatcher *control.Dispatcher
	ctl        *control.Control
	bus        EventBus
	autonomy   Autonomy
	planner    strategy.Planner
	sales      engine.SalesSource
	integrity  *integrityCache
	auth       AuthConfig
	version    string
	log        *zap.Logger
	now        func() time.Time
}

// New returns an HTTP handler exposing the treta API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Dispatcher == nil || cfg.Dispatcher.Control == nil {
		return nil, errors.New("server: dispatcher with control required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("server: bus required")
	}
	log := logging.OrNop(cfg.Log).Named("http")
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &service{
		dispatcher: cfg.Dispatcher,
		ctl:        cfg.Dispatcher.Control,
		bus:        cfg.Bus,
		autonomy:   cfg.Autonomy,
		planner:    cfg.Planner,
		sales:      cfg.Sales,
		auth:       cfg.Auth,
		version:    version,
		log:        log,
		now:        now,
	}
	compute := cfg.Integrity
	if compute == nil {
		compute = s.computeIntegrity
	}
	ttl := cfg.IntegrityTTL
	if ttl <= 0 {
		ttl = DefaultIntegrityTTL
	}
	s.integrity = &integrityCache{compute: compute, ttl: ttl, now: now, version: version, log: log}
	cfg.Auth.announce(log)

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(hctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are client errors.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		e := newAPIError(status, "", msg, details)
		if ae, ok := e.(*apiError); ok && hctx != nil {
			ae.RequestID = hctx.Header(headerRequestID)
		}
		return e
	}

	router := chi.NewRouter()
	router.Use(withRequestID)
	router.Use(withBodyLimit(maxBody))
	router.Use(newAuthMiddleware(cfg.Auth, log))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, r, newAPIError(http.StatusNotFound, "not_found", "not_found", nil))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, r, newAPIError(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil))
	})

	hcfg := huma.DefaultConfig("Treta API", version)
	hcfg.OpenAPIPath = "" // served below with error and auth metadata
	hcfg.DocsPath = ""    // custom Swagger UI below
	hcfg.Transformers = append(hcfg.Transformers, stampRequestID)
	hcfg.Components.Schemas = newSchemaRegistry()
	api := humachi.New(router, hcfg)

	registerDocs(router)
	registerHealth(api, s)
	registerRuntime(api, s)
	registerOpportunities(api, s)
	registerProposals(api, s)
	registerPlans(api, s)
	registerLaunches(api, s)
	registerStrategy(api, s)
	registerAutonomy(api, s)
	registerIntegrity(api, s)
	registerOpenAPI(router, api)

	return router, nil
}

// stampRequestID fills the request id of envelopes built without access to
// the request.
func stampRequestID(hctx huma.Context, _ string, v any) (any, error) {
	if ae, ok := v.(*apiError); ok && ae.RequestID == "" {
		ae.RequestID = hctx.Header(headerRequestID)
	}
	return v, nil
}

func errorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusServiceUnavailable:
		return ErrDependencyError
	case status >= 400 && status < 500:
		return ErrClientError
	default:
		return ErrServerError
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	return newTypedError(status, errorType(status), code, message, details)
}

func newTypedError(status int, typ, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	if details == nil {
		details = map[string]any{}
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Type:    typ,
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the error taxonomy onto statuses and envelope types.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ce domain.ClientError
	if errors.As(err, &ce) {
		return newTypedError(http.StatusBadRequest, ErrClientError, orDefault(ce.Code, "validation_error"), ce.Message, ce.Details)
	}
	var nf domain.NotFoundError
	if errors.As(err, &nf) {
		return newTypedError(http.StatusNotFound, ErrNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newTypedError(http.StatusNotFound, ErrNotFound, "not_found", err.Error(), nil)
	}
	var cf domain.ConflictError
	if errors.As(err, &cf) {
		return newTypedError(http.StatusConflict, ErrConflict, orDefault(cf.Code, "conflict"), cf.Message, nil)
	}
	var iv domain.InvariantViolation
	if errors.As(err, &iv) {
		return newTypedError(http.StatusInternalServerError, ErrInvariantViolation, "invariant_violation", err.Error(), map[string]any{"rule": iv.Rule})
	}
	var pe *strategy.PlannerError
	if errors.As(err, &pe) {
		return newTypedError(http.StatusServiceUnavailable, ErrDependencyError, pe.Code, err.Error(), map[string]any{"attempts": pe.Attempts})
	}
	var de domain.DependencyError
	if errors.As(err, &de) {
		return newTypedError(http.StatusServiceUnavailable, ErrDependencyError, "dependency_error", err.Error(), map[string]any{"service": de.Service})
	}
	return newTypedError(http.StatusInternalServerError, ErrServerError, "internal_error", "Unexpected server error", nil)
}

// fail logs unexpected errors with the request trace and maps err.
func (s *service) fail(ctx context.Context, err error) huma.StatusError {
	se := handleError(err)
	if ae, ok := se.(*apiError); ok {
		ae.RequestID = requestID(ctx)
		if ae.Body.Type == ErrServerError || ae.Body.Type == ErrInvariantViolation {
			s.log.Error("request failed", append(traceFields(ctx), zap.String("code", ae.Body.Code), zap.Error(err))...)
		}
	}
	return se
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
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		r.Header.Set(headerRequestID, id)
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), requestKey{}, r)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withBodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				respondStatusError(w, r, newAPIError(http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", map[string]any{"limit": limit}))
				return
			}
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
			if err != nil {
				respondStatusError(w, r, newAPIError(http.StatusBadRequest, "invalid_body", err.Error(), nil))
				return
			}
			if int64(len(bodyBytes)) > limit {
				respondStatusError(w, r, newAPIError(http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", map[string]any{"limit": limit}))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, r *http.Request, err huma.StatusError) {
	status := err.GetStatus()
	if ae, ok := err.(*apiError); ok && ae.RequestID == "" {
		ae.RequestID = r.Header.Get(headerRequestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func request(ctx context.Context) *http.Request {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	return r
}

func requestID(ctx context.Context) string {
	if r := request(ctx); r != nil {
		return r.Header.Get(headerRequestID)
	}
	return ""
}

func header(ctx context.Context, name string) string {
	if r := request(ctx); r != nil {
		return strings.TrimSpace(r.Header.Get(name))
	}
	return ""
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

// trace builds the correlation ids of the current request.
func trace(ctx context.Context) events.Trace {
	id := requestID(ctx)
	t := events.Trace{RequestID: id, TraceID: header(ctx, headerTraceID), EventID: header(ctx, headerEventID)}
	if t.TraceID == "" {
		t.TraceID = id
	}
	return t
}

func traceFields(ctx context.Context) []zap.Field {
	return trace(ctx).Fields()
}

// newEvent builds an HTTP-sourced event carrying the request trace.
func newEvent(ctx context.Context, typ string, payload map[string]any) events.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	t := trace(ctx)
	payload["request_id"] = t.RequestID
	e := events.Event{
		Type:      typ,
		Payload:   payload,
		Source:    Source,
		RequestID: t.RequestID,
		TraceID:   t.TraceID,
		EventID:   t.EventID,
	}
	return e.Normalize(time.Now())
}

// dispatch handles an event inline and returns its result. Invalid and
// duplicate events become client errors.
func (s *service) dispatch(ctx context.Context, typ string, payload map[string]any) (control.Result, error) {
	res, err := s.dispatcher.Handle(ctx, newEvent(ctx, typ, payload))
	if err != nil {
		return res, err
	}
	if res.Invalid {
		return res, domain.ClientError{
			Code:    "missing_fields",
			Message: "missing required keys: " + strings.Join(res.Missing, ","),
			Details: map[string]any{"missing": res.Missing},
		}
	}
	if res.Duplicate {
		return res, domain.ConflictError{Code: "duplicate_event", Message: fmt.Sprintf("event %s already processed", res.Event.EventID)}
	}
	return res, nil
}

// exclusive runs fn serialized with event handling, with the request trace in
// its context.
func (s *service) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx = events.WithTrace(ctx, trace(ctx))
	return s.dispatcher.Exclusive(func() error { return fn(ctx) })
}

func actionPayload(res control.Result, typ string) (map[string]any, bool) {
	for _, a := range res.Actions {
		if a.Type == typ {
			return a.Payload, true
		}
	}
	return nil, false
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML)
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var spec []byte
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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

// applyAuthSecurity marks the mutating operations as bearer protected.
func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:   "http",
		Scheme: "bearer",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	for route, item := range oas.Paths {
		ops := map[string]*huma.Operation{
			http.MethodGet: item.Get, http.MethodPost: item.Post, http.MethodPut: item.Put,
			http.MethodPatch: item.Patch, http.MethodDelete: item.Delete,
		}
		for method, op := range ops {
			if op == nil {
				continue
			}
			if isMutating(method, route) {
				op.Security = security
			} else {
				op.Security = []map[string][]string{}
			}
		}
	}
}

const swaggerHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Treta API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '/openapi.json',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Mutating endpoints take Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`
