// Package httpapi is the HTTP transport for the authorization service:
// routing, request decoding, permission gates, and the middleware chain.
// Handlers translate between JSON bodies and the auth service; every
// domain failure funnels through handleAuthError so status codes stay in
// one place.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kilit.org/internal/auth"
	"kilit.org/internal/obs"
	"kilit.org/internal/stream"
)

const serviceName = "kilit-api"

// ReadyProbe — простая проверка готовности (ping хранилища).
type ReadyProbe struct {
	Store auth.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	version    string

	// Tunables; set before the first Handler call.
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	MaxBody     int64

	// Events feeds /v1/audit/stream; nil disables the endpoint.
	Events *stream.Hub
}

func New(svc *auth.Service, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
		RateRPS:    10,
		RateBurst:  20,
		MaxBody:    1 << 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// bootstrap and sessions
	a.mux.HandleFunc("/v1/setup", a.handleSetup)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/switch-context", a.handleSwitchContext)
	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/me/authz", a.handleMeAuthz)
	a.mux.HandleFunc("/v1/me/orgs", a.handleMeOrgs)
	a.mux.HandleFunc("/v1/me/change-password", a.handleChangePassword)

	// administration
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/orgs", a.handleOrgsCollection)
	a.mux.HandleFunc("/v1/orgs/", a.handleOrgResource)
	a.mux.HandleFunc("/v1/apps", a.handleAppsCollection)
	a.mux.HandleFunc("/v1/apps/", a.handleAppResource)

	// authorization code flow
	a.mux.HandleFunc("/v1/oauth/authorize", a.handleAuthorize)
	a.mux.HandleFunc("/v1/oauth/token", a.handleToken)

	// live audit feed
	a.mux.HandleFunc("/v1/audit/stream", a.handleAuditStream)

	// корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux. Request ids come
// first so every later layer, the rate limiter included, can stamp them
// into error bodies.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.MaxBody)
	h = RateLimit(h, a.RateBurst, a.RateRPS)
	h = CORS(h, a.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps domain sentinels onto transport codes. Token
// verification failures say "invalid token" and nothing else; unknown
// errors are logged and surface as a bare 500.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidScope):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrAuthRequired),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInactiveUser),
		errors.Is(err, auth.ErrNoMembership),
		errors.Is(err, auth.ErrInvalidClient),
		errors.Is(err, auth.ErrCodeInvalid),
		errors.Is(err, auth.ErrRedirectMismatch):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.LogRequest(map[string]any{
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
			"level":      "error",
			"msg":        "internal_error",
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parseListParams(r *http.Request) (auth.ListParams, error) {
	q := r.URL.Query()
	var params auth.ListParams
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return params, errors.New("page must be an integer")
		}
		params.Page = v
	}
	if raw := strings.TrimSpace(q.Get("per_page")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return params, errors.New("per_page must be an integer")
		}
		params.PerPage = v
	}
	params.Keyword = strings.TrimSpace(q.Get("keyword"))
	return params, nil
}
