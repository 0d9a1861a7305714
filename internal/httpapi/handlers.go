package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"hrms.org/internal/auth"
	"hrms.org/internal/obs"
)

const serviceName = "hrms-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the backing stores that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Services are the auth components the HTTP layer drives.
type Services struct {
	Sessions *auth.Manager
	Gate     *auth.Gate
	Resets   *auth.ResetCoordinator
}

// API is the HTTP layer.
type API struct {
	svc          Services
	readyProbe   readinessChecker
	version      string
	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket for the unauthenticated
// credential endpoints.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(svc Services, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		svc:          svc,
		readyProbe:   rp,
		version:      version,
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully wrapped router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, MaxBodyBytes(a.maxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	limited := RateLimit(a.rateBurst, a.ratePerSec)

	r.Route("/api", func(r chi.Router) {
		r.With(limited).Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)

		r.Route("/v1", func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/me", a.handleMe)
			r.Get("/sessions", a.handleSessions)
			r.Post("/password/change", a.handleChangePassword)

			r.Route("/admin", func(r chi.Router) {
				r.Use(a.requireRole(auth.RoleAdmin))
				r.Post("/add-roles", a.handleCreateRole)
				r.Put("/add-role-permissions/{role_id}", a.handleAddPermission)
			})
			r.With(a.requirePermission(permissionViewRoles)).Get("/roles/{role_id}", a.handleGetRole)
		})
	})

	r.Route("/password", func(r chi.Router) {
		r.Use(limited)
		r.Post("/forgot-password", a.handleForgotPassword)
		r.Post("/password-reset-confirmation", a.handleResetConfirmation)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.readyProbe.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
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

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
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

// handleAuthError maps the auth error taxonomy onto HTTP statuses.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch auth.KindOf(err) {
	case auth.KindInvalidCredentials:
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case auth.KindUnauthenticated, auth.KindTokenInvalid, auth.KindTokenExpired:
		w.Header().Set("WWW-Authenticate", `Bearer realm="hrms"`)
		writeError(w, r, http.StatusUnauthorized, auth.KindOf(err).String())
	case auth.KindForbidden:
		writeError(w, r, http.StatusForbidden, "forbidden")
	case auth.KindNotFound:
		writeError(w, r, http.StatusNotFound, "not found")
	case auth.KindInvalidOrExpiredToken:
		writeError(w, r, http.StatusBadRequest, "invalid or expired token")
	case auth.KindInvalidInput:
		writeError(w, r, http.StatusBadRequest, err.Error())
	case auth.KindConflict:
		writeError(w, r, http.StatusConflict, "conflict")
	case auth.KindDeliveryFailure:
		writeError(w, r, http.StatusBadGateway, "notification delivery failed")
	case auth.KindUnavailable:
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		obs.Log("error", "http.unhandled_error", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
