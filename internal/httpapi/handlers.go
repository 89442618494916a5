package httpapi

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"time"

	"classdesk.org/api/spec"
	"classdesk.org/internal/audit"
	"classdesk.org/internal/auth"
	"classdesk.org/internal/obs"
)

const serviceName = "classdesk-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	tokens     *auth.TokenService
	readyProbe readinessChecker
	version    string
	log        *slog.Logger
	audit      *audit.Logger
	public     map[string]struct{}

	corsOrigins    []string
	ratePerSec     float64
	rateBurst      int
	trustForwarded bool
	maxBodyBytes   int64
	loginLimiter   *ipLimiter
}

// Option configures the API.
type Option func(*API)

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

func WithAudit(l *audit.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.audit = l
		}
	}
}

// WithCORSOrigins sets the allowed browser origins. "*" allows any origin.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) {
		a.corsOrigins = append([]string(nil), origins...)
	}
}

// WithLoginRateLimit sets the per-IP token bucket applied to the login endpoint.
func WithLoginRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

// WithTrustForwardedFor makes the client IP come from X-Forwarded-For.
// Enable only behind a proxy that overwrites the header.
func WithTrustForwardedFor(trust bool) Option {
	return func(a *API) {
		a.trustForwarded = trust
	}
}

// WithMaxBodyBytes caps the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// New wires routes. svc must not be nil.
func New(svc *auth.Service, rp readinessChecker, version string, opts ...Option) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:          http.NewServeMux(),
		auth:         svc,
		tokens:       svc.Tokens(),
		readyProbe:   rp,
		version:      version,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		public:       newPublicPaths(),
		ratePerSec:   1,
		rateBurst:    5,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.audit == nil {
		a.audit = audit.New(a.log)
	}
	a.loginLimiter = newIPLimiter(a.ratePerSec, a.rateBurst, a.trustForwarded)

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/health", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// docs
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.HandleFunc("/docs", a.Docs)

	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.Handle("/v1/auth/login", a.loginLimiter.Wrap(http.HandlerFunc(a.handleLogin)))
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	// users
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/change-password/{email}", a.handleChangePassword)
	a.mux.HandleFunc("/v1/users/forgot-password", a.handleForgotPassword)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler. The request gate runs innermost,
// after request ids, metrics, logging and CORS.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.log)(h)
	h = obs.Instrument(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.log.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "database unavailable",
		})
		return
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

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

const redocPage = `<!DOCTYPE html>
<html>
  <head>
    <title>Classdesk API</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1">
  </head>
  <body>
    <redoc spec-url="/openapi.yaml"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.1.5/bundles/redoc.standalone.js"></script>
  </body>
</html>
`

func (a *API) Docs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, redocPage)
}
