// ABOUTME: chi router assembling health, API, metrics and MCP routes.
// ABOUTME: Adds request ids, panic recovery, CORS and per-route request metrics.

package gateway

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cappelaere/wai/internal/metrics"
	"github.com/cappelaere/wai/internal/session"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins lists origins granted CORS access. "*" allows any.
	AllowedOrigins []string
	SessionTimeout time.Duration
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
	// MCPPath mounts the MCP streamable HTTP transport when non-empty.
	MCPPath string
	Logger  *slog.Logger
	// Now overrides the clock used for response timestamps.
	Now func() time.Time
}

// NewRouter builds the HTTP handler for app.
func NewRouter(app *AppContext, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = session.DefaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &api{
		app:            app,
		logger:         logger.With("component", "api"),
		sessionTimeout: timeout,
		now:            now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(instrument(app.Metrics, a.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors(opts.AllowedOrigins))

	r.Get("/health", a.handleHealth)
	r.Get("/health/ready", a.handleReady)

	if opts.MetricsPath != "" && app.Metrics != nil {
		r.Handle(opts.MetricsPath, app.Metrics.Handler())
	}
	if opts.MCPPath != "" && app.MCP != nil {
		r.Handle(opts.MCPPath, app.MCP.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleAPIHealth)
		r.Get("/tools", a.handleTools)
		r.Post("/chat", a.handleChat)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", a.handleCreateSession)
			r.Get("/", a.handleListSessions)
			r.Get("/{id}", a.handleGetSession)
			r.Put("/{id}", a.handleUpdateContext)
			r.Delete("/{id}", a.handleDeleteSession)
			r.Get("/{id}/events", a.handleEvents)
		})
	})

	return r
}

// instrument records request metrics by route pattern and logs each request.
func instrument(m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.ObserveRequest(r.Method, route, status, elapsed)
			logger.Debug("http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// cors grants cross-origin access to the listed origins and answers preflight
// requests. With no origins configured it adds nothing.
func cors(origins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !(wildcard || slices.Contains(origins, origin)) {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", "Authorization", "Mcp-Session-Id"}, ", "))
			h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
