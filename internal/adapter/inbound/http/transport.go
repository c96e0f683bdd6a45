package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/port/inbound"
	"github.com/toolgate/toolgate/internal/service"
)

const (
	// defaultMaxPayloadBytes mirrors the invocation pipeline's default
	// serialized-arguments limit.
	defaultMaxPayloadBytes = 1 << 20

	// bodyOverheadBytes is headroom for the JSON-RPC fields around the
	// arguments, so a body whose arguments sit exactly at the payload
	// limit is still readable and fails (or passes) on the real check.
	bodyOverheadBytes = 64 << 10

	// shutdownTimeout bounds graceful drain on stop.
	shutdownTimeout = 10 * time.Second
)

// Services are the collaborators behind the HTTP surface.
type Services struct {
	Invoker   inbound.Invoker
	Registry  *service.RegistryService
	Jobs      *service.JobService
	Audit     *service.AuditService
	Limiter   ratelimit.RateLimiter
	Validator *auth.Validator
	Policy    *policy.Engine
}

// RouteMounter registers additional routes on the server's mux. wrap is the
// bearer-auth middleware; mounters decide per route whether to apply it.
type RouteMounter interface {
	Mount(mux *http.ServeMux, wrap func(http.Handler) http.Handler)
}

// Server is the inbound HTTP adapter: the scoped SSE endpoints, the REST
// surface, health, and metrics behind one net/http server.
type Server struct {
	invoker   inbound.Invoker
	registry  *service.RegistryService
	jobs      *service.JobService
	audit     *service.AuditService
	limiter   ratelimit.RateLimiter
	validator *auth.Validator
	policy    *policy.Engine

	addr         string
	baseURL      string
	appName      string
	appVersion   string
	filesDir     string
	userLimit    ratelimit.Config
	toolLimit    ratelimit.Config
	keepalive    time.Duration
	maxBodyBytes int64
	logger       *slog.Logger
	extraRoutes  RouteMounter

	validate *validator.Validate
	metrics  *Metrics
	health   *HealthChecker
	handler  http.Handler
	server   *http.Server

	// streamCtx ends open SSE keepalive loops on shutdown; Shutdown alone
	// cannot drain connections that never go idle.
	streamCtx     context.Context
	cancelStreams context.CancelFunc
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithBaseURL sets the absolute base advertised in SSE endpoint frames.
// When empty the base is derived from each request.
func WithBaseURL(base string) Option {
	return func(s *Server) { s.baseURL = strings.TrimRight(base, "/") }
}

// WithAppInfo sets the name and version reported by initialize and /health.
func WithAppInfo(name, version string) Option {
	return func(s *Server) {
		s.appName = name
		s.appVersion = version
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithFilesDir sets the root directory served by /files.
func WithFilesDir(dir string) Option {
	return func(s *Server) { s.filesDir = dir }
}

// WithRateLimits sets the per-user and per-tool bucket configs.
func WithRateLimits(user, tool ratelimit.Config) Option {
	return func(s *Server) {
		s.userLimit = user
		s.toolLimit = tool
	}
}

// WithKeepaliveInterval overrides the 30s SSE ping cadence.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(s *Server) { s.keepalive = d }
}

// WithMaxPayloadBytes aligns the transport body cap with the invocation
// pipeline's serialized-arguments limit.
func WithMaxPayloadBytes(n int) Option {
	return func(s *Server) { s.maxBodyBytes = int64(n) + bodyOverheadBytes }
}

// WithExtraRoutes mounts additional route surfaces, such as the admin API.
func WithExtraRoutes(m RouteMounter) Option {
	return func(s *Server) { s.extraRoutes = m }
}

// NewServer creates the HTTP adapter over the given services.
func NewServer(svc Services, opts ...Option) *Server {
	s := &Server{
		invoker:   svc.Invoker,
		registry:  svc.Registry,
		jobs:      svc.Jobs,
		audit:     svc.Audit,
		limiter:   svc.Limiter,
		validator: svc.Validator,
		policy:    svc.Policy,

		addr:         "127.0.0.1:8080",
		appName:      "MCP Gateway",
		appVersion:   "dev",
		filesDir:     "files",
		userLimit:    ratelimit.Config{RequestsPerMinute: 1000, BurstSize: 2000},
		toolLimit:    ratelimit.Config{RequestsPerMinute: 100, BurstSize: 200},
		keepalive:    30 * time.Second,
		maxBodyBytes: defaultMaxPayloadBytes + bodyOverheadBytes,
		logger:       slog.Default(),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	s.streamCtx, s.cancelStreams = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assembles the middleware chain and route table. Start uses it;
// tests may mount it on an httptest server directly.
func (s *Server) Handler() http.Handler {
	if s.handler != nil {
		return s.handler
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(reg)

	var sizer bucketSizer
	if sz, ok := s.limiter.(bucketSizer); ok {
		sizer = sz
	}
	var drops auditDropSource
	if s.audit != nil {
		drops = s.audit
	}
	var jobCounts jobCounterSource
	if s.jobs != nil {
		jobCounts = s.jobs
	}
	registerSourceCollectors(reg, drops, sizer, jobCounts)

	s.health = NewHealthChecker(s.appName, sizer, s.audit)

	// Middleware order, outermost first: metrics captures the full
	// duration, the request span opens beneath it, request ID enriches
	// the logger for everything below, real IP resolves before auth logs
	// the caller.
	var handler http.Handler = s.routes(reg)
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = TracingMiddleware(handler)
	handler = MetricsMiddleware(s.metrics)(handler)

	s.handler = handler
	return s.handler
}

// routes builds the route table. Bearer auth is per-route: health, metrics,
// and favicon stay open.
func (s *Server) routes(reg *prometheus.Registry) http.Handler {
	authed := BearerAuthMiddleware(s.validator, s.policy)

	mux := http.NewServeMux()
	mux.Handle("/health", s.health.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.Handle("GET /{scope}/sse", authed(http.HandlerFunc(s.handleSSEStream)))
	mux.Handle("POST /{scope}/sse", authed(http.HandlerFunc(s.handleSSEMessage)))
	mux.Handle("POST /mcp/invoke", authed(http.HandlerFunc(s.handleInvoke)))
	mux.Handle("GET /mcp/tools", authed(http.HandlerFunc(s.handleListTools)))
	mux.Handle("POST /mcp/jobs", authed(http.HandlerFunc(s.handleSubmitJob)))
	mux.Handle("GET /mcp/jobs/{id}", authed(http.HandlerFunc(s.handleGetJob)))
	mux.Handle("DELETE /mcp/jobs", authed(http.HandlerFunc(s.handleCleanupJobs)))
	mux.Handle("GET /files/{user_id}/{filename}", authed(http.HandlerFunc(s.handleDownloadFile)))

	if s.extraRoutes != nil {
		s.extraRoutes.Mount(mux, authed)
	}
	return mux
}

// Start begins serving and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// End keepalive loops first so their connections can drain.
	s.cancelStreams()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server. Safe to call before Start.
func (s *Server) Close() error {
	if s.server == nil {
		s.cancelStreams()
		return nil
	}
	return s.shutdown()
}
