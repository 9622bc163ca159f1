package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"redeploy/internal/config"
	"redeploy/internal/deployment"
	"redeploy/internal/history"
	"redeploy/internal/metrics"
)

const (
	// HTTP server timeouts. Writes are not bounded server-wide because a
	// notification is answered only once its deployment has finished.
	HTTPReadTimeout  = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second
	ShutdownTimeout  = 30 * time.Second

	// Request timeout for the read-only endpoints
	RequestTimeout = 30 * time.Second

	// Rate limiting
	GlobalRateLimit  = 600 // requests per hour
	WebhookRateLimit = 30  // notifications per minute
)

// Deployer runs deployments for incoming notifications
type Deployer interface {
	HandleBuildNotification(ctx context.Context, job string, build int) *deployment.Outcome
	Busy() bool
}

// HistoryReader serves the status endpoint
type HistoryReader interface {
	GetLatestDeployment(ctx context.Context, job string) (*history.DeploymentRecord, error)
	GetDeploymentHistory(ctx context.Context, job string, limit int) ([]history.DeploymentRecord, error)
	GetAllJobsStatus(ctx context.Context) (map[string]*history.DeploymentRecord, error)
}

// Server represents the HTTP server
type Server struct {
	Deployer Deployer
	History  HistoryReader
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Secret enables signature verification when non-empty
	Secret string
	// Symlink is reported by the health endpoint
	Symlink  string
	TestMode bool

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new server instance. hist and m may be nil.
func NewServer(deployer Deployer, hist HistoryReader, m *metrics.Metrics, settings config.Settings, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Deployer: deployer,
		History:  hist,
		Metrics:  m,
		Logger:   logger,
		Secret:   settings.WebhookSecret,
		Symlink:  settings.Symlink,
		TestMode: testMode,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Get("/health", s.HandleHealth)
		r.Get("/status", s.HandleStatus)
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	})

	// Notifications are answered synchronously and may take as long as the
	// deployment does, so they are not under the request timeout.
	r.Group(func(r chi.Router) {
		if !s.TestMode {
			r.Use(NewWebhookRateLimitMiddleware(WebhookRateLimit, s.Logger))
		}
		r.Post("/", s.HandleNotification)
		r.Post("/hook", s.HandleNotification)
	})

	return r
}

// requestLogger logs every request and feeds the HTTP metrics
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds())
			s.Metrics.ObserveRequest(r.Method, route, status, time.Since(start))
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start listens on addr and serves until Shutdown
func (s *Server) Start(addr string) error {
	s.Logger.Info("Starting server", "addr", addr)

	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: HTTPReadTimeout,
		IdleTimeout: HTTPIdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight deployments
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
