package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"ticket-ledger/internal/handlers"
	"ticket-ledger/internal/metrics"
	"ticket-ledger/internal/middleware"
	"ticket-ledger/internal/services"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const serviceName = "ticket-ledger"

// Dependencies are the collaborators the HTTP API is assembled from
type Dependencies struct {
	Ledger services.LedgerServiceInterface
	Tokens middleware.TokenVerifier
	Logger zerolog.Logger
	CORS   middleware.CORSConfig

	// Registry backs /metrics; nil disables both the endpoint and HTTP metrics
	Registry *prometheus.Registry

	// Limiter throttles writes per caller; nil disables it
	Limiter *middleware.WriteRateLimiter

	// Storage names the backend reported by /health. Ping, when set, is
	// called on every health check.
	Storage string
	Ping    func(ctx context.Context) error
}

// NewRouter wires middleware, ledger routes, /health and /metrics
func NewRouter(deps Dependencies) http.Handler {
	callers := middleware.NewCallerMiddleware(deps.Tokens, deps.Logger)

	var httpMetrics *metrics.HTTPMetrics
	if deps.Registry != nil {
		httpMetrics = metrics.NewHTTPMetrics(deps.Registry)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(deps.Logger))
	r.Use(middleware.ErrorHandlingMiddleware(deps.Logger))
	r.Use(chimiddleware.CleanPath)
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.CORSMiddleware(deps.CORS))
	r.Use(middleware.MetricsMiddleware(httpMetrics))
	r.Use(callers.LoadCaller)
	if deps.Limiter != nil {
		r.Use(middleware.WriteRateLimit(deps.Limiter))
	}

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", healthHandler(deps.Storage, deps.Ping))
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))
	}

	handlers.NewLedgerHandler(deps.Ledger, deps.Logger).RegisterRoutes(r, callers.RequireCaller)

	return r
}

func healthHandler(storage string, ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": serviceName,
			"storage": storage,
		})
	}
}

// Options tune the http.Server
type Options struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

func New(addr string, handler http.Handler, opts Options, logger zerolog.Logger) *Server {
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		shutdownTimeout: shutdown,
		logger:          logger,
	}
}

// Run listens on the configured address until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests within the shutdown timeout
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Dur("timeout", s.shutdownTimeout).Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
