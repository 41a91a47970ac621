// Package server provides the stub inference target used for local runs
// and tests. It answers the same /ping and /predict contract as the real
// sentiment service with a keyword classifier and artificial delay.
package server

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sfarrukhm/sentiment-mlops/internal/config"
	"github.com/sfarrukhm/sentiment-mlops/internal/metrics"
	appctx "github.com/sfarrukhm/sentiment-mlops/internal/pkg/context"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/errors"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/logger"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/middleware"
	"github.com/sfarrukhm/sentiment-mlops/internal/pkg/security"
)

// Server is the stub sentiment endpoint.
type Server struct {
	cfg        Config
	log        *logger.Logger
	metrics    *metrics.Metrics
	limiter    *middleware.RateLimiter
	handler    http.Handler
	httpServer *http.Server

	rngMu sync.Mutex
	rng   *rand.Rand

	served atomic.Int64

	mu      sync.Mutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is reported by /healthz.
	Version string

	// Delay is added to every prediction.
	Delay time.Duration

	// Jitter is the upper bound of a random extra delay.
	Jitter time.Duration

	// RateLimit is the per-client limit in requests/sec. 0 disables it.
	RateLimit float64

	// FailRate is the fraction of predictions answered with 503.
	FailRate float64

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8000,
		Version:         "dev",
		Delay:           20 * time.Millisecond,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ConfigFromStub builds a server config from the application settings.
func ConfigFromStub(sc config.StubConfig, version string) Config {
	cfg := DefaultConfig()
	cfg.Host = sc.Host
	cfg.Port = sc.Port
	cfg.Delay = sc.Delay
	cfg.Jitter = sc.Jitter
	cfg.RateLimit = sc.RateLimit
	cfg.FailRate = sc.FailRate
	if version != "" {
		cfg.Version = version
	}
	return cfg
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// New creates a server. m may be nil to disable HTTP metrics.
func New(cfg Config, log *logger.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		cfg:     cfg,
		log:     log.WithComponent("stub"),
		metrics: m,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	if cfg.RateLimit > 0 {
		rlCfg := middleware.DefaultRateLimiterConfig()
		rlCfg.RequestsPerSecond = cfg.RateLimit
		rlCfg.Burst = 0
		s.limiter = middleware.NewRateLimiter(rlCfg)
	}
	s.handler = s.setupRoutes()
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Served returns the number of predictions answered.
func (s *Server) Served() int64 {
	return s.served.Load()
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to listen on "+s.cfg.Addr(), err)
	}
	return s.Serve(l)
}

// Serve serves on l until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting stub server",
		"addr", l.Addr().String(),
		"delay", s.cfg.Delay.String(),
		"jitter", s.cfg.Jitter.String(),
		"rate_limit", s.cfg.RateLimit,
	)

	if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if !s.started {
		return nil
	}

	s.log.Info("Shutting down stub server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	s.started = false
	s.log.Info("Stub server stopped", "served", s.Served())
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)
	if s.metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return metrics.HTTPMiddleware(s.metrics, next)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.NotFoundError("route "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteJSON(w, http.StatusMethodNotAllowed, errors.ErrorResponse{
			Error: "method not allowed",
			Code:  errors.CodeInvalidRequest,
		})
	})

	r.Get("/ping", s.handlePing)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/predict", s.handlePredictQuery)
		r.Post("/predict", s.handlePredictJSON)
	})

	return r
}

// logRequests logs every request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"client", middleware.ClientIP(r),
			"user_agent", security.SanitizeForLogWithLength(r.UserAgent(), 80),
			"run_id", security.SanitizeForLogWithLength(r.Header.Get(appctx.RunIDHeader), 64),
			"duration", time.Since(start),
		)
	})
}
