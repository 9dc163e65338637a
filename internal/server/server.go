package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leslieo2/prononciation-gateway/internal/config"
	"github.com/leslieo2/prononciation-gateway/internal/constants"
	"github.com/leslieo2/prononciation-gateway/internal/hotreload"
	"github.com/leslieo2/prononciation-gateway/internal/observability"
	"github.com/leslieo2/prononciation-gateway/internal/openapi"
	"github.com/leslieo2/prononciation-gateway/internal/security"
	"github.com/leslieo2/prononciation-gateway/internal/upstream"
)

type Server struct {
	config        *config.Config
	handler       http.Handler
	server        *http.Server
	metricsServer *http.Server

	forwarder *upstream.Forwarder
	prober    *upstream.Prober
	openapi   http.Handler

	// Security
	rateLimiter *security.RateLimiter

	// Observability
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	mu          sync.Mutex
	ready       chan struct{}
	addr        string
	metricsAddr string
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger       *observability.Logger
	upstreamOpts []upstream.Option
}

// WithLogger shares an existing logger instead of building one from config.
func WithLogger(logger *observability.Logger) Option {
	return func(o *serverOptions) { o.logger = logger }
}

// WithUpstreamOptions appends options to the Forwarder and Prober.
func WithUpstreamOptions(opts ...upstream.Option) Option {
	return func(o *serverOptions) { o.upstreamOpts = append(o.upstreamOpts, opts...) }
}

func New(cfg *config.Config, opts ...Option) (*Server, error) {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = observability.NewLogger(cfg.Observability.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	metrics := observability.NewMetrics()
	if err := metrics.Register(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	tracer, err := observability.NewTracer(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	docHandler, err := openapi.Handler(openapi.Document(cfg.Upstream.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to build OpenAPI document: %w", err)
	}

	upstreamOpts := append([]upstream.Option{
		upstream.WithLogger(logger.Named("upstream")),
		upstream.WithTracer(tracer.Tracer()),
		upstream.WithRecorder(metrics),
	}, o.upstreamOpts...)

	s := &Server{
		config:      cfg,
		forwarder:   upstream.NewForwarder(cfg.Upstream, upstreamOpts...),
		prober:      upstream.NewProber(cfg.Upstream, upstreamOpts...),
		openapi:     docHandler,
		rateLimiter: security.NewRateLimiter(cfg.Security.RateLimit, metrics),
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		ready:       make(chan struct{}),
	}
	s.handler = s.applyMiddleware(s.routes())

	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	s.registerRoute(mux, http.MethodGet, constants.PathRoot, s.rootHandler)
	s.registerRoute(mux, http.MethodGet, constants.PathPing, s.pingHandler)
	s.registerRoute(mux, http.MethodGet, constants.PathHealth, s.healthHandler)
	s.registerRoute(mux, http.MethodGet, constants.PathLanguesSupportees, s.languesSupporteesHandler)
	s.registerRoute(mux, http.MethodGet, constants.PathExercice, s.exerciceHandler)
	s.registerRoute(mux, http.MethodPost, constants.PathAjouterPhrase, s.ajouterPhraseHandler)
	s.registerRoute(mux, http.MethodPost, constants.PathAnalysePrononciation, s.analysePrononciationHandler)
	s.registerRoute(mux, http.MethodPost, constants.PathScore, s.scoreHandler)
	s.registerRoute(mux, http.MethodGet, constants.PathOpenAPI, s.openAPIHandler)

	mux.Handle("/", s.fallbackHandler(mux))
	return mux
}

// registerRoute registers an instrumented handler. The root path matches
// only "/" itself.
func (s *Server) registerRoute(mux *http.ServeMux, method, path string, handler http.HandlerFunc) {
	pattern := method + " " + path
	if path == constants.PathRoot {
		pattern = method + " /{$}"
	}
	mux.Handle(pattern, s.instrument(path, handler))

	s.logger.Debug("Registered route",
		zap.String("method", method),
		zap.String("path", path),
	)
}

// Handler returns the full inbound handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled or a listener fails, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.GetServerAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.GetServerAddress(), err)
	}

	s.mu.Lock()
	s.server = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
		ErrorLog:       zap.NewStdLog(s.logger.Logger),
	}
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	errCh := make(chan error, 2)

	if s.config.Observability.Metrics.Enabled {
		mln, err := net.Listen("tcp", s.config.GetMetricsAddress())
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.config.GetMetricsAddress(), err)
		}

		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET "+s.config.Observability.Metrics.Path, s.metrics.Handler())

		s.mu.Lock()
		s.metricsServer = &http.Server{
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.metricsAddr = mln.Addr().String()
		s.mu.Unlock()

		s.logger.Info("Starting metrics server",
			zap.String("address", s.metricsAddr),
			zap.String("path", s.config.Observability.Metrics.Path),
		)
		go func() {
			if err := s.metricsServer.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	s.logger.Info("Starting server",
		zap.String("address", s.addr),
		zap.String("upstream_url", s.config.Upstream.BaseURL),
		zap.Bool("tls", s.config.TLS.Enabled),
	)

	go func() {
		var err error
		if s.config.TLS.Enabled {
			err = s.server.ServeTLS(ln, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	close(s.ready)

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
	case serveErr = <-errCh:
		s.logger.Error("Server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address of the main listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// MetricsAddr returns the bound address of the metrics listener, or "".
func (s *Server) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// Shutdown stops both servers in parallel and releases background
// resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	servers := map[string]*http.Server{"main": s.server, "metrics": s.metricsServer}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(servers))

	for name, srv := range servers {
		if srv == nil {
			continue
		}
		wg.Add(1)
		go func(name string, srv *http.Server) {
			defer wg.Done()
			s.logger.Info("Shutting down " + name + " server...")
			if err := srv.Shutdown(ctx); err != nil {
				s.logger.Error("Failed to shutdown "+name+" server", zap.Error(err))
				errChan <- fmt.Errorf("%s server shutdown: %w", name, err)
			}
		}(name, srv)
	}

	wg.Wait()
	close(errChan)

	errs := make([]error, 0, len(servers)+1)
	for err := range errChan {
		errs = append(errs, err)
	}

	s.rateLimiter.Close()
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	_ = s.logger.Sync()

	return errors.Join(errs...)
}

// Reloadables returns the components that follow config file changes. The
// upstream target is fixed for the process lifetime, so a changed base URL
// is only reported.
func (s *Server) Reloadables() []hotreload.Reloadable {
	return []hotreload.Reloadable{
		hotreload.ReloadableFunc("logger", func(_ context.Context, cfg *config.Config) error {
			return s.logger.SetLevel(cfg.Observability.Logging.Level)
		}),
		hotreload.ReloadableFunc("rate_limiter", func(_ context.Context, cfg *config.Config) error {
			s.rateLimiter.Reload(cfg.Security.RateLimit)
			return nil
		}),
		hotreload.ReloadableFunc("upstream", func(_ context.Context, cfg *config.Config) error {
			if cfg.Upstream.BaseURL != s.config.Upstream.BaseURL {
				s.logger.Warn("Upstream URL change ignored until restart",
					zap.String("current", s.config.Upstream.BaseURL),
					zap.String("configured", cfg.Upstream.BaseURL),
				)
			}
			return nil
		}),
	}
}

// Logger returns the server logger.
func (s *Server) Logger() *observability.Logger {
	return s.logger
}
