package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/execstream/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/storage"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/stream"
)

// Deps replaces collaborators the server would otherwise build from config.
// Zero fields are built as usual.
type Deps struct {
	Logger  *logging.Logger
	Control kernel.Control
	Dialer  stream.Dialer
	Store   storage.Store
}

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	registry *registry.Registry
	control  kernel.Control
	store    storage.Store
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics

	mu         sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	return New(cfg, Deps{})
}

// New creates a server, taking any collaborators set in deps as given.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}

	logger.Info("Initializing execstream gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("kernel_protocol", cfg.Kernel.Protocol),
		zap.String("kernel_addr", cfg.Kernel.Address),
		zap.String("stream_transport", cfg.Stream.Transport),
		zap.String("storage", cfg.Storage.Backend),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	tracer := tracing.New("execstream", logger.Named("tracing"))

	store := deps.Store
	if store == nil {
		var err error
		if store, err = storage.Open(cfg.Storage); err != nil {
			tracer.Close()
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
		}
	}
	snapshots := storage.NewSnapshots(store, storage.Codec{Threshold: cfg.Storage.CompressThreshold}, logger.Named("storage"))

	control := deps.Control
	if control == nil {
		var err error
		control, err = kernel.NewControl(cfg.Kernel, kernel.Options{
			Timeout:           cfg.Kernel.RequestTimeout.Std(),
			RequestsPerSecond: cfg.Kernel.RequestsPerSec,
			Logger:            logger.Named("kernel"),
			Metrics:           metrics,
			Tracer:            tracer,
		})
		if err != nil {
			_ = store.Close()
			tracer.Close()
			return nil, fmt.Errorf("failed to build kernel control: %w", err)
		}
	}
	logger.Info("Kernel control ready", zap.String("protocol", cfg.Kernel.Protocol))

	dialer := deps.Dialer
	if dialer == nil {
		dialer = newDialer(cfg.Stream)
	}

	opts := registry.OptionsFromConfig(cfg)
	opts.Control = control
	opts.Dialer = dialer
	opts.Snapshots = snapshots
	opts.Logger = logger.Logger
	opts.Metrics = metrics
	reg := registry.New(opts)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Named("access")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
			zap.Bool("global", cfg.RateLimit.Global),
		)
		limits := middleware.RateLimitFromConfig(cfg.RateLimit)
		if cfg.RateLimit.Global {
			router.Use(middleware.GlobalRateLimit(limits))
		} else {
			router.Use(middleware.RateLimit(limits))
		}
	}

	handlers := apihttp.NewHandlers(reg, metrics, logger.Logger)
	handlers.SetOpenTimeout(cfg.Stream.ConnectTimeout.Std())
	relay := ws.NewRelay(reg, metrics, logger.Logger)

	handlers.RegisterRoutes(router)
	router.GET("/sessions/:uuid/stream", relay.HandleConnection)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		registry: reg,
		control:  control,
		store:    store,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		logCfg.Level = cfg.Level
	}
	logCfg.File = cfg.File
	if cfg.MaxSizeMB > 0 {
		logCfg.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		logCfg.MaxBackups = cfg.MaxBackups
	}
	return logging.New(logCfg)
}

func newDialer(cfg config.StreamConfig) stream.Dialer {
	if cfg.Transport == config.TransportSSE {
		return stream.NewSSEDialer(cfg.URL, cfg.SendURL)
	}
	return stream.NewWebSocketDialer(cfg.URL)
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the session registry the server serves.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Run starts the liveness poll and serves HTTP until Close.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.startLivenessPoll()

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startLivenessPoll() {
	interval := s.config.Kernel.LivenessInterval.Std()
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval <= 0 || s.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})
	go func() {
		defer close(s.pollDone)
		s.registry.RunLivenessPoll(ctx, interval)
	}()
}

// Close gracefully shuts down the server. Sessions are torn down with their
// snapshots flushed.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown(ctx)
	})
	return s.closeErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.mu.Lock()
	// blocks later Serve calls from restarting the poll
	if s.pollCancel == nil {
		s.pollCancel = func() {}
		s.pollDone = make(chan struct{})
		close(s.pollDone)
	}
	cancel, done := s.pollCancel, s.pollDone
	s.mu.Unlock()
	cancel()
	<-done

	if err := s.registry.Close(ctx); err != nil {
		s.logger.Error("Failed to close sessions", zap.Error(err))
		errs = append(errs, fmt.Errorf("close sessions: %w", err))
	}

	if closer, ok := s.control.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("Failed to close kernel control", zap.Error(err))
			errs = append(errs, fmt.Errorf("close kernel control: %w", err))
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close store", zap.Error(err))
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
