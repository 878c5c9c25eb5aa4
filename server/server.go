// Package server embeds the runtime: it builds the application, wires the
// dispatcher, metrics, access log and rotation controller, and runs the HTTP
// listener until a termination signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wudi/hyperfast/config"
	"github.com/wudi/hyperfast/internal/accesslog"
	iconfig "github.com/wudi/hyperfast/internal/config"
	"github.com/wudi/hyperfast/internal/dispatch"
	"github.com/wudi/hyperfast/internal/hostname"
	"github.com/wudi/hyperfast/internal/listener"
	"github.com/wudi/hyperfast/internal/logging"
	"github.com/wudi/hyperfast/internal/metrics"
	"github.com/wudi/hyperfast/internal/rotation"
	"github.com/wudi/hyperfast/internal/tracing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoadConfig reads a single YAML configuration file.
func LoadConfig(path string) (*config.Config, error) {
	return iconfig.NewLoader().Load(path)
}

// LoadLayered reads service-default.yml from dir and overlays service-{env}.yml.
func LoadLayered(dir, env string) (*config.Config, error) {
	return iconfig.NewLoader().LoadLayered(dir, env)
}

// Builder constructs a Server.
type Builder struct {
	cfg        *config.Config
	app        ServiceBuilder
	hooks      []Hook
	logger     *zap.Logger
	watchPaths []string
	watchLoad  iconfig.LoadFunc
}

// New creates a Builder for the given configuration and application. A nil
// cfg means config.DefaultConfig().
func New(cfg *config.Config, app ServiceBuilder) *Builder {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Builder{cfg: cfg, app: app}
}

// WithHooks registers additional hooks run after every request.
func (b *Builder) WithHooks(hooks ...Hook) *Builder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

// WithLogger uses l instead of building a logger from the logging config.
// Log level hot reload is unavailable with an external logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithConfigFile watches path and applies logging.level changes at runtime.
func (b *Builder) WithConfigFile(path string) *Builder {
	loader := iconfig.NewLoader()
	b.watchPaths = []string{path}
	b.watchLoad = func() (*config.Config, error) { return loader.Load(path) }
	return b
}

// WithSettingsDir watches the layered settings in dir for env and applies
// logging.level changes at runtime.
func (b *Builder) WithSettingsDir(dir, env string) *Builder {
	loader := iconfig.NewLoader()
	b.watchPaths = iconfig.LayeredPaths(dir, env)
	b.watchLoad = func() (*config.Config, error) { return loader.LoadLayered(dir, env) }
	return b
}

// Build resolves the hostname, builds the application and wires the runtime.
func (b *Builder) Build(ctx context.Context) (*Server, error) {
	if b.app == nil {
		return nil, errors.New("server: a ServiceBuilder is required")
	}
	cfg := b.cfg

	s := &Server{cfg: cfg, log: b.logger}
	if s.log == nil {
		l, level := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Output: cfg.Logging.Output,
			Rotation: logging.Rotation{
				MaxSize:    cfg.Logging.Rotation.MaxSize,
				MaxBackups: cfg.Logging.Rotation.MaxBackups,
				MaxAge:     cfg.Logging.Rotation.MaxAge,
				Compress:   cfg.Logging.Rotation.Compress,
				LocalTime:  cfg.Logging.Rotation.LocalTime,
			},
		})
		logging.SetGlobal(l)
		s.log = l
		s.level = &level
	}

	host, err := hostname.Resolve()
	if err != nil {
		return nil, err
	}
	s.hostname = host

	svc, daemon, err := b.app.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("building service: %w", err)
	}
	s.svc = svc
	s.daemon = daemon

	s.rotation = rotation.New()

	var hooks []Hook
	if cfg.Metrics.Enabled {
		s.registry = metrics.NewRegistry()
		hooks = append(hooks, dispatch.RecordHook(s.registry))
	}
	if cfg.AccessLog.Enabled {
		hooks = append(hooks, accesslog.New(s.log).Log)
	}
	hooks = append(hooks, b.hooks...)

	opts := dispatch.Options{
		Hostname:       host,
		MetricsEnabled: cfg.Metrics.Enabled,
		PayloadLimit:   cfg.JSONPayloadLimit,
		Logger:         s.log,
	}
	if cfg.ResponseTime.Enabled {
		opts.ResponseTimeHeader = cfg.ResponseTime.Header
	}
	s.dispatcher = dispatch.New(svc, s.registry, s.rotation, opts, hooks...)

	s.tracer, err = tracing.New(cfg.Tracing, host)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	s.handler = s.tracer.Wrap(s.dispatcher)

	s.listener, err = listener.New(listener.Config{
		Address:           cfg.Listener.Address,
		Handler:           s.handler,
		TLS:               cfg.Listener.TLS,
		ReadTimeout:       cfg.Listener.ReadTimeout,
		WriteTimeout:      cfg.Listener.WriteTimeout,
		IdleTimeout:       cfg.Listener.IdleTimeout,
		MaxHeaderBytes:    cfg.Listener.MaxHeaderBytes,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
		EnableHTTP3:       cfg.Listener.EnableHTTP3,
		Refuse:            s.refusing.Load,
		Logger:            s.log,
	})
	if err != nil {
		return nil, err
	}

	if b.watchLoad != nil {
		w, err := iconfig.NewWatcher(b.watchPaths, b.watchLoad)
		if err != nil {
			return nil, fmt.Errorf("watching config: %w", err)
		}
		w.OnChange(s.applyConfig)
		s.watcher = w
	}

	return s, nil
}

// Server is a built runtime ready to serve.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	level      *zap.AtomicLevel
	hostname   string
	svc        Service
	daemon     ServiceDaemon
	registry   *metrics.Registry
	rotation   *rotation.Controller
	dispatcher *dispatch.Dispatcher
	tracer     *tracing.Tracer
	handler    http.Handler
	listener   *listener.Listener
	watcher    *iconfig.Watcher

	startOnce    sync.Once
	shutdownOnce sync.Once
	// refusing gates new connections. It is set once the drain delay ends.
	refusing    atomic.Bool
	shutdownErr error
	stopDaemon  context.CancelFunc
}

// Handler returns the root http.Handler, useful for testing or embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (s *Server) Registry() *metrics.Registry {
	return s.registry
}

// Rotation returns the rotation controller.
func (s *Server) Rotation() *rotation.Controller {
	return s.rotation
}

// Hostname returns the resolved hostname stamped on responses.
func (s *Server) Hostname() string {
	return s.hostname
}

// Addr returns the listener address; after Start it is the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr()
}

// Start binds the listener, serves in the background and starts the daemon
// and config watcher.
func (s *Server) Start() error {
	if err := s.listener.Listen(); err != nil {
		return err
	}
	s.startBackground()

	go func() {
		if err := s.listener.Serve(); err != nil {
			s.log.Error("listener stopped", zap.Error(err))
		}
	}()
	return nil
}

// Run serves until SIGINT or SIGTERM, then shuts down per the configured policy.
func (s *Server) Run() error {
	return s.RunContext(context.Background())
}

// RunContext is Run with a parent context; cancelling ctx also shuts down.
func (s *Server) RunContext(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.listener.Listen(); err != nil {
		return err
	}
	s.startBackground()

	s.log.Info("server started",
		zap.String("addr", s.listener.Addr()),
		zap.String("hostname", s.hostname),
		zap.Bool("http3", s.listener.HTTP3Enabled()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.listener.Serve)
	g.Go(func() error {
		<-gctx.Done()
		s.log.Warn("received shutdown signal")
		return s.Shutdown(context.Background())
	})
	return g.Wait()
}

func (s *Server) startBackground() {
	s.startOnce.Do(func() {
		daemonCtx, cancel := context.WithCancel(context.Background())
		s.stopDaemon = cancel
		if s.daemon != nil {
			go s.daemon.Start(daemonCtx, s.svc)
		}
		if s.watcher != nil {
			if err := s.watcher.Start(); err != nil {
				s.log.Warn("config watcher not started", zap.Error(err))
			}
		}
	})
}

// Shutdown marks the instance as shutting down and takes it out of rotation.
// New connections are still served, reporting NOK on /health, until
// shutdown.drain_delay has passed. The listener then stops per the configured
// policy. ctx bounds the drain in
// addition to shutdown.timeout. Only the first call has an effect.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.rotation.Shutdown()
	if s.stopDaemon != nil {
		s.stopDaemon()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	defer s.log.Sync()
	defer func() {
		if err := s.tracer.Close(context.Background()); err != nil {
			s.log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	sc := s.cfg.Shutdown
	if sc.Policy == config.ShutdownExit {
		s.log.Info("closing listener immediately")
		s.refusing.Store(true)
		return s.listener.Close()
	}

	if sc.DrainDelay > 0 {
		s.log.Info("draining before shutdown", zap.Duration("drain_delay", sc.DrainDelay))
		select {
		case <-time.After(sc.DrainDelay):
		case <-ctx.Done():
		}
	}

	s.refusing.Store(true)
	if sc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sc.Timeout)
		defer cancel()
	}
	if err := s.listener.Stop(ctx); err != nil {
		s.log.Error("graceful shutdown incomplete, closing", zap.Error(err))
		s.listener.Close()
		return err
	}
	s.log.Info("server shutdown complete")
	return nil
}

// applyConfig applies the hot-reloadable subset of a changed configuration.
func (s *Server) applyConfig(cfg *config.Config) {
	if s.level != nil && cfg.Logging.Level != s.level.Level().String() {
		s.level.SetLevel(logging.ParseLevel(cfg.Logging.Level))
		s.log.Info("log level changed", zap.String("level", cfg.Logging.Level))
	}
	next, cur := *cfg, *s.cfg
	next.Logging.Level, cur.Logging.Level = "", ""
	if !reflect.DeepEqual(next, cur) {
		s.log.Warn("configuration changed; restart required for settings other than logging.level")
	}
}
