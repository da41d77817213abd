package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc/gss"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/state"
	"github.com/marmos91/nfscallback/internal/logger"
	"github.com/marmos91/nfscallback/internal/telemetry"
	"github.com/marmos91/nfscallback/pkg/auth/kerberos"
	"github.com/marmos91/nfscallback/pkg/config"
	"github.com/marmos91/nfscallback/pkg/metrics"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// env is everything a command needs to talk to callback services.
type env struct {
	cfg      *config.Config
	manager  *state.Manager
	registry *prometheus.Registry

	closers []func()
}

// setupEnv loads configuration and brings up logging, tracing,
// profiling, metrics and (when enabled) Kerberos. The returned env must
// be closed.
func setupEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, registry: prometheus.NewRegistry()}
	if err := e.setup(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) setup(ctx context.Context) error {
	cfg := e.cfg

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nfscb",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	e.onClose(func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	})

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "nfscb",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	e.onClose(func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	})

	opts := state.Options{Callback: cfg.Callback}

	if cfg.Metrics.Enabled || metricsAddr != "" {
		e.registry.MustRegister(collectors.NewGoCollector())
		opts.Metrics = state.NewMetrics(e.registry)
		e.serveMetrics(ctx)
	}

	if cfg.Kerberos.Enabled {
		provider, err := kerberos.NewProvider(&cfg.Kerberos)
		if err != nil {
			return fmt.Errorf("failed to initialize kerberos: %w", err)
		}
		e.onClose(func() { _ = provider.Close() })

		svc, err := gss.ParseService(cfg.Kerberos.Protection)
		if err != nil {
			return err
		}
		opts.TokenSource = gss.NewKrb5TokenSource(provider)
		opts.GSSService = svc
		logger.Info("RPCSEC_GSS callbacks enabled",
			"principal", provider.Principal(), "service", gss.ServiceName(svc))
	}

	e.manager = state.NewManager(opts)
	return nil
}

// serveMetrics runs the metrics endpoint until the env is closed.
func (e *env) serveMetrics(ctx context.Context) {
	addr := metricsAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", e.cfg.Metrics.Port)
	}
	srv := metrics.NewServer(addr, e.registry)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	e.onClose(func() {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Metrics server exited with error", logger.KeyError, err)
		}
	})
}

func (e *env) onClose(fn func()) { e.closers = append(e.closers, fn) }

// Close tears down every client the command registered, then the
// subsystems in reverse order of setup.
func (e *env) Close() {
	if e.manager != nil {
		for _, id := range e.manager.Clients().IDs() {
			_ = e.manager.DestroyClient(id)
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
