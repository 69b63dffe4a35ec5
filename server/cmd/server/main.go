package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devsecops/sampleapp/server/internal/alerts"
	"github.com/devsecops/sampleapp/server/internal/api"
	"github.com/devsecops/sampleapp/server/internal/auth"
	"github.com/devsecops/sampleapp/server/internal/config"
	"github.com/devsecops/sampleapp/server/internal/procstats"
	"github.com/devsecops/sampleapp/server/internal/readiness"
	"github.com/devsecops/sampleapp/server/internal/sampler"
	"github.com/devsecops/sampleapp/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file; environment variables override it")
	logFormat := flag.String("log-format", "", "json or text; overrides log.format")
	flag.Parse()

	// Uptime is measured from here.
	provider := procstats.NewRuntime(nil)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	slog.SetDefault(newLogger(os.Stdout, cfg.Log.Format, level))

	slog.Info("sampleapp starting",
		"version", cfg.App.Version,
		"build", cfg.App.Build,
		"commit", cfg.App.Commit,
		"environment", cfg.App.Environment,
		"config", *configPath,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, provider, level); err != nil {
		slog.Error("sampleapp stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("sampleapp stopped")
}

// newLogger builds the process logger. Unknown formats fall back to JSON.
func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// run wires every component and blocks until ctx is cancelled and the drain
// finishes. It returns an error only for startup or listener failures; a
// drain that overruns the shutdown timeout is logged, not returned.
func run(ctx context.Context, cfg *config.Config, configPath string, provider procstats.Provider, level *slog.LevelVar) error {
	// Background sampling feeds the alerts engine and the WebSocket hub.
	smp := sampler.New(provider, cfg.Sampler.Interval, cfg.Sampler.History)

	alertEngine, err := alerts.New(cfg.Alerts, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	smp.Subscribe(alertEngine.Evaluate)

	checker := readiness.New(cfg.Readiness.CheckTimeout)

	authCfg := cfg.Server.Auth
	pprofGuard := func(next http.Handler) http.Handler {
		return auth.HTTP(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key(), next)
	}
	hub := ws.New(smp, cfg.Sampler.Interval)
	handler := api.New(api.Options{
		App:        cfg.App,
		Security:   cfg.Security,
		Provider:   provider,
		Readiness:  checker,
		Alerts:     alertEngine,
		Mounts:     map[string]http.Handler{"/ws/metrics": hub},
		Pprof:      cfg.Server.Pprof,
		PprofGuard: pprofGuard,
		Compress:   cfg.Server.Compress,
	})

	rt := &runtimeKnobs{
		level:      level,
		handler:    handler,
		checker:    checker,
		provider:   provider,
		alerts:     alertEngine,
		hostMemory: procstats.HostMemory(),
	}
	rt.registerChecks(cfg.Readiness)
	slog.Info("readiness checks registered", "checks", checker.Names())

	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on HTTP port %d: %w", cfg.Server.Port, err)
	}
	if cfg.Server.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, cfg.Server.MaxConnections)
	}

	// gRPC health service, optional.
	var (
		grpcSrv    *grpc.Server
		grpcLis    net.Listener
		healthSync *readiness.GRPCSync
	)
	if cfg.Server.GRPCPort > 0 {
		grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			lis.Close()
			return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
		}
		header, key := authCfg.EffectiveHeader(), authCfg.Key()
		grpcSrv = grpc.NewServer(
			grpc.ChainUnaryInterceptor(auth.APIKeyInterceptor(authCfg.Mode, header, key)),
			grpc.ChainStreamInterceptor(auth.APIKeyStreamInterceptor(authCfg.Mode, header, key)),
		)
		healthSync = readiness.NewGRPCSync(checker, cfg.Readiness.SyncInterval)
		healthpb.RegisterHealthServer(grpcSrv, healthSync.Server())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.Port,
			"max_connections", cfg.Server.MaxConnections)
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			slog.Info("gRPC health service listening", "port", cfg.Server.GRPCPort,
				"auth_mode", authCfg.Mode)
			return serveGRPC(grpcSrv, grpcLis)
		})
		g.Go(func() error {
			healthSync.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		smp.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, rt.apply)
			if err != nil {
				// Losing hot reload is not fatal.
				slog.Warn("config watch disabled", "path", configPath, "err", err)
			}
			return nil
		})
	}

	// Shutdown: stop accepting, drain in-flight requests, stop gRPC.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("sampleapp shutting down", "drain_timeout", cfg.Server.ShutdownTimeout)
		return shutdown(httpSrv, grpcSrv, cfg.Server.ShutdownTimeout)
	})

	err = g.Wait()
	alertEngine.Wait()
	return err
}

// serveGRPC runs srv on lis. ErrServerStopped means shutdown won the race
// against Serve, which is a clean stop.
func serveGRPC(srv *grpc.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// runtimeKnobs holds the components whose settings a config reload may
// change while serving: log level, the security summary on GET / and the
// readiness thresholds. Listeners, ports, auth, sampling and alert rules
// need a restart.
type runtimeKnobs struct {
	level      *slog.LevelVar
	handler    *api.Handler
	checker    *readiness.Checker
	provider   procstats.Provider
	alerts     readiness.AlertSource
	hostMemory uint64
}

// registerChecks installs the readiness checks for rc. Register replaces by
// name, so calling it again swaps thresholds in place.
func (k *runtimeKnobs) registerChecks(rc config.ReadinessConfig) {
	k.checker.Register("memory", readiness.RSSBudget(k.provider, k.hostMemory, rc.MaxRSSPercent))
	k.checker.Register("goroutines", readiness.GoroutineCeiling(k.provider, rc.MaxGoroutines))
	k.checker.Register("alerts", readiness.NoFiringAlerts(k.alerts, "critical"))
}

// apply is the config.Watch callback.
func (k *runtimeKnobs) apply(next *config.Config) {
	k.level.Set(next.Log.SlogLevel())
	k.handler.SetSecurity(next.Security)
	k.registerChecks(next.Readiness)
	slog.Info("config applied",
		"log_level", next.Log.SlogLevel().String(),
		"max_rss_percent", next.Readiness.MaxRSSPercent,
		"max_goroutines", next.Readiness.MaxGoroutines,
	)
}

// shutdown drains httpSrv and grpcSrv within timeout. An overrun is logged and
// the remaining connections are closed; it is not reported as an error.
func shutdown(httpSrv *http.Server, grpcSrv *grpc.Server, timeout time.Duration) error {
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs error
	if err := httpSrv.Shutdown(sctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("drain timeout exceeded, closing remaining connections", "timeout", timeout)
			errs = multierr.Append(errs, ignoreClosed(httpSrv.Close()))
		} else {
			errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			slog.Warn("gRPC drain timeout exceeded, stopping", "timeout", timeout)
			grpcSrv.Stop()
		}
	}
	return errs
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
