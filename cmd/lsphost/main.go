// Command lsphost runs one language server and exposes it over HTTP,
// WebSocket and NATS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/lsphost/internal/adapter/fswatch"
	lhhttp "github.com/Strob0t/lsphost/internal/adapter/http"
	lspAdapter "github.com/Strob0t/lsphost/internal/adapter/lsp"
	lhnats "github.com/Strob0t/lsphost/internal/adapter/nats"
	"github.com/Strob0t/lsphost/internal/adapter/otel"
	"github.com/Strob0t/lsphost/internal/adapter/ws"
	"github.com/Strob0t/lsphost/internal/config"
	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
	"github.com/Strob0t/lsphost/internal/logger"
	"github.com/Strob0t/lsphost/internal/port/broadcast"
	"github.com/Strob0t/lsphost/internal/resilience"
	"github.com/Strob0t/lsphost/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"command", cfg.Server.Command,
		"port", cfg.HTTP.Port,
		"log_level", cfg.Logging.Level,
		"watch", cfg.Watch.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	shutdownOtel, err := otel.Init(ctx, otel.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	var client *service.Client
	hub := ws.NewHub(log, ws.StatusSnapshot(func() lspDomain.ServerInfo { return client.Status() }))
	defer hub.Close()
	sinks := broadcast.Fanout{hub}

	if cfg.NATS.URL != "" {
		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		breaker.OnStateChange(func(from, to resilience.State) {
			slog.Warn("nats circuit breaker", "from", from.String(), "to", to.String())
		})
		publisher, err := lhnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Subject, breaker)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				slog.Warn("nats close", "error", err)
			}
		}()
		sinks = append(sinks, publisher)
	}

	// --- Language server ---

	client = service.NewClient(cfg.Server.LaunchSpec(), service.ClientConfig{
		Session: lspAdapter.SessionConfig{
			InitTimeout:     cfg.Session.InitTimeout,
			ShutdownTimeout: cfg.Session.ShutdownTimeout,
			TerminateGrace:  cfg.Session.TerminateGrace,
			RootDir:         cfg.Session.RootDir,
			ClientName:      cfg.Session.ClientName,
		},
		Bridge: service.BridgeConfig{
			Selector:  cfg.Selector,
			QueueSize: cfg.Bridge.QueueSize,
			InboxSize: cfg.Bridge.InboxSize,
		},
		MaxDiagnostics: cfg.Diagnostics.MaxPerDocument,
	},
		service.WithClientLogger(log),
		service.WithBroadcaster(sinks),
		service.WithMetrics(metrics),
	)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		client.Stop(stopCtx)
	}()

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start language server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-client.Failures():
			return fmt.Errorf("language server: %w", err)
		}
	})

	if cfg.Watch.Enabled {
		watcher, err := fswatch.New(fswatch.Config{
			Root:      cfg.Watch.Root,
			Patterns:  cfg.Watch.Patterns,
			Languages: cfg.Watch.Languages,
		}, client.Submit, log)
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.HTTP.Port != "" {
		srv := newServer(cfg, client, hub)
		g.Go(func() error {
			slog.Info("starting server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	slog.Info("shutting down")
	return err
}

func newServer(cfg *config.Config, client *service.Client, hub *ws.Hub) *http.Server {
	router := lhhttp.NewRouter(&lhhttp.Handlers{Session: client}, lhhttp.RouterConfig{
		CORSOrigin: cfg.HTTP.CORSOrigin,
		WebSocket:  hub.HandleWS,
		Tracing:    otel.HTTPMiddleware(cfg.Telemetry.ServiceName),
	})
	return &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
