package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"openfms/framekit/internal/config"
	"openfms/framekit/internal/metrics"
	"openfms/framekit/internal/protocol"
	"openfms/framekit/internal/script"
	"openfms/framekit/internal/server"
	"openfms/framekit/internal/store"
)

// App wires the gateway to its backing services
type App struct {
	cfg    *config.Config
	server *server.TCPServer
	log    zerolog.Logger

	shutdownFns []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),
	}
	if err := app.initialize(ctx); err != nil {
		app.shutdown()
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	return app, nil
}

func (a *App) initialize(ctx context.Context) error {
	project, err := protocol.LoadProject(a.cfg.ProjectFile)
	if err != nil {
		return err
	}
	a.log.Info().Str("project", project.Name).Int("protocols", len(project.Protocols)).Msg("Project loaded")

	opts := []server.Option{server.WithLogger(a.log.With().Logger())}

	// Redis session registry
	if a.cfg.RedisURL != "" {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisURL, DB: 0})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.log.Info().Str("addr", a.cfg.RedisURL).Msg("Connected to Redis")
		a.shutdownFns = append(a.shutdownFns, client.Close)
		opts = append(opts, server.WithRedis(client))
	}

	// NATS uplink and downlink
	if a.cfg.NATSURL != "" {
		nc, err := nats.Connect(a.cfg.NATSURL, nats.Name("framekit-"+a.cfg.GatewayID))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.log.Info().Str("url", a.cfg.NATSURL).Msg("Connected to NATS")
		a.shutdownFns = append(a.shutdownFns, func() error { nc.Close(); return nil })
		opts = append(opts, server.WithNATS(nc))
	}

	// Traffic log
	if a.cfg.DatabaseURL != "" {
		st, err := store.Open(a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open traffic store: %w", err)
		}
		a.log.Info().Msg("Traffic store ready")
		a.shutdownFns = append(a.shutdownFns, st.Close)
		opts = append(opts, server.WithStore(st))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts = append(opts, server.WithMetrics(metrics.New(reg), reg))

	a.server = server.NewTCPServer(a.cfg, project, script.NewSandbox(a.log), opts...)
	return nil
}

// Run starts the gateway and blocks until ctx is cancelled or a signal arrives
func (a *App) Run(ctx context.Context) error {
	if err := a.server.Start(); err != nil {
		a.shutdown()
		return err
	}
	a.log.Info().
		Int("gateway_port", a.cfg.GatewayPort).
		Int("http_port", a.cfg.HTTPPort).
		Msg("Gateway started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	a.server.Stop()
	if err := a.shutdown(); err != nil {
		return err
	}
	a.log.Info().Msg("Gateway stopped")
	return nil
}

func (a *App) shutdown() error {
	var errs []error
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdownFns = nil
	return errors.Join(errs...)
}
