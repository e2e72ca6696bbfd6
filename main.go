package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/evanofslack/ipsync/internal/config"
	"github.com/evanofslack/ipsync/internal/logger"
	"github.com/evanofslack/ipsync/internal/metrics"
	"github.com/evanofslack/ipsync/internal/monitor"
	"github.com/evanofslack/ipsync/internal/publisher"
	"github.com/evanofslack/ipsync/internal/publisher/cloudflare"
	"github.com/evanofslack/ipsync/internal/publisher/panel"
	"github.com/evanofslack/ipsync/internal/reconcile"
	"github.com/evanofslack/ipsync/internal/resolver"
	"github.com/evanofslack/ipsync/internal/scheduler"
	"github.com/evanofslack/ipsync/internal/state"
)

const defaultConfigPath = "config.yaml"

func main() {
	if err := run(); err != nil {
		slog.Error("ipsync exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCloser := logger.Configure(cfg.Log)
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		return err
	}

	m := metrics.New(cfg.Metrics.IsEnabled())

	manager, err := newStateManager(cfg)
	if err != nil {
		return fmt.Errorf("initialize state store: %w", err)
	}
	store := state.NewStore(manager, m)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close state store", "error", err)
		}
	}()

	pub, err := newPublisher(cfg, m)
	if err != nil {
		return fmt.Errorf("initialize dns publisher: %w", err)
	}

	mon, err := monitor.New(cfg.Monitor.HealthchecksURL, m)
	if err != nil {
		return fmt.Errorf("initialize heartbeat monitor: %w", err)
	}

	res := resolver.New(cfg.Resolver.URLs, resolver.Options{
		Timeout: cfg.Resolver.Timeout,
		Retries: cfg.Resolver.Retries,
	}, m)
	engine := reconcile.NewEngine(res, pub, store, cfg.DNS.Name, m)
	sched := scheduler.New(engine, scheduler.PolicyFromConfig(cfg.Schedule), mon, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := suture.New("ipsync", suture.Spec{
		EventHook: func(ev suture.Event) {
			slog.Error("Supervisor event", "event", ev.String())
		},
	})
	supervisor.Add(sched)
	if cfg.Metrics.IsEnabled() {
		supervisor.Add(metrics.NewServer(cfg.Metrics.Address, m))
	}

	slog.Info("Starting ipsync",
		"name", cfg.DNS.Name,
		"provider", cfg.DNS.Provider,
		"stateBackend", cfg.StateBackend,
		"statePath", cfg.StatePath)

	err = supervisor.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("Service shutdown complete")
	return nil
}

func configPath() string {
	if len(os.Args) > 1 && os.Args[1] != "" {
		return os.Args[1]
	}
	if p := os.Getenv("IPSYNC_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func newStateManager(cfg *config.Config) (state.Manager, error) {
	switch cfg.StateBackend {
	case config.StateBackendBadger:
		return state.NewBadger(cfg.StatePath)
	default:
		return state.NewFile(cfg.StatePath), nil
	}
}

func newPublisher(cfg *config.Config, m *metrics.Metrics) (publisher.Publisher, error) {
	switch cfg.DNS.Provider {
	case config.ProviderCloudflare:
		cf, err := cloudflare.New(cfg.DNS)
		if err != nil {
			return nil, err
		}
		return publisher.Instrument(config.ProviderCloudflare, cf, m), nil
	default:
		p, err := panel.New(cfg.Panel)
		if err != nil {
			return nil, err
		}
		return publisher.Instrument(config.ProviderPanel, p, m), nil
	}
}
