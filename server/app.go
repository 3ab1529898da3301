package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"oauthd/flow"
	"oauthd/store"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Engine   *flow.Engine
	Registry *flow.Registry
	Pending  flow.PendingStore
	Sessions *SessionManager
	Metrics  *prometheus.Registry

	// OnToken receives every token a completed flow yields.
	OnToken TokenHandler

	closers []func() error
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	client := &http.Client{Timeout: cfg.ProviderTimeout()}

	registry, credentials, err := BuildProviders(ctx, cfg, client, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Sessions: NewSessionManager(cfg),
		Metrics:  prometheus.NewRegistry(),
	}
	app.OnToken = LogTokenHandler(logger)

	app.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := flow.NewMetrics(app.Metrics)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	pending, err := app.openPendingStore(ctx)
	if err != nil {
		return nil, err
	}
	app.Pending = pending

	codec, err := stateCodec(cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	engine, err := flow.NewEngine(flow.Config{
		Registry:    registry,
		Credentials: credentials,
		Codec:       codec,
		Pending:     pending,
		Timeout:     cfg.ProviderTimeout(),
		HTTPClient:  client,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Engine = engine

	logger.Info("oauth providers ready", "providers", registry.Names(), "session_driver", cfg.Sessions.Driver)
	return app, nil
}

func (a *App) openPendingStore(ctx context.Context) (flow.PendingStore, error) {
	cfg := a.Config.Sessions
	switch cfg.Driver {
	case SessionDriverRedis:
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       a.Config.PendingTTL(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	default:
		return store.NewMemoryStore(a.Config.PendingTTL()), nil
	}
}

func stateCodec(cfg Config) (flow.StateCodec, error) {
	if cfg.OAuth.StateSigningKey == "" {
		return flow.JSONStateCodec{}, nil
	}
	codec, err := flow.NewSignedStateCodec([]byte(cfg.OAuth.StateSigningKey))
	if err != nil {
		return nil, fmt.Errorf("state codec: %w", err)
	}
	return codec, nil
}

// Close releases the pending store connection, if any.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
