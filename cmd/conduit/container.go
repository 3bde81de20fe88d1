package main

import (
	"context"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/conduit/internal/config"
	"github.com/davidbz/conduit/internal/httpserver"
	"github.com/davidbz/conduit/internal/httpserver/middleware"
	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/pricing"
	pricingredis "github.com/davidbz/conduit/internal/pricing/redis"
	"github.com/davidbz/conduit/internal/provider/registry"
)

// loggerFunc builds the process logger from the log settings.
type loggerFunc func(cfg *config.LogConfig) (*zap.Logger, error)

// serverLogger is the JSON production logger unless development mode is on.
func serverLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return observability.InitDevelopmentLogger(cfg.Level)
	}
	return observability.InitLogger()
}

// cliLogger keeps interactive output quiet unless verbose is set.
func cliLogger(verbose bool) loggerFunc {
	return func(_ *config.LogConfig) (*zap.Logger, error) {
		level := "warn"
		if verbose {
			level = "debug"
		}
		return observability.InitDevelopmentLogger(level)
	}
}

func buildContainer(newLogger loggerFunc) (*dig.Container, error) {
	container := dig.New()

	constructors := []any{
		// Configuration
		config.Load,
		config.ParseDependenciesConfig,

		// Observability
		newLogger,

		// Providers and pricing
		registry.Default,
		newRedisClient,
		newPriceTable,

		// HTTP Layer
		httpserver.NewHandler,
		middleware.BuildMiddlewareChain,
		httpserver.NewServer,
	}
	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			return nil, fmt.Errorf("failed to provide dependency: %w", err)
		}
	}

	// The logger is installed globally; build it before anything logs.
	if err := container.Invoke(func(*zap.Logger) {}); err != nil {
		return nil, dig.RootCause(err)
	}

	return container, nil
}

// invoke builds a container and runs fn with its dependencies.
func invoke(newLogger loggerFunc, fn any) error {
	container, err := buildContainer(newLogger)
	if err != nil {
		return err
	}
	defer func() {
		_ = container.Invoke(func(logger *zap.Logger, client *goredis.Client) {
			if client != nil {
				_ = client.Close()
			}
			_ = logger.Sync()
		})
	}()

	return dig.RootCause(container.Invoke(fn))
}

// newRedisClient returns nil when no address is configured.
func newRedisClient(cfg *config.RedisConfig) *goredis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// newPriceTable builds the process-wide price table, backed by the Redis
// snapshot store when a client is configured.
func newPriceTable(cfg *config.PricingConfig, redisCfg *config.RedisConfig, client *goredis.Client) *pricing.Table {
	opts := []pricing.TableOption{
		pricing.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
	}
	if cfg.SnapshotURL != "" {
		opts = append(opts, pricing.WithSnapshotURL(cfg.SnapshotURL))
	}
	if client != nil {
		opts = append(opts, pricing.WithStore(pricingredis.NewSnapshotStore(client, redisCfg.Key, cfg.StoreTTL)))
	}

	table := pricing.NewTable(opts...)
	pricing.SetDefault(table)
	return table
}

// warmPrices loads the stored or bundled snapshot and refreshes it when
// configured to. A failed refresh keeps the warm snapshot.
func warmPrices(ctx context.Context, table *pricing.Table, cfg *config.PricingConfig) {
	logger := observability.FromContext(ctx)

	if err := table.Warm(ctx); err != nil {
		logger.Warn("failed to warm price table", observability.Error(err))
	}
	if !cfg.RefreshOnStart {
		return
	}
	if err := table.Refresh(ctx); err != nil {
		logger.Warn("price refresh on start failed, using warm snapshot", observability.Error(err))
	}
}
