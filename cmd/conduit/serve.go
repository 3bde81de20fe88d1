package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidbz/conduit/internal/config"
	"github.com/davidbz/conduit/internal/httpserver"
	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/pricing"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	var echo bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(serverLogger, func(
				server *httpserver.Server,
				serverCfg *config.ServerConfig,
				table *pricing.Table,
				pricingCfg *config.PricingConfig,
			) error {
				if echo {
					serverCfg.Echo = true
				}
				return serve(cmd.Context(), server, table, pricingCfg)
			})
		},
	}

	cmd.Flags().BoolVar(&echo, "echo", false, "Mount the echo endpoint under "+httpserver.EchoPath)
	return cmd
}

func serve(ctx context.Context, server *httpserver.Server, table *pricing.Table, pricingCfg *config.PricingConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	warmPrices(ctx, table, pricingCfg)

	errCh := make(chan error, 1)
	go func() {
		// Requests outlive the signal until Shutdown's deadline.
		errCh <- server.Start(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	observability.FromContext(ctx).Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
