package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/davidbz/conduit/internal/config"
	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/engine"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/registry"
	"github.com/davidbz/conduit/internal/transport"
)

func newModelsCommand(root *rootFlags) *cobra.Command {
	var quality, unknown, similar, asJSON bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List a service's models with limits and prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cliLogger(root.verbose), func(
				reg *registry.Registry,
				table *pricing.Table,
				providers *config.ProvidersConfig,
				defaults *config.DefaultsConfig,
				pricingCfg *config.PricingConfig,
			) error {
				ctx := cmd.Context()
				warmPrices(ctx, table, pricingCfg)

				service, _ := root.target(reg, defaults)
				eng, err := engine.NewFromRegistry(reg, service, providers.Settings(service), table,
					engine.WithTransport(transport.NewClientWithTimeout(defaults.RequestTimeout)),
				)
				if err != nil {
					return err
				}

				opts := domain.Options{QualityFilter: domain.QualityFilter{
					AllowSimilar: similar,
					AllowUnknown: unknown,
				}}
				var models []domain.Model
				if quality {
					models, err = eng.GetQualityModels(ctx, opts)
				} else {
					models, err = eng.GetModels(ctx, opts)
				}
				if err != nil {
					return err
				}

				if asJSON {
					return printJSON(cmd.OutOrStdout(), models)
				}
				printModels(cmd.OutOrStdout(), models)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&quality, "quality", false, "Only list priced general-purpose chat models")
	cmd.Flags().BoolVar(&unknown, "unknown", false, "Keep models without a price entry")
	cmd.Flags().BoolVar(&similar, "similar", false, "Match prices by similar model names")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printModels(w io.Writer, models []domain.Model) {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("MODEL", "CONTEXT", "INPUT $/1M", "OUTPUT $/1M", "REASONING")
	for _, model := range models {
		table.AddRow(
			model.Model,
			tokenCount(model.MaxInputTokens),
			perMillion(model.InputCostPerToken, model.Unpriced),
			perMillion(model.OutputCostPerToken, model.Unpriced),
			strconv.FormatBool(model.SupportsReasoning),
		)
	}
	fmt.Fprintln(w, table)
}

func tokenCount(n int) string {
	if n <= 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func perMillion(costPerToken float64, unpriced bool) string {
	if unpriced {
		return "-"
	}
	return strconv.FormatFloat(costPerToken*1e6, 'f', 2, 64)
}
