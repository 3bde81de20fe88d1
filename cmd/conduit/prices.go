package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/davidbz/conduit/internal/config"
	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/registry"
)

func newPricesCommand(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Inspect and refresh the price table",
	}
	cmd.AddCommand(
		newPricesGetCommand(root),
		newPricesListCommand(root),
		newPricesRefreshCommand(root),
	)
	return cmd
}

func newPricesGetCommand(root *rootFlags) *cobra.Command {
	var similar bool

	cmd := &cobra.Command{
		Use:   "get [model]",
		Short: "Print one model's price entry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := *root
			if len(args) == 1 {
				flags.model = args[0]
			}
			if flags.model == "" {
				return errors.New("model is required")
			}

			return invoke(cliLogger(root.verbose), func(
				reg *registry.Registry,
				table *pricing.Table,
				defaults *config.DefaultsConfig,
				pricingCfg *config.PricingConfig,
			) error {
				warmPrices(cmd.Context(), table, pricingCfg)

				service, model := flags.target(reg, defaults)
				entry, ok := table.Get(service, model, domain.QualityFilter{AllowSimilar: similar})
				if !ok {
					return &domain.LookupError{Service: service, Model: model}
				}
				return printJSON(cmd.OutOrStdout(), entry)
			})
		},
	}

	cmd.Flags().BoolVar(&similar, "similar", false, "Fall back to similar model names")
	return cmd
}

func newPricesListCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every price entry of a service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cliLogger(root.verbose), func(
				reg *registry.Registry,
				table *pricing.Table,
				defaults *config.DefaultsConfig,
				pricingCfg *config.PricingConfig,
			) error {
				warmPrices(cmd.Context(), table, pricingCfg)

				service, _ := root.target(reg, defaults)
				entries := table.Entries(service)
				slices.SortFunc(entries, func(a, b pricing.Entry) int {
					return strings.Compare(a.Model, b.Model)
				})
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
}

func newPricesRefreshCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the remote price snapshot and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cliLogger(root.verbose), func(table *pricing.Table) error {
				if err := table.Refresh(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "price table refreshed at %s\n", table.LoadedAt().Format(time.RFC3339))
				return nil
			})
		},
	}
}

func printEntries(w io.Writer, entries []pricing.Entry) {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("MODEL", "MODE", "CONTEXT", "INPUT $/1M", "OUTPUT $/1M")
	for _, entry := range entries {
		table.AddRow(
			entry.Model,
			entry.Mode,
			tokenCount(entry.MaxInputTokens),
			perMillion(entry.InputCostPerToken, false),
			perMillion(entry.OutputCostPerToken, false),
		)
	}
	fmt.Fprintln(w, table)
}
