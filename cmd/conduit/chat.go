package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidbz/conduit/internal/config"
	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/engine"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/registry"
	"github.com/davidbz/conduit/internal/transport"
)

type chatFlags struct {
	system      string
	stream      bool
	extended    bool
	json        bool
	think       bool
	maxTokens   int
	temperature float64
}

func newChatCommand(root *rootFlags) *cobra.Command {
	flags := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt and print the reply",
		Long:  "Send a prompt and print the reply. Without an argument the prompt is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			return invoke(cliLogger(root.verbose), func(
				reg *registry.Registry,
				table *pricing.Table,
				providers *config.ProvidersConfig,
				defaults *config.DefaultsConfig,
				pricingCfg *config.PricingConfig,
			) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()

				warmPrices(ctx, table, pricingCfg)

				service, model := root.target(reg, defaults)
				opts := domain.Options{
					Model:     model,
					MaxTokens: flags.maxTokens,
					Think:     flags.think,
					JSON:      flags.json,
				}
				if opts.MaxTokens == 0 {
					opts.MaxTokens = defaults.MaxTokens
				}
				if cmd.Flags().Changed("temperature") {
					temperature := flags.temperature
					opts.Temperature = &temperature
				}

				eng, err := engine.NewFromRegistry(reg, service, providers.Settings(service), table,
					engine.WithOptions(opts),
					engine.WithTransport(transport.NewClientWithTimeout(defaults.RequestTimeout)),
				)
				if err != nil {
					return err
				}
				if flags.system != "" {
					eng.System(flags.system)
				}
				eng.User(prompt)

				return runChat(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), eng, flags)
			})
		},
	}

	cmd.Flags().StringVar(&flags.system, "system", "", "System prompt")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "Print the reply as it is generated")
	cmd.Flags().BoolVar(&flags.extended, "extended", false, "Also print reasoning, tool calls and usage")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Ask for JSON and print the extracted value")
	cmd.Flags().BoolVar(&flags.think, "think", false, "Enable extended reasoning where supported")
	cmd.Flags().IntVar(&flags.maxTokens, "max-tokens", 0, "Maximum output tokens (default CONDUIT_MAX_TOKENS)")
	cmd.Flags().Float64Var(&flags.temperature, "temperature", 0, "Sampling temperature")
	return cmd
}

func runChat(ctx context.Context, out, errOut io.Writer, eng *engine.Engine, flags *chatFlags) error {
	switch {
	case flags.stream && flags.extended:
		handle, err := eng.StreamExtended(ctx)
		if err != nil {
			return err
		}
		defer handle.Close()

		for event, streamErr := range handle.Events() {
			if streamErr != nil {
				fmt.Fprintln(out)
				return streamErr
			}
			switch event.Type {
			case domain.EventThinking:
				fmt.Fprint(errOut, event.Thinking)
			case domain.EventContent:
				fmt.Fprint(out, event.Content)
			case domain.EventToolCalls:
				printToolCalls(errOut, event.ToolCalls)
			}
		}
		fmt.Fprintln(out)

		resp, err := handle.Complete(ctx)
		if err != nil {
			return err
		}
		printUsage(errOut, resp.Usage)
		return nil

	case flags.stream:
		fragments, err := eng.Stream(ctx)
		if err != nil {
			return err
		}
		for text, streamErr := range fragments {
			if streamErr != nil {
				fmt.Fprintln(out)
				return streamErr
			}
			fmt.Fprint(out, text)
		}
		fmt.Fprintln(out)
		return nil

	case flags.extended:
		resp, err := eng.SendExtended(ctx)
		if err != nil {
			return err
		}
		if resp.Thinking != "" {
			fmt.Fprintln(errOut, resp.Thinking)
		}
		printToolCalls(errOut, resp.ToolCalls)
		if resp.Parsed != nil {
			if err := printJSON(out, resp.Parsed); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, resp.Content)
		}
		printUsage(errOut, resp.Usage)
		return nil

	case flags.json:
		value, err := eng.Parse(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, value)

	default:
		text, err := eng.Send(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}
}

func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

func printToolCalls(w io.Writer, calls []domain.ToolCall) {
	for _, call := range calls {
		fmt.Fprintf(w, "[tool call %s] %s(%s)\n", call.ID, call.Name, call.Input)
	}
}

func printUsage(w io.Writer, usage domain.Usage) {
	switch {
	case usage.Local:
		fmt.Fprintf(w, "tokens: %d in, %d out (local)\n", usage.InputTokens, usage.OutputTokens)
	case !usage.Priced:
		fmt.Fprintf(w, "tokens: %d in, %d out (unpriced)\n", usage.InputTokens, usage.OutputTokens)
	default:
		fmt.Fprintf(w, "tokens: %d in, %d out, cost: $%.6f\n", usage.InputTokens, usage.OutputTokens, usage.TotalCost)
	}
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
