package main

import (
	"github.com/spf13/cobra"

	"github.com/davidbz/conduit/internal/config"
	"github.com/davidbz/conduit/internal/provider/registry"
	"github.com/davidbz/conduit/internal/version"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	service string
	model   string
	verbose bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "conduit",
		Short: "One interface to many LLM providers",
		Long: "Conduit sends conversations to OpenAI, Anthropic, Google, Ollama and " +
			"OpenAI-compatible services through one API, with streaming, usage and cost.",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&flags.service, "service", "s", "",
		"Service to call (inferred from the model, then CONDUIT_SERVICE)")
	cmd.PersistentFlags().StringVarP(&flags.model, "model", "m", "", "Model to use (default CONDUIT_MODEL)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log debug output to stderr")

	cmd.AddCommand(
		newServeCommand(),
		newChatCommand(flags),
		newModelsCommand(flags),
		newPricesCommand(flags),
		newVersionCommand(),
	)
	return cmd
}

// target resolves the service and model from flags and defaults. An
// explicit service wins; otherwise the model's prefix picks it.
func (f *rootFlags) target(reg *registry.Registry, defaults *config.DefaultsConfig) (string, string) {
	service, model := f.service, f.model
	if service == "" && model != "" {
		if inferred, err := reg.ServiceForModel(model); err == nil {
			service = inferred
		}
	}
	if service == "" {
		service = defaults.Service
	}
	if model == "" && service == defaults.Service {
		model = defaults.Model
	}
	return service, model
}
