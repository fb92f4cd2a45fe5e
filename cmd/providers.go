package cmd

import (
	"github.com/spf13/cobra"

	"testbed/internal/formatting"
	"testbed/internal/registry"
)

// defaultRegistry is replaced in tests.
var defaultRegistry = registry.Default

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the registered providers",
		Long: `List every provider of the process-wide registry: the contract it
implements, its name, its resource kind, its rank and its registration order.

When a fixture does not select a provider by name, the highest ranked provider
of a contract is used and registration order breaks ties.

Examples:
  testbed providers
  testbed providers -o json`,
		Args: cobra.NoArgs,
		RunE: runProviders,
	}
}

func runProviders(cmd *cobra.Command, _ []string) error {
	format, err := formatting.ParseFormat(outputFlag)
	if err != nil {
		return err
	}
	reg, err := defaultRegistry()
	if err != nil {
		return err
	}
	return formatting.Providers(cmd.OutOrStdout(), format, formatting.ProviderRows(reg.Entries()))
}
