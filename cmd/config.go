package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"testbed/internal/config"
	"testbed/internal/formatting"
)

var errInvalidConfig = errors.New("invalid configuration")

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Work with testbed.yaml configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate a configuration directory",
		Long: `Load testbed.yaml from a configuration directory and validate it against
the configuration schema, including the env file it references.

Without an argument the directory from TESTBED_CONFIG_DIR is used, falling
back to the current directory.

Examples:
  testbed config validate
  testbed config validate ./testdata`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigValidate,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of testbed.yaml",
		Long: `Print the JSON schema testbed.yaml is validated against. Editors with
YAML language server support can use it for completion:

  testbed config schema > testbed.schema.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(config.Schema())
			return err
		},
	})
	return configCmd
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	dir := config.DefaultDir()
	if len(args) == 1 {
		dir = args[0]
	}
	cfg, err := config.Load(dir)
	if err != nil {
		formatting.ConfigErrors(cmd.ErrOrStderr(), err)
		return fmt.Errorf("%w in %s", errInvalidConfig, dir)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", dir)
	fmt.Fprintf(out, "  level:    %s\n", cfg.Level)
	fmt.Fprintf(out, "  strategy: %s\n", cfg.EffectiveStrategy())
	fmt.Fprintf(out, "  parallel: %d\n", cfg.Parallel)
	fmt.Fprintf(out, "  timeouts: start %s, stop %s\n", cfg.Timeouts.Start, cfg.Timeouts.Stop)
	fmt.Fprintf(out, "  resources with overrides: %d\n", len(cfg.Resources))
	return nil
}
