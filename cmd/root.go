package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"testbed/internal/config"
	"testbed/pkg/logging"

	// Registers the built-in providers with the process-wide registry.
	_ "testbed/internal/providers/builtin"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInvalidConfig indicates a configuration that failed to load or validate.
	ExitCodeInvalidConfig = 2
)

var (
	logLevel   string
	outputFlag string
)

// rootCmd represents the base command for the testbed application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "testbed",
	Short: "Inspect the testbed provider registry and configuration",
	Long: `testbed assembles test contexts for Go tests: a service instance with
fakes and virtuals substituted in, external resources started in dependency
order, and instrumentation installed, all torn down again after the test.

Tests use the pkg/testbed package directly. This command shows which
providers are available and checks testbed.yaml configuration files.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, ok := logging.ParseLevel(logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", logLevel)
		}
		logging.InitForCLI(level, cmd.ErrOrStderr())
		return nil
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "testbed version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if config.IsConfigurationError(err) || errors.Is(err, errInvalidConfig) {
		return ExitCodeInvalidConfig
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format (table, json, yaml)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newProvidersCmd())
	rootCmd.AddCommand(newConfigCmd())
}
