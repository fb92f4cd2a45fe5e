package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"testbed/internal/config"
)

// newVersionCmd creates the command that prints the version together with
// what a test run in this environment would pick up.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of testbed",
		Long: `Print the testbed version, the Go runtime it was built with, the
configuration directory a test run would read and the number of registered
providers.`,
		Args: cobra.NoArgs,
		Run:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "testbed version %s\n", rootCmd.Version)
	fmt.Fprintf(out, "  go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(out, "  config dir: %s\n", config.DefaultDir())
	reg, err := defaultRegistry()
	if err != nil {
		fmt.Fprintf(out, "  providers:  unavailable (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "  providers:  %d registered\n", len(reg.Entries()))
}
