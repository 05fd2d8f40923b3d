package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/obmctl/internal/optest"
)

var consoleIgnoreStatus bool

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.AddCommand(consoleRunCmd)
	consoleRunCmd.Flags().BoolVar(&consoleIgnoreStatus, "ignore-status", false, "Print the output even when the command exits non-zero")
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Use the host console",
	Long: `Use the host serial console, reached over SSH on the BMC console port.

The host must be booted to a shell that prints the console prompt.`,
}

var consoleRunCmd = &cobra.Command{
	Use:   "run <command>...",
	Short: "Run a command on the host console",
	Example: `  obmctl console run uname -a
  obmctl console run --ignore-status -- dmesg | tail`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShellCommand(cmd, strings.Join(args, " "), func(ctx context.Context, sys *optest.System, command string, timeout time.Duration) ([]string, error) {
			if consoleIgnoreStatus {
				return sys.HostConsole().RunIgnoringFailure(ctx, command, timeout)
			}
			return sys.HostConsole().Run(ctx, command, timeout)
		})
	},
}
