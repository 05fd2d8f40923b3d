// Obmctl drives OpenBMC machines over their REST API and SSH consoles.
//
// It covers the day-to-day operations of a test lab: host power control,
// waiting for host and BMC states, reading the event log and sensors,
// and replacing host or BMC firmware.
//
// Usage:
//
//	obmctl [command] [flags]
//
// Targets are saved with 'obmctl target add' or found with
// 'obmctl discover'. See 'obmctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/obmctl/internal/logging"
	"github.com/muurk/obmctl/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "obmctl",
	Short: "OpenBMC Control Utility",
	Long: `Control OpenBMC machines through the BMC REST API and SSH consoles.

Provides host power control, host and BMC state waits, event log and
sensor readouts, boot device overrides, firmware image management and
command execution on the host console or the BMC shell.

The BMC is named with --target (a saved target) or --host. The password
comes from --password, the OBMCTL_PASSWORD environment variable or an
interactive prompt. It is never saved.`,
	Version:       version.Version,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silent unless --log-level or OBMCTL_LOG_LEVEL is set
		return logging.Initialize(logLevel)
	},
	Example: `  # Find BMCs on the local network and save one
  obmctl discover
  obmctl target add lab --host 10.0.0.5

  # Power the host on and wait for it to boot
  obmctl power on
  obmctl power wait runtime --timeout 20m

  # Flash a host firmware image through the BMC
  obmctl firmware flash witherspoon.pnor.squashfs.tar`,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "obmctl %s\n", version.Full())
	},
}
