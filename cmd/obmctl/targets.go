package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/obmctl/internal/config"
	"github.com/muurk/obmctl/internal/discovery"
	"github.com/muurk/obmctl/internal/logging"
	"github.com/muurk/obmctl/internal/ui"
)

// Target command flags
var (
	discoverTimeout int
	discoverSave    bool
	targetDefault   bool
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetAddCmd, targetListCmd, targetRemoveCmd)
}

// discoverCmd finds BMCs on the network
var discoverCmd = &cobra.Command{
	Use:   "discover [instance]",
	Short: "Discover OpenBMC machines on the network",
	Long: `Discover OpenBMC machines using mDNS/DNS-SD.

This command listens for BMCs advertising their REST API and lists
each one with its address. Naming an instance stops the scan as soon as
that BMC answers. With --save, every BMC found is stored as a target
named after its mDNS instance.`,
	Example: `  # Scan with the configured timeout (default 5s)
  obmctl discover

  # Longer scan, saving the results as targets
  obmctl discover --scan-timeout 15 --save

  # Look for one BMC only
  obmctl discover witherspoon --save`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverTimeout, "scan-timeout", 0, "Scan timeout in seconds (default from config)")
	discoverCmd.Flags().BoolVar(&discoverSave, "save", false, "Save discovered BMCs as targets")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	out := ui.NewPrinter(cmd.OutOrStdout())

	registry, err := config.LoadRegistry()
	if err != nil {
		return err
	}
	timeout := registry.Preferences.DiscoverTimeoutDuration()
	if discoverTimeout > 0 {
		timeout = time.Duration(discoverTimeout) * time.Second
	}

	out.Println(fmt.Sprintf("Scanning for OpenBMC machines (timeout: %s)...", timeout))
	out.Newline()

	bmcs, err := scanBMCs(commandContext(cmd), timeout, args)
	if err != nil {
		out.PrintError("Discovery failed", err, []string{
			"mDNS needs multicast on the local network segment",
			"Use --host to name the BMC directly",
		})
		return fmt.Errorf("discovery failed: %w", err)
	}

	if len(bmcs) == 0 {
		out.PrintWarning("No BMCs found",
			ui.Field{Key: "Service", Value: discovery.ServiceType},
			ui.Field{Key: "Timeout", Value: timeout.String()},
		)
		return nil
	}

	rows := make([][]string, 0, len(bmcs))
	for _, b := range bmcs {
		rows = append(rows, []string{b.Name(), b.Hostname, b.IP, strconv.Itoa(b.Port)})
		if discoverSave {
			existing := registry.GetTarget(b.Name())
			t := &config.Target{Host: b.IP, RESTPort: b.Port, LastSeen: b.DiscoveredAt}
			if existing != nil {
				t.Username = existing.Username
				t.ConsolePort = existing.ConsolePort
				t.SSHPort = existing.SSHPort
			}
			if err := registry.SetTarget(b.Name(), t); err != nil {
				return err
			}
		}
	}
	out.PrintTable([]string{"NAME", "HOSTNAME", "ADDRESS", "PORT"}, rows)
	out.Newline()

	if discoverSave {
		if err := registry.Save(); err != nil {
			return err
		}
		out.Println(fmt.Sprintf("Saved %d target(s).", len(bmcs)))
	} else {
		out.Println("Use 'obmctl target add <name> --host <address>' to save a target")
	}
	return nil
}

// scanBMCs lists every BMC, or only the named instance when one is given.
func scanBMCs(ctx context.Context, timeout time.Duration, args []string) ([]*discovery.BMC, error) {
	if len(args) == 0 {
		return discovery.Discover(ctx, timeout, logging.GetLogger())
	}
	scanner := discovery.NewScanner()
	scanner.Timeout = timeout
	scanner.Logger = logging.GetLogger()
	bmc, err := scanner.Find(ctx, args[0])
	if err != nil {
		return nil, err
	}
	return []*discovery.BMC{bmc}, nil
}

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage saved BMC targets",
	Long: `Manage the BMC targets saved in the configuration file.

A target stores a BMC address, user and ports. Passwords are never saved.`,
}

var targetAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Save a BMC target",
	Example: `  # Save a target using the connection flags
  obmctl target add lab --host 10.0.0.5 --user root --console-port 2200

  # Make it the default
  obmctl target add lab --host 10.0.0.5 --default`,
	Args: cobra.ExactArgs(1),
	RunE: runTargetAdd,
}

func init() {
	targetAddCmd.Flags().BoolVar(&targetDefault, "default", false, "Make this the default target")
}

func runTargetAdd(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if bmcHost == "" {
		return fmt.Errorf("--host is required")
	}

	registry, err := config.LoadRegistry()
	if err != nil {
		return err
	}
	name := args[0]
	target := &config.Target{
		Host:        bmcHost,
		Username:    bmcUser,
		RESTPort:    restPort,
		ConsolePort: consolePort,
		SSHPort:     sshPort,
	}
	if err := registry.SetTarget(name, target); err != nil {
		return err
	}
	if targetDefault {
		registry.Default = name
	}
	if err := registry.Save(); err != nil {
		return err
	}

	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Target saved", targetFields(name, target, registry.Default == name)...)
	return nil
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved BMC targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadRegistry()
		if err != nil {
			return err
		}
		out := ui.NewPrinter(cmd.OutOrStdout())
		names := registry.TargetNames()
		if len(names) == 0 {
			out.Println("No targets saved. Use 'obmctl target add' or 'obmctl discover --save'.")
			return nil
		}

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			t := registry.GetTarget(name)
			marker := ""
			if name == registry.Default {
				marker = "*"
			}
			seen := "never"
			if !t.LastSeen.IsZero() {
				seen = t.LastSeen.Local().Format(time.DateTime)
			}
			rows = append(rows, []string{marker, name, t.Host, firstNonEmpty(t.Username, defaultUser), seen})
		}
		out.PrintTable([]string{"", "NAME", "HOST", "USER", "LAST SEEN"}, rows)
		return nil
	},
}

var targetRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a saved BMC target",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		registry, err := config.LoadRegistry()
		if err != nil {
			return err
		}
		if !registry.RemoveTarget(args[0]) {
			return fmt.Errorf("unknown target %q", args[0])
		}
		if err := registry.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed target %s\n", args[0])
		return nil
	},
}

func targetFields(name string, t *config.Target, isDefault bool) []ui.Field {
	fields := []ui.Field{
		{Key: "Name", Value: name},
		{Key: "Host", Value: t.Host},
		{Key: "User", Value: firstNonEmpty(t.Username, defaultUser)},
	}
	if t.ConsolePort != 0 {
		fields = append(fields, ui.Field{Key: "Console port", Value: strconv.Itoa(t.ConsolePort)})
	}
	if t.SSHPort != 0 {
		fields = append(fields, ui.Field{Key: "SSH port", Value: strconv.Itoa(t.SSHPort)})
	}
	if isDefault {
		fields = append(fields, ui.Field{Key: "Default", Value: "yes"})
	}
	return fields
}

// commandContext returns the command's context, or a background one when
// the command runs outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
