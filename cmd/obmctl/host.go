package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/obmctl/internal/host"
	"github.com/muurk/obmctl/internal/optest"
	"github.com/muurk/obmctl/internal/rest"
	"github.com/muurk/obmctl/internal/ui"
	"github.com/muurk/obmctl/internal/wait"
)

// Host command flags
var (
	powerNoWait   bool
	powerSoft     bool
	resetViaShell bool
	assumeYes     bool
	selByID       bool
	inventoryJSON bool
)

func init() {
	rootCmd.AddCommand(powerCmd, bmcCmd, bootdevCmd, selCmd, inventoryCmd, sensorsCmd)

	powerCmd.AddCommand(powerOnCmd, powerOffCmd, powerSoftRebootCmd, powerHardRebootCmd, powerStatusCmd, powerWaitCmd)
	for _, c := range []*cobra.Command{powerOnCmd, powerOffCmd} {
		c.Flags().BoolVar(&powerNoWait, "no-wait", false, "Return once the transition is requested")
	}
	powerOffCmd.Flags().BoolVar(&powerSoft, "soft", false, "Use the legacy soft power off action, letting the host OS shut down")

	bmcCmd.AddCommand(bmcStateCmd, bmcResetCmd, bmcExecCmd)
	bmcResetCmd.Flags().BoolVar(&resetViaShell, "shell", false, "Reboot from the BMC shell instead of the REST API")
	bmcResetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")

	bootdevCmd.AddCommand(bootdevSetupCmd, bootdevDefaultCmd)

	selCmd.AddCommand(selListCmd, selClearCmd)
	selClearCmd.Flags().BoolVar(&selByID, "by-id", false, "Delete entries one by one instead of the bulk clear")

	inventoryCmd.Flags().BoolVar(&inventoryJSON, "json", false, "Print the raw inventory objects as JSON")
}

var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "Control and query host power",
}

var powerOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Power the host on and wait for runtime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPowerTransition(cmd, "Power On", (*host.Manager).PowerOn, (*host.Manager).WaitForRuntime)
	},
}

var powerOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Power the host off and wait for standby",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		request := (*host.Manager).PowerOff
		if powerSoft {
			request = (*host.Manager).PowerSoft
		}
		return runPowerTransition(cmd, "Power Off", request, (*host.Manager).WaitForStandby)
	},
}

var powerSoftRebootCmd = &cobra.Command{
	Use:   "soft-reboot",
	Short: "Ask the host OS to reboot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPowerRequest(cmd, "Soft reboot requested", (*host.Manager).SoftReboot)
	},
}

var powerHardRebootCmd = &cobra.Command{
	Use:   "hard-reboot",
	Short: "Reboot the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPowerRequest(cmd, "Hard reboot requested", (*host.Manager).HardReboot)
	},
}

type hostAction func(*host.Manager, context.Context) error
type hostWait func(*host.Manager, context.Context, time.Duration) error

func runPowerTransition(cmd *cobra.Command, title string, request hostAction, await hostWait) error {
	return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
		steps := []string{"Request transition"}
		if !powerNoWait {
			steps = append(steps, "Wait for host state")
		}
		runner := ui.NewRunner(ui.RunnerConfig{
			Title:     title,
			Command:   cmd.CommandPath(),
			Params:    []ui.Field{{Key: "BMC", Value: sys.BMCHost()}, {Key: "Timeout", Value: conn.timeout.String()}},
			StepNames: steps,
			Hints:     troubleshooting,
			Output:    cmd.OutOrStdout(),
		})
		return runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Field, error) {
			if err := runStep(onStep, 1, func() error { return request(sys.Host(), ctx) }); err != nil {
				return nil, err
			}
			if powerNoWait {
				return nil, nil
			}
			if err := runStep(onStep, 2, func() error { return await(sys.Host(), ctx, conn.timeout) }); err != nil {
				return nil, err
			}
			state, err := sys.Host().PowerState(ctx)
			if err != nil {
				// older firmware only has BootProgress
				return nil, nil
			}
			return []ui.Field{{Key: "Power", Value: ui.RenderState(state.String())}}, nil
		})
	})
}

func runPowerRequest(cmd *cobra.Command, title string, request hostAction) error {
	return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
		out := ui.NewPrinter(cmd.OutOrStdout())
		if err := request(sys.Host(), ctx); err != nil {
			out.PrintError(title, err, troubleshooting(err))
			return err
		}
		out.PrintSuccess(title, ui.Field{Key: "BMC", Value: sys.BMCHost()})
		return nil
	})
}

// runStep reports step n as running, runs fn and reports the outcome.
func runStep(onStep ui.StepCallback, n int, fn func() error) error {
	onStep(n, ui.StepRunning, "")
	start := time.Now()
	if err := fn(); err != nil {
		onStep(n, ui.StepFailed, err.Error())
		return err
	}
	onStep(n, ui.StepComplete, time.Since(start).Round(time.Second).String())
	return nil
}

var powerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chassis, host and BMC state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			mgr := sys.Host()
			var rows [][]string
			add := func(component string, state fmt.Stringer, err error) error {
				switch {
				case err == nil:
					rows = append(rows, []string{component, ui.RenderState(state.String())})
				case rest.IsNotFound(err) || host.IsUnsupported(err):
					rows = append(rows, []string{component, "unsupported"})
				default:
					return err
				}
				return nil
			}

			power, err := mgr.PowerState(ctx)
			if err := add("Chassis power", power, err); err != nil {
				return err
			}
			hostState, err := mgr.HostState(ctx)
			if err := add("Host", hostState, err); err != nil {
				return err
			}
			bmcState, err := mgr.BMCState(ctx)
			if err := add("BMC", bmcState, err); err != nil {
				return err
			}
			if progress, err := mgr.BootProgress(ctx); err == nil && progress != "" {
				rows = append(rows, []string{"Boot progress", progress})
			}

			return ui.NewPrinter(cmd.OutOrStdout()).PrintView(ui.RenderTable([]string{"COMPONENT", "STATE"}, rows))
		})
	},
}

var powerWaitCmd = &cobra.Command{
	Use:   "wait <on|off|standby|runtime|bmc-ready>",
	Short: "Wait for a host or BMC state",
	Long: `Wait until the host or BMC reaches a state, polling the BMC.

  on, off      chassis power state only
  standby      host off, using BootProgress on older firmware
  runtime      host booted, using BootProgress on older firmware
  bmc-ready    BMC state Ready, tolerating errors while it reboots`,
	Example: `  obmctl power wait runtime --timeout 20m`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "standby", "runtime", "bmc-ready"},
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		await, err := waitFor(target)
		if err != nil {
			return err
		}
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			out := ui.NewPrinter(cmd.OutOrStdout())
			out.Println(fmt.Sprintf("Waiting up to %s for %s...", conn.timeout, target))

			start := time.Now()
			if err := await(sys.Host(), ctx, conn.timeout); err != nil {
				out.PrintError("Wait for "+target+" failed", err, troubleshooting(err))
				return err
			}
			out.PrintSuccess("Reached "+target,
				ui.Field{Key: "BMC", Value: sys.BMCHost()},
				ui.Field{Key: "Waited", Value: time.Since(start).Round(time.Second).String()},
			)
			return nil
		})
	},
}

// waitFor maps a wait target name to the manager operation.
func waitFor(target string) (hostWait, error) {
	switch target {
	case "on", "off":
		state := host.PowerOn
		if target == "off" {
			state = host.PowerOff
		}
		return func(m *host.Manager, ctx context.Context, timeout time.Duration) error {
			outcome, err := m.WaitForChassisState(ctx, state, timeout)
			if err != nil {
				return err
			}
			if outcome != wait.Match {
				return fmt.Errorf("chassis state: %w", wait.ErrUnsupported)
			}
			return nil
		}, nil
	case "standby":
		return (*host.Manager).WaitForStandby, nil
	case "runtime":
		return (*host.Manager).WaitForRuntime, nil
	case "bmc-ready":
		return (*host.Manager).WaitForBMCRuntime, nil
	}
	return nil, fmt.Errorf("unknown wait target %q (want on, off, standby, runtime or bmc-ready)", target)
}

var bmcCmd = &cobra.Command{
	Use:   "bmc",
	Short: "Query, reboot and run commands on the BMC",
}

var bmcStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the BMC state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			state, err := sys.Host().BMCState(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderState(state.String()))
			return nil
		})
	},
}

var bmcResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reboot the BMC and wait until it is Ready",
	Long: `Reboot the BMC and wait until it is Ready again.

By default the reboot is requested through the REST API; the command then
waits for the BMC to drop off and come back, logs in again and waits for
the Ready state. With --shell the reboot command is run on the BMC shell.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			if !assumeYes && !ui.ResetConfirmation(os.Stdin, cmd.OutOrStdout(), sys.BMCHost()) {
				return nil
			}
			method := "REST"
			if resetViaShell {
				method = "BMC shell"
			}
			runner := ui.NewRunner(ui.RunnerConfig{
				Title:   "BMC Reset",
				Command: cmd.CommandPath(),
				Params: []ui.Field{
					{Key: "BMC", Value: sys.BMCHost()},
					{Key: "Method", Value: method},
					{Key: "Timeout", Value: conn.timeout.String()},
				},
				StepNames: []string{"Reboot BMC and wait for Ready"},
				Hints:     troubleshooting,
				Output:    cmd.OutOrStdout(),
			})
			return runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Field, error) {
				err := runStep(onStep, 1, func() error {
					if resetViaShell {
						return sys.Reboot(ctx, conn.timeout)
					}
					return sys.Host().ResetBMC(ctx, conn.timeout)
				})
				return nil, err
			})
		})
	},
}

var bmcExecCmd = &cobra.Command{
	Use:   "exec <command>...",
	Short: "Run a command on the BMC shell",
	Example: `  obmctl bmc exec cat /etc/os-release
  obmctl bmc exec -- ls -l /tmp`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShellCommand(cmd, strings.Join(args, " "), func(ctx context.Context, sys *optest.System, command string, timeout time.Duration) ([]string, error) {
			return sys.RunCommand(ctx, command, timeout)
		})
	},
}

type shellRunner func(ctx context.Context, sys *optest.System, command string, timeout time.Duration) ([]string, error)

// runShellCommand runs command and prints its output. A non-zero exit
// status still prints the output before failing.
func runShellCommand(cmd *cobra.Command, command string, run shellRunner) error {
	return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
		out := ui.NewPrinter(cmd.OutOrStdout())
		lines, err := run(ctx, sys, command, conn.timeout)
		if err != nil {
			if len(lines) > 0 {
				out.PrintOutput(command, lines)
			}
			out.PrintError("Command failed", err, troubleshooting(err))
			return err
		}
		out.PrintOutput(command, lines)
		return nil
	})
}

var bootdevCmd = &cobra.Command{
	Use:   "bootdev",
	Short: "Override the host boot device",
}

var bootdevSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Boot the host into firmware setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPowerRequest(cmd, "Boot device set to Setup", (*host.Manager).SetBootDevSetup)
	},
}

var bootdevDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Restore the default boot device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPowerRequest(cmd, "Boot device set to Default", (*host.Manager).SetBootDevDefault)
	},
}

var selCmd = &cobra.Command{
	Use:   "sel",
	Short: "Read and clear the BMC event log",
}

var selListCmd = &cobra.Command{
	Use:   "list",
	Short: "List event log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			entries, err := sys.Host().ListSEL(ctx)
			if err != nil {
				return err
			}
			out := ui.NewPrinter(cmd.OutOrStdout())
			if len(entries) == 0 {
				out.Println("Event log is empty.")
				return nil
			}
			out.PrintTable([]string{"ID", "TIME", "SEVERITY", "RESOLVED", "MESSAGE"}, selRows(entries))
			return nil
		})
	},
}

func selRows(entries []host.LogEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		ts := "-"
		if e.Timestamp > 0 {
			ts = time.UnixMilli(e.Timestamp).Local().Format(time.DateTime)
		}
		rows = append(rows, []string{e.ID, ts, e.Severity, strconv.FormatBool(e.Resolved), e.Message})
	}
	return rows
}

var selClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the event log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clearFn := (*host.Manager).ClearSEL
		if selByID {
			clearFn = (*host.Manager).ClearSELByID
		}
		return runPowerRequest(cmd, "Event log cleared", clearFn)
	},
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "List the hardware inventory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			objects, err := sys.Host().Inventory(ctx)
			if err != nil {
				return err
			}
			if inventoryJSON {
				data, err := json.MarshalIndent(objects, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal JSON: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"PATH", "PRESENT", "PRETTY NAME"}, inventoryRows(objects))
			return nil
		})
	},
}

// inventoryItem holds the inventory properties shown in the table.
type inventoryItem struct {
	Present    *bool  `json:"Present"`
	PrettyName string `json:"PrettyName"`
}

func inventoryRows(objects map[string]json.RawMessage) [][]string {
	paths := make([]string, 0, len(objects))
	for p := range objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	rows := make([][]string, 0, len(paths))
	for _, p := range paths {
		raw := objects[p]
		var item inventoryItem
		if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &item) != nil {
			continue
		}
		present := "-"
		if item.Present != nil {
			present = strconv.FormatBool(*item.Present)
		}
		rows = append(rows, []string{strings.TrimPrefix(p, "/xyz/openbmc_project/inventory"), present, item.PrettyName})
	}
	return rows
}

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Show sensor readings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			sensors, err := sys.Host().Sensors(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(sensors))
			for _, s := range sensors {
				rows = append(rows, []string{
					strings.TrimPrefix(s.Path, "/xyz/openbmc_project/sensors/"),
					strconv.FormatFloat(s.Value, 'f', -1, 64),
					s.Unit,
				})
			}
			ui.NewPrinter(cmd.OutOrStdout()).PrintTable([]string{"SENSOR", "VALUE", "UNIT"}, rows)
			return nil
		})
	},
}
