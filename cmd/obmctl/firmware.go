package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/obmctl/internal/optest"
	"github.com/muurk/obmctl/internal/ui"
)

// Firmware command flags
var (
	activateNoWait bool
	flashMethod    string
	flashPartition string
)

// Flash methods
const (
	methodREST   = "rest"
	methodPflash = "pflash"
)

func init() {
	rootCmd.AddCommand(firmwareCmd)
	firmwareCmd.AddCommand(firmwareListCmd, firmwareUploadCmd, firmwareActivateCmd, firmwareFlashCmd, firmwarePriorityCmd)

	firmwareActivateCmd.Flags().BoolVar(&activateNoWait, "no-wait", false, "Return once activation is requested")

	firmwareFlashCmd.Flags().StringVar(&flashMethod, "method", methodREST, "Flash method: rest (software manager) or pflash (BMC shell)")
	firmwareFlashCmd.Flags().StringVar(&flashPartition, "partition", "", "With --method pflash: replace only this partition (skiboot or skiroot)")
	firmwareFlashCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
}

var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Manage BMC and host firmware images",
}

var firmwareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List firmware images known to the BMC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			images, err := sys.Firmware().Images(ctx)
			if err != nil {
				return err
			}
			out := ui.NewPrinter(cmd.OutOrStdout())
			if len(images) == 0 {
				out.Println("No firmware images found.")
				return nil
			}
			rows := make([][]string, 0, len(images))
			for _, img := range images {
				priority := "-"
				if img.HasPriority {
					priority = strconv.Itoa(img.Priority)
				}
				rows = append(rows, []string{
					img.ID,
					img.Version,
					img.Purpose.String(),
					ui.RenderState(img.Activation.String()),
					priority,
				})
			}
			return out.PrintView(ui.RenderTable([]string{"ID", "VERSION", "PURPOSE", "ACTIVATION", "PRIORITY"}, rows))
		})
	},
}

var firmwareUploadCmd = &cobra.Command{
	Use:   "upload <image>",
	Short: "Upload an image without activating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			out := ui.NewPrinter(cmd.OutOrStdout())
			id, err := sys.Firmware().Register(ctx, payload, conn.timeout)
			if err != nil {
				out.PrintError("Upload failed", err, troubleshooting(err))
				return err
			}
			out.PrintSuccess("Image uploaded",
				ui.Field{Key: "Image", Value: filepath.Base(args[0])},
				ui.Field{Key: "ID", Value: id},
			)
			out.Println(fmt.Sprintf("Activate it with: obmctl firmware activate %s", id))
			return nil
		})
	},
}

var firmwareActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Activate an uploaded image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			fw := sys.Firmware()
			steps := []string{"Wait for Ready", "Request activation"}
			if !activateNoWait {
				steps = append(steps, "Wait for Active")
			}
			runner := ui.NewRunner(ui.RunnerConfig{
				Title:     "Image Activation",
				Command:   cmd.CommandPath(),
				Params:    []ui.Field{{Key: "BMC", Value: sys.BMCHost()}, {Key: "Image", Value: id}},
				StepNames: steps,
				Hints:     troubleshooting,
				Output:    cmd.OutOrStdout(),
			})
			return runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Field, error) {
				if err := runStep(onStep, 1, func() error { return fw.WaitReady(ctx, id, conn.timeout) }); err != nil {
					return nil, err
				}
				if err := runStep(onStep, 2, func() error { return fw.Activate(ctx, id) }); err != nil {
					return nil, err
				}
				if activateNoWait {
					return []ui.Field{{Key: "ID", Value: id}}, nil
				}
				if err := runStep(onStep, 3, func() error { return fw.WaitActive(ctx, id, conn.timeout) }); err != nil {
					return nil, err
				}
				return []ui.Field{{Key: "ID", Value: id}}, nil
			})
		})
	},
}

var firmwareFlashCmd = &cobra.Command{
	Use:   "flash <image>",
	Short: "Upload an image and drive it to Active",
	Long: `Replace BMC or host firmware.

With --method rest (default) the image tarball is uploaded to the BMC
software manager, which unpacks, verifies and activates it.

With --method pflash the file is copied to the BMC over SFTP and written
from the BMC shell. A whole PNOR image is written with pflash. With
--partition only the skiboot (PAYLOAD) or skiroot (BOOTKERNEL) partition
is replaced, using pflash on older BMCs or by overwriting the partition
file served by the software manager on newer ones.

The host should be powered off while flashing.`,
	Example: `  # Flash a host image through the software manager
  obmctl firmware flash witherspoon.pnor.squashfs.tar

  # Write a raw PNOR from the BMC shell
  obmctl firmware flash witherspoon.pnor --method pflash

  # Replace only skiboot
  obmctl firmware flash skiboot.lid --method pflash --partition skiboot`,
	Args: cobra.ExactArgs(1),
	RunE: runFirmwareFlash,
}

func runFirmwareFlash(cmd *cobra.Command, args []string) error {
	image := args[0]
	if flashMethod != methodREST && flashMethod != methodPflash {
		return fmt.Errorf("unknown flash method %q (want %s or %s)", flashMethod, methodREST, methodPflash)
	}
	if flashPartition != "" && flashMethod != methodPflash {
		return fmt.Errorf("--partition needs --method %s", methodPflash)
	}
	if flashPartition != "" && flashPartition != "skiboot" && flashPartition != "skiroot" {
		return fmt.Errorf("unknown partition %q (want skiboot or skiroot)", flashPartition)
	}
	if _, err := os.Stat(image); err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
		if !assumeYes && !ui.FlashConfirmation(os.Stdin, cmd.OutOrStdout(), sys.BMCHost()) {
			return nil
		}

		params := []ui.Field{
			{Key: "BMC", Value: sys.BMCHost()},
			{Key: "Image", Value: filepath.Base(image)},
			{Key: "Method", Value: flashMethod},
		}
		if flashPartition != "" {
			params = append(params, ui.Field{Key: "Partition", Value: flashPartition})
		}

		var steps []string
		var op ui.Operation
		if flashMethod == methodREST {
			steps = []string{"Upload image", "Wait for Ready", "Request activation", "Wait for Active"}
			op = restFlash(sys, image, conn)
		} else {
			steps = []string{"Copy image to BMC", "Write flash"}
			op = pflashFlash(sys, image)
		}

		runner := ui.NewRunner(ui.RunnerConfig{
			Title:     "Firmware Flash",
			Command:   cmd.CommandPath(),
			Params:    params,
			StepNames: steps,
			Hints:     troubleshooting,
			Output:    cmd.OutOrStdout(),
		})
		return runner.Run(ctx, op)
	})
}

func restFlash(sys *optest.System, image string, conn *connection) ui.Operation {
	return func(ctx context.Context, onStep ui.StepCallback) ([]ui.Field, error) {
		fw := sys.Firmware()
		var id string
		err := runStep(onStep, 1, func() error {
			payload, err := os.ReadFile(image)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			id, err = fw.Register(ctx, payload, conn.timeout)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := runStep(onStep, 2, func() error { return fw.WaitReady(ctx, id, conn.timeout) }); err != nil {
			return nil, err
		}
		if err := runStep(onStep, 3, func() error { return fw.Activate(ctx, id) }); err != nil {
			return nil, err
		}
		if err := runStep(onStep, 4, func() error { return fw.WaitActive(ctx, id, conn.timeout) }); err != nil {
			return nil, err
		}
		return []ui.Field{{Key: "ID", Value: id}}, nil
	}
}

func pflashFlash(sys *optest.System, image string) ui.Operation {
	return func(ctx context.Context, onStep ui.StepCallback) ([]ui.Field, error) {
		var remote string
		err := runStep(onStep, 1, func() error {
			var err error
			remote, err = sys.ImageTransfer(ctx, image)
			return err
		})
		if err != nil {
			return nil, err
		}

		name := filepath.Base(remote)
		err = runStep(onStep, 2, func() error {
			switch flashPartition {
			case "skiboot":
				return sys.FlashSkiboot(ctx, name)
			case "skiroot":
				return sys.FlashSkiroot(ctx, name)
			default:
				return sys.FlashPNOR(ctx, name)
			}
		})
		if err != nil {
			return nil, err
		}
		return []ui.Field{{Key: "Remote file", Value: remote}}, nil
	}
}

var firmwarePriorityCmd = &cobra.Command{
	Use:   "priority <id> [priority]",
	Short: "Show or set the boot priority of an image",
	Long: `Show or set the boot priority of an image.

Priority 0 is the image the processor boots from next.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		var priority int
		set := len(args) == 2
		if set {
			p, err := strconv.Atoi(args[1])
			if err != nil || p < 0 || p > 255 {
				return fmt.Errorf("invalid priority %q (want 0-255)", args[1])
			}
			priority = p
		}
		return withSystem(cmd, func(ctx context.Context, sys *optest.System, conn *connection) error {
			fw := sys.Firmware()
			if set {
				if err := fw.SetPriority(ctx, id, priority); err != nil {
					return err
				}
			}
			current, err := fw.Priority(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s priority %d\n", id, current)
			return nil
		})
	},
}
