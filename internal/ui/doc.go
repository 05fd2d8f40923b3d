// Package ui provides terminal output components for the obmctl CLI.
//
// This package uses Bubble Tea, Bubbles and Lipgloss to render styled
// terminal output. The components follow a "run once and exit" pattern:
// they render output but never require interaction, apart from the
// explicit confirmation prompt guarding dangerous operations.
//
// # Components
//
//   - Header: command banner showing the operation and its parameters
//   - Progress: progress bar with a step list
//   - Result: success, failure and warning boxes
//   - OutputBox: output lines of a command run on the BMC or host
//   - RenderTable: aligned tables for listings
//
// Runner ties them together for multi-step operations:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "Firmware Flash",
//	    Command:   "obmctl firmware flash",
//	    Params:    []ui.Field{{Key: "BMC", Value: host}},
//	    StepNames: []string{"Upload image", "Wait for Ready", "Activate", "Wait for Active"},
//	    Hints:     troubleshooting,
//	})
//	err := runner.Run(ctx, func(ctx context.Context, onStep ui.StepCallback) ([]ui.Field, error) {
//	    onStep(1, ui.StepRunning, "")
//	    // ...
//	    onStep(1, ui.StepComplete, "")
//	    return nil, nil
//	})
//
// # Logging Integration
//
// Logging is controlled by the OBMCTL_LOG_LEVEL environment variable or
// the --log-level flag. When unset, zap logging is silent so the styled
// output is displayed cleanly.
package ui
