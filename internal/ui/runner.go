package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// RunnerConfig holds configuration for a long-running command
type RunnerConfig struct {
	Title     string   // e.g., "Firmware Flash"
	Command   string   // e.g., "obmctl firmware flash"
	Params    []Field  // Parameters to display in header
	StepNames []string // Names for each step
	// Hints turns a failure into troubleshooting tips
	Hints  func(error) []string
	Output io.Writer // default: os.Stdout
}

// Runner orchestrates the header, step progress and result output of a
// multi-step operation such as a firmware flash or BMC reset.
type Runner struct {
	config   RunnerConfig
	header   *Header
	progress *Progress
	output   io.Writer
	width    int
	now      func() time.Time
}

// NewRunner creates a new runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()

	r := &Runner{
		config: config,
		header: NewHeader(config.Title, config.Command, config.Params...).SetWidth(width),
		output: config.Output,
		width:  width,
		now:    time.Now,
	}
	if len(config.StepNames) > 0 {
		r.progress = NewProgress("", config.StepNames...).SetWidth(width)
	}
	return r
}

// Operation is the work performed under a Runner. It reports progress
// through onStep and returns details for the success box.
type Operation func(ctx context.Context, onStep StepCallback) ([]Field, error)

// Run prints the header, executes op while printing step updates, then
// prints the success or failure box. The operation error is returned.
func (r *Runner) Run(ctx context.Context, op Operation) error {
	start := r.now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	details, err := op(ctx, r.onStep)
	duration := r.now().Sub(start).Round(time.Millisecond)

	_, _ = fmt.Fprintln(r.output)
	if err != nil {
		var hints []string
		if r.config.Hints != nil {
			hints = r.config.Hints(err)
		}
		result := NewFailureResult(r.config.Title+" failed", err, hints).SetWidth(r.width)
		_, _ = fmt.Fprintln(r.output, result.Render())
		return err
	}

	result := NewSuccessResult(r.config.Title+" complete", details...).SetWidth(r.width)
	result.AddDetail("Duration", duration.String())
	_, _ = fmt.Fprintln(r.output, result.Render())
	return nil
}

func (r *Runner) onStep(stepNumber int, status StepStatus, message string) {
	if r.progress == nil || stepNumber < 1 || stepNumber > r.progress.Total() {
		return
	}
	r.progress.UpdateStep(stepNumber, status, message)
	line := r.progress.RenderStepLine(r.progress.Steps[stepNumber-1])
	if status.done() {
		_, _ = fmt.Fprintln(r.output, line)
	} else {
		// overwritten when the step finishes
		_, _ = fmt.Fprint(r.output, line+"\r")
	}
}
