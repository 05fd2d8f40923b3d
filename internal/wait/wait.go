package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/clock"
	"github.com/muurk/obmctl/internal/logging"
)

// DefaultInterval is the delay between two reads of a polled state.
const DefaultInterval = 5 * time.Second

// Outcome classifies a single read, and the result of a whole poll.
type Outcome int

const (
	// NoMatch means the state was read but differs from the target.
	NoMatch Outcome = iota
	// Match means the state equals the target.
	Match
	// Unsupported means the state source does not exist on this firmware.
	Unsupported
)

func (o Outcome) String() string {
	switch o {
	case NoMatch:
		return "no-match"
	case Match:
		return "match"
	case Unsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ErrUnsupported is returned by a Reader whose state source is absent, for
// example a D-Bus property missing from an older firmware.
var ErrUnsupported = errors.New("state source not supported by this firmware")

// ErrNoStateSource is returned by FirstSupported when every fallback step
// reported Unsupported.
var ErrNoStateSource = errors.New("no supported state source")

// Reader reads the current value of a remote state.
type Reader[S comparable] func(ctx context.Context) (S, error)

// Waiter holds the timing policy shared by every poll.
type Waiter struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

// NewWaiter returns a Waiter polling every DefaultInterval on the real clock.
func NewWaiter(logger *zap.Logger) *Waiter {
	return &Waiter{
		Interval: DefaultInterval,
		Clock:    clock.Real(),
		Logger:   logging.OrDefault(logger),
	}
}

func (w *Waiter) clock() clock.Clock {
	if w.Clock == nil {
		return clock.Real()
	}
	return w.Clock
}

// Sleep pauses on the waiter's clock. It returns early with ctx.Err() when
// ctx is done.
func (w *Waiter) Sleep(ctx context.Context, d time.Duration) error {
	return w.clock().Sleep(ctx, d)
}

func (w *Waiter) interval() time.Duration {
	if w.Interval <= 0 {
		return DefaultInterval
	}
	return w.Interval
}

func (w *Waiter) logger() *zap.Logger {
	return logging.OrDefault(w.Logger)
}

// Poll describes one convergence wait: read a state until it equals Target.
type Poll[S comparable] struct {
	// Target is the value that ends the wait successfully.
	Target S
	// Describe names the target in logs and in the timeout error.
	Describe string
	// Read fetches the current value.
	Read Reader[S]
	// Observe, if set, is called with every value read. Used to report
	// intermediate progress such as an image in Activating.
	Observe func(S)
	// TolerateErrors turns read errors into NoMatch instead of aborting.
	// ErrUnsupported is never tolerated.
	TolerateErrors bool
}

// Run polls until the target is observed, the source turns out to be
// unsupported, or the deadline passes.
//
// It returns (Match, nil) on success and (Unsupported, nil) when Read
// reports ErrUnsupported. Exceeding the deadline returns a *TimeoutError.
func (p Poll[S]) Run(ctx context.Context, w *Waiter, timeout time.Duration) (Outcome, error) {
	clk := w.clock()
	log := w.logger()
	deadline := clk.Now().Add(timeout)
	target := fmt.Sprint(p.Target)
	describe := p.Describe
	if describe == "" {
		describe = target
	}

	var last S
	var observed bool
	for {
		if err := ctx.Err(); err != nil {
			return NoMatch, err
		}

		outcome, value, err := p.observe(ctx)
		switch {
		case err != nil && !p.TolerateErrors:
			return NoMatch, err
		case err != nil:
			log.Warn("Read failed while waiting, will retry",
				zap.String("target", describe),
				zap.Error(err),
			)
		case outcome == Unsupported:
			log.Info("State source unsupported", zap.String("target", describe))
			return Unsupported, nil
		case outcome == Match:
			logging.LogStateTransition(log, describe, fmt.Sprint(value), target)
			return Match, nil
		default:
			last, observed = value, true
			logging.LogStateTransition(log, describe, fmt.Sprint(value), target)
		}

		if clk.Now().After(deadline) {
			te := &TimeoutError{Target: describe, Timeout: timeout}
			if observed {
				te.Last = fmt.Sprint(last)
			}
			return NoMatch, te
		}
		if err := clk.Sleep(ctx, w.interval()); err != nil {
			return NoMatch, err
		}
	}
}

// observe performs a single read and classifies it.
func (p Poll[S]) observe(ctx context.Context) (Outcome, S, error) {
	value, err := p.Read(ctx)
	if errors.Is(err, ErrUnsupported) {
		return Unsupported, value, nil
	}
	if err != nil {
		return NoMatch, value, err
	}
	if p.Observe != nil {
		p.Observe(value)
	}
	if value == p.Target {
		return Match, value, nil
	}
	return NoMatch, value, nil
}

// Step is one entry of a fallback chain.
type Step func(ctx context.Context) (Outcome, error)

// FirstSupported runs steps in order and returns the first result that is
// not Unsupported. Errors stop the chain. When every step is unsupported
// it returns ErrNoStateSource, so Unsupported never reaches the caller.
func FirstSupported(ctx context.Context, steps ...Step) (Outcome, error) {
	for _, step := range steps {
		outcome, err := step(ctx)
		if err != nil {
			return outcome, err
		}
		if outcome != Unsupported {
			return outcome, nil
		}
	}
	return Unsupported, ErrNoStateSource
}
