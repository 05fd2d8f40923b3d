// Package clock abstracts wall-clock time so polling and reconnect loops can
// be driven by a fake clock in tests.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the subset of time functions used by blocking loops.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d or until ctx is done, whichever comes first. It
	// returns ctx.Err() when cut short.
	Sleep(ctx context.Context, d time.Duration) error
}

type wrapped struct {
	c clockwork.Clock
}

// Real returns a Clock backed by the system time.
func Real() Clock {
	return Wrap(clockwork.NewRealClock())
}

// Wrap adapts a clockwork clock. A clockwork.FakeClock blocks sleepers
// until it is advanced, which suits tests that run the loop in a goroutine.
func Wrap(c clockwork.Clock) Clock {
	return wrapped{c: c}
}

func (w wrapped) Now() time.Time { return w.c.Now() }

func (w wrapped) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-w.c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake is a manually driven Clock. Sleep advances the fake time instead of
// blocking, which lets a whole polling loop run instantly on the calling
// goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFake returns a Fake starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep records the call and advances the fake time by d. A done context
// returns its error without advancing.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

// Advance moves the fake time forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleeps returns a copy of every duration passed to Sleep.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
