package wait

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/obmctl/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestWaiter() (*Waiter, *clock.Fake) {
	clk := clock.NewFake(epoch)
	return &Waiter{Interval: 5 * time.Second, Clock: clk}, clk
}

// sequence returns a reader yielding values in order, repeating the last.
func sequence[S comparable](values ...S) (Reader[S], *int) {
	calls := 0
	return func(context.Context) (S, error) {
		i := calls
		calls++
		if i >= len(values) {
			i = len(values) - 1
		}
		return values[i], nil
	}, &calls
}

func TestPollMatchesImmediately(t *testing.T) {
	w, clk := newTestWaiter()
	read, calls := sequence("On")

	outcome, err := Poll[string]{Target: "On", Read: read}.Run(context.Background(), w, 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Match, outcome)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, clk.Sleeps(), "no sleep before a first-read match")
}

func TestPollMatchesAfterSeveralReads(t *testing.T) {
	w, clk := newTestWaiter()
	read, calls := sequence("Off", "Off", "Off", "On")

	outcome, err := Poll[string]{Target: "On", Read: read}.Run(context.Background(), w, 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Match, outcome)
	assert.Equal(t, 4, *calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clk.Sleeps())
}

func TestPollTimesOut(t *testing.T) {
	w, clk := newTestWaiter()
	read, calls := sequence("Off")

	outcome, err := Poll[string]{Target: "On", Describe: "chassis power On", Read: read}.
		Run(context.Background(), w, time.Minute)

	assert.Equal(t, NoMatch, outcome)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "chassis power On", te.Target)
	assert.Equal(t, "Off", te.Last)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "chassis power On")

	// Reads at 0s, 5s ... 60s are all within the deadline, the read at 65s is past it.
	assert.Equal(t, 14, *calls)
	assert.True(t, clk.Now().After(epoch.Add(time.Minute)))
}

func TestPollTimeoutNamesTargetWhenUndescribed(t *testing.T) {
	w, _ := newTestWaiter()
	read, _ := sequence(1)

	_, err := Poll[int]{Target: 2, Read: read}.Run(context.Background(), w, 10*time.Second)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "2", te.Target)
}

func TestPollMatchJustBeforeDeadline(t *testing.T) {
	w, _ := newTestWaiter()
	// 10s timeout: reads at 0, 5, 10. The third read still counts.
	read, _ := sequence("a", "b", "target")

	outcome, err := Poll[string]{Target: "target", Read: read}.Run(context.Background(), w, 10*time.Second)

	require.NoError(t, err)
	assert.Equal(t, Match, outcome)
}

func TestPollUnsupportedReturnsImmediately(t *testing.T) {
	w, clk := newTestWaiter()
	calls := 0
	read := func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("chassis0: %w", ErrUnsupported)
	}

	outcome, err := Poll[string]{Target: "On", Read: read}.Run(context.Background(), w, 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Unsupported, outcome)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
}

func TestPollUnsupportedAfterNoMatch(t *testing.T) {
	w, _ := newTestWaiter()
	calls := 0
	read := func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "Off", nil
		}
		return "", ErrUnsupported
	}

	outcome, err := Poll[string]{Target: "On", Read: read}.Run(context.Background(), w, 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Unsupported, outcome)
}

func TestPollReadErrorAborts(t *testing.T) {
	w, _ := newTestWaiter()
	boom := errors.New("connection refused")
	read := func(context.Context) (string, error) { return "", boom }

	outcome, err := Poll[string]{Target: "On", Read: read}.Run(context.Background(), w, 10*time.Minute)

	assert.Equal(t, NoMatch, outcome)
	assert.ErrorIs(t, err, boom)
}

func TestPollTolerateErrors(t *testing.T) {
	w, _ := newTestWaiter()
	calls := 0
	read := func(context.Context) (string, error) {
		calls++
		if calls <= 3 {
			return "", errors.New("BMC rebooting")
		}
		return "Ready", nil
	}

	outcome, err := Poll[string]{Target: "Ready", Read: read, TolerateErrors: true}.
		Run(context.Background(), w, 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, Match, outcome)
	assert.Equal(t, 4, calls)
}

func TestPollTolerateErrorsStillTimesOut(t *testing.T) {
	w, _ := newTestWaiter()
	read := func(context.Context) (string, error) { return "", errors.New("down") }

	_, err := Poll[string]{Target: "Ready", Read: read, TolerateErrors: true}.
		Run(context.Background(), w, 30*time.Second)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Empty(t, te.Last)
}

func TestPollObserveSeesEveryValue(t *testing.T) {
	w, _ := newTestWaiter()
	read, _ := sequence("Ready", "Activating", "Activating", "Active")
	var seen []string

	_, err := Poll[string]{
		Target:  "Active",
		Read:    read,
		Observe: func(s string) { seen = append(seen, s) },
	}.Run(context.Background(), w, 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, []string{"Ready", "Activating", "Activating", "Active"}, seen)
}

func TestPollCancelledContext(t *testing.T) {
	w, _ := newTestWaiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	read, calls := sequence("Off")

	_, err := Poll[string]{Target: "On", Read: read}.Run(ctx, w, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *calls)
}

func TestPollCancelledDuringSleep(t *testing.T) {
	w := &Waiter{Interval: time.Hour, Clock: clock.Real()}
	ctx, cancel := context.WithCancel(context.Background())
	read := func(context.Context) (string, error) {
		cancel()
		return "Off", nil
	}

	start := time.Now()
	outcome, err := Poll[string]{Target: "On", Read: read}.Run(ctx, w, 2*time.Hour)

	assert.Equal(t, NoMatch, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFirstSupported(t *testing.T) {
	step := func(o Outcome, err error, ran *[]int, id int) Step {
		return func(context.Context) (Outcome, error) {
			*ran = append(*ran, id)
			return o, err
		}
	}

	t.Run("first step supported", func(t *testing.T) {
		var ran []int
		outcome, err := FirstSupported(context.Background(),
			step(Match, nil, &ran, 1),
			step(Match, nil, &ran, 2),
		)
		require.NoError(t, err)
		assert.Equal(t, Match, outcome)
		assert.Equal(t, []int{1}, ran)
	})

	t.Run("falls back", func(t *testing.T) {
		var ran []int
		outcome, err := FirstSupported(context.Background(),
			step(Unsupported, nil, &ran, 1),
			step(Match, nil, &ran, 2),
		)
		require.NoError(t, err)
		assert.Equal(t, Match, outcome)
		assert.Equal(t, []int{1, 2}, ran)
	})

	t.Run("error stops the chain", func(t *testing.T) {
		var ran []int
		timeout := &TimeoutError{Target: "x"}
		_, err := FirstSupported(context.Background(),
			step(NoMatch, timeout, &ran, 1),
			step(Match, nil, &ran, 2),
		)
		assert.ErrorIs(t, err, timeout)
		assert.Equal(t, []int{1}, ran)
	})

	t.Run("all unsupported", func(t *testing.T) {
		var ran []int
		_, err := FirstSupported(context.Background(),
			step(Unsupported, nil, &ran, 1),
			step(Unsupported, nil, &ran, 2),
		)
		assert.ErrorIs(t, err, ErrNoStateSource)
		assert.Equal(t, []int{1, 2}, ran)
	})
}

func TestFallbackChainSharesLoop(t *testing.T) {
	w, clk := newTestWaiter()
	modern := Poll[string]{
		Target: "xyz.openbmc_project.State.Chassis.PowerState.On",
		Read:   func(context.Context) (string, error) { return "", ErrUnsupported },
	}
	legacyRead, _ := sequence("FW Progress, Motherboard init", "FW Progress, Starting OS")
	legacy := Poll[string]{Target: "FW Progress, Starting OS", Read: legacyRead}

	outcome, err := FirstSupported(context.Background(),
		func(ctx context.Context) (Outcome, error) { return modern.Run(ctx, w, 10*time.Minute) },
		func(ctx context.Context) (Outcome, error) { return legacy.Run(ctx, w, 10*time.Minute) },
	)

	require.NoError(t, err)
	assert.Equal(t, Match, outcome)
	assert.Equal(t, []time.Duration{5 * time.Second}, clk.Sleeps())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "match", Match.String())
	assert.Equal(t, "no-match", NoMatch.String())
	assert.Equal(t, "unsupported", Unsupported.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}
