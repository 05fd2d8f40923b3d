// Package wait implements the convergence loop used to wait for remote
// device and firmware state transitions.
//
// A Poll reads a state at a fixed interval until it equals a target, until
// the state source reports itself as unsupported, or until a deadline
// passes. Every read is classified as one of three outcomes:
//
//   - Match: the value equals the target, the wait succeeds
//   - NoMatch: keep polling, or fail with *TimeoutError past the deadline
//   - Unsupported: the reader returned ErrUnsupported, the wait returns
//     immediately so the caller can try an older state source
//
// FirstSupported chains polls across API generations:
//
//	outcome, err := wait.FirstSupported(ctx,
//	    func(ctx context.Context) (wait.Outcome, error) {
//	        return modern.Run(ctx, waiter, timeout)
//	    },
//	    func(ctx context.Context) (wait.Outcome, error) {
//	        return legacy.Run(ctx, waiter, timeout)
//	    },
//	)
//
// Both polls share the same loop; only the reader and target differ.
//
// The Waiter carries the interval and an injectable clock. Tests use
// clock.Fake so a ten minute wait runs instantly.
package wait
