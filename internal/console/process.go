package console

import (
	"context"
	"io"
	"sync"
)

// Process is a running interactive shell. Reads return everything the
// remote side prints; writes go to its input.
type Process interface {
	io.Reader
	io.Writer

	// Alive reports whether the remote side is still connected.
	Alive() bool

	// Terminate tears the connection down. Safe to call more than once.
	Terminate() error
}

// Spawner starts a new Process.
type Spawner interface {
	Spawn(ctx context.Context) (Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context) (Process, error)

// Spawn calls f(ctx).
func (f SpawnerFunc) Spawn(ctx context.Context) (Process, error) {
	return f(ctx)
}

// escapeDetector recognises the "~." escape the way the OpenSSH client
// does: only as a write of its own at the start of a line. The zero value
// is at a line start.
type escapeDetector struct {
	mu      sync.Mutex
	midLine bool
}

// isEscape records b and reports whether it is the escape.
func (d *escapeDetector) isEscape(b []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	atStart := !d.midLine
	if len(b) > 0 {
		last := b[len(b)-1]
		d.midLine = last != '\r' && last != '\n'
	}
	return atStart && string(b) == escapeSequence
}
