package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/logging"
)

// errExpectTimeout is returned when a pattern does not show up in time.
var errExpectTimeout = errors.New("timeout waiting for console output")

// matcher finds a pattern in buf and returns the span it covers.
type matcher func(buf []byte) (start, end int, ok bool)

// literal matches the first occurrence of s.
func literal(s string) matcher {
	needle := []byte(s)
	return func(buf []byte) (int, int, bool) {
		i := bytes.Index(buf, needle)
		if i < 0 {
			return 0, 0, false
		}
		return i, i + len(needle), true
	}
}

// atEnd matches the last occurrence of s when nothing but blanks follows
// it, the way a shell prompt sits at the end of the stream.
func atEnd(s string) matcher {
	needle := []byte(s)
	return func(buf []byte) (int, int, bool) {
		i := bytes.LastIndex(buf, needle)
		if i < 0 {
			return 0, 0, false
		}
		if len(bytes.Trim(buf[i+len(needle):], " \t")) != 0 {
			return 0, 0, false
		}
		return i, len(buf), true
	}
}

// expecter accumulates a process's output in the background so reads can
// wait for a pattern with a deadline.
type expecter struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}
	logger *zap.Logger
}

func newExpecter(r io.Reader, logger *zap.Logger) *expecter {
	e := &expecter{
		notify: make(chan struct{}),
		logger: logging.OrDefault(logger),
	}
	go e.pump(r)
	return e
}

func (e *expecter) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		e.mu.Lock()
		if n > 0 {
			e.buf = append(e.buf, chunk[:n]...)
			logging.LogConsoleIO(e.logger, "rx", chunk[:n])
		}
		if err != nil {
			e.err = err
		}
		close(e.notify)
		e.notify = make(chan struct{})
		e.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// expect waits until m matches the buffered output. On a match, the text
// before it is returned and everything up to the end of the match is
// consumed. End of stream returns io.EOF once nothing else can match.
func (e *expecter) expect(ctx context.Context, m matcher, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()
		if start, end, ok := m(e.buf); ok {
			before := append([]byte(nil), e.buf[:start]...)
			e.buf = e.buf[end:]
			e.mu.Unlock()
			return before, nil
		}
		if e.err != nil {
			e.mu.Unlock()
			return nil, io.EOF
		}
		wake := e.notify
		e.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return nil, errExpectTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// expectEOF waits for the stream to end, discarding output.
func (e *expecter) expectEOF(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()
		done := e.err != nil
		e.buf = e.buf[:0]
		wake := e.notify
		e.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-wake:
		case <-timer.C:
			return errExpectTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain returns and consumes everything buffered so far.
func (e *expecter) drain() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.buf
	e.buf = nil
	return out
}

// ended reports whether the stream has hit EOF or a read error.
func (e *expecter) ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err != nil
}
