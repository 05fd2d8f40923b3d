package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/clock"
	"github.com/muurk/obmctl/internal/logging"
)

const (
	// Prompt is the marker the remote shell prints when it is ready for a
	// command. It frames every command's output.
	Prompt = "[console-pexpect]#"

	// DefaultPort is the console multiplexer port on OpenBMC. Port 22 is a
	// BMC login shell instead.
	DefaultPort = 2200

	// DefaultCommandTimeout bounds each prompt wait in Run.
	DefaultCommandTimeout = 60 * time.Second

	// DefaultCloseTimeout bounds the wait for end of stream in Close.
	DefaultCloseTimeout = 30 * time.Second

	// escapeSequence is the OpenSSH escape that drops the connection.
	escapeSequence = "~."
)

// State is the connection state of a Session.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Phase is a step of the command framing protocol.
type Phase int

const (
	// AwaitEcho waits for the newline echoed after the command.
	AwaitEcho Phase = iota
	// AwaitPrompt collects output until the prompt returns.
	AwaitPrompt
	// AwaitExitEcho waits for the echo of "echo $?".
	AwaitExitEcho
	// AwaitExitPrompt collects the exit status until the prompt returns.
	AwaitExitPrompt
	// Framed means both round-trips completed, or output was recovered.
	Framed
)

func (p Phase) String() string {
	switch p {
	case AwaitEcho:
		return "await-echo"
	case AwaitPrompt:
		return "await-prompt"
	case AwaitExitEcho:
		return "await-exit-echo"
	case AwaitExitPrompt:
		return "await-exit-prompt"
	case Framed:
		return "framed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ReconnectPolicy bounds how hard Get tries to revive a dead session.
type ReconnectPolicy struct {
	// MaxAttempts is the number of failed reconnects tolerated. The next
	// consecutive failure is fatal.
	MaxAttempts int
	// Delay is slept between attempts, never before the first one.
	Delay time.Duration
}

// DefaultReconnectPolicy tolerates two minutes of link flakiness.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 120, Delay: time.Second}
}

// Options configures a Session.
type Options struct {
	// Target names the endpoint in logs and errors.
	Target string

	// Reconnect is the policy used by Get.
	Reconnect ReconnectPolicy

	// Clock drives reconnect delays. Defaults to the real clock.
	Clock clock.Clock

	// InstallPrompt sets PS1 to Prompt right after connecting. Needed for
	// plain login shells that do not already print the marker.
	InstallPrompt bool

	// PromptTimeout bounds the wait for the installed prompt.
	PromptTimeout time.Duration

	// CloseTimeout bounds the wait for end of stream in Close.
	CloseTimeout time.Duration
}

// Session is a reconnecting interactive shell framed by Prompt.
//
// A Session owns its process exclusively. Calls are serialized; the framing
// protocol has no multiplexing.
type Session struct {
	spawner Spawner
	opts    Options
	clock   clock.Clock
	logger  *zap.Logger

	mu         sync.Mutex
	state      State
	proc       Process
	exp        *expecter
	reconnects int
}

// NewSession creates a disconnected session. Nothing is spawned until the
// first command.
func NewSession(spawner Spawner, opts Options, logger *zap.Logger) *Session {
	if opts.Reconnect.MaxAttempts <= 0 {
		opts.Reconnect = DefaultReconnectPolicy()
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = DefaultCommandTimeout
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Session{
		spawner: spawner,
		opts:    opts,
		clock:   clk,
		logger:  logging.OrDefault(logger).With(zap.String("console", opts.Target)),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reconnects returns how many spawns Get performed to revive the session.
func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Connect spawns a fresh shell, terminating any existing one first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	if s.state == Connected {
		s.terminate()
	}

	s.logger.Info("Connecting console")
	proc, err := s.spawner.Spawn(ctx)
	if err != nil {
		return fmt.Errorf("failed to spawn console: %w", err)
	}
	s.proc = proc
	s.exp = newExpecter(proc, s.logger)
	s.state = Connected

	if s.opts.InstallPrompt {
		if err := s.installPrompt(ctx); err != nil {
			s.terminate()
			return err
		}
	}
	return nil
}

// installPrompt replaces the login shell's prompt with the marker.
func (s *Session) installPrompt(ctx context.Context) error {
	if err := s.send("PS1='" + Prompt + "'\n"); err != nil {
		return err
	}
	// The echoed line contains the marker itself, so it must be consumed
	// before looking for the real prompt.
	if _, err := s.exp.expect(ctx, literal("\n"), s.opts.PromptTimeout); err != nil {
		return &FramingError{Command: "PS1", Phase: AwaitEcho, Err: err}
	}
	if _, err := s.exp.expect(ctx, atEnd(Prompt), s.opts.PromptTimeout); err != nil {
		return &FramingError{Command: "PS1", Phase: AwaitPrompt, Err: err}
	}
	return nil
}

func (s *Session) alive() bool {
	return s.state == Connected && s.proc != nil && s.proc.Alive() && !s.exp.ended()
}

// Get ensures a live session, reconnecting if the process died.
//
// The first attempt is immediate, later ones wait Reconnect.Delay. When
// Reconnect.MaxAttempts+1 consecutive attempts fail, a *ConnectError is
// returned.
func (s *Session) Get(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx)
}

func (s *Session) get(ctx context.Context) error {
	if s.alive() {
		return nil
	}

	policy := s.opts.Reconnect
	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			if err := s.clock.Sleep(ctx, policy.Delay); err != nil {
				s.terminate()
				return err
			}
			s.logger.Warn("Reconnecting console", zap.Int("attempt", attempt))
		}

		s.reconnects++
		lastErr = s.connect(ctx)
		if lastErr == nil && s.alive() {
			return nil
		}
		if lastErr != nil {
			s.logger.Debug("Console spawn failed", zap.Error(lastErr))
		}
	}

	s.terminate()
	return &ConnectError{
		Target:   s.opts.Target,
		Attempts: policy.MaxAttempts + 1,
		Err:      lastErr,
	}
}

// Run sends command and returns its output lines.
//
// Output is everything printed between the echoed command line and the
// next prompt. The exit status is read with a separate "echo $?" round-trip
// and a non-zero status returns *CommandFailedError. If the prompt does not
// return within timeout, the buffered output after the last occurrence of
// the command is returned without an exit status check.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if err := s.get(ctx); err != nil {
		return nil, err
	}

	f := &framer{session: s, command: command, timeout: timeout}
	if err := f.run(ctx); err != nil {
		return nil, err
	}

	if f.recovered {
		s.logger.Warn("Prompt not seen, returning recovered output",
			zap.String("command", command),
			zap.Duration("timeout", timeout),
		)
		return f.lines, nil
	}

	if f.exitCode != 0 {
		return nil, &CommandFailedError{Command: command, Output: f.lines, ExitCode: f.exitCode}
	}
	return f.lines, nil
}

// RunIgnoringFailure is Run, except a non-zero exit returns the captured
// output instead of an error. Other errors still propagate.
func (s *Session) RunIgnoringFailure(ctx context.Context, command string, timeout time.Duration) ([]string, error) {
	lines, err := s.Run(ctx, command, timeout)
	var cf *CommandFailedError
	if errors.As(err, &cf) {
		return cf.Output, nil
	}
	return lines, err
}

// Start launches command detached from the shell and returns once the
// prompt is back. Its exit status is never observed.
func (s *Session) Start(ctx context.Context, command string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if err := s.get(ctx); err != nil {
		return err
	}

	line := detached(command)
	if err := s.send(line + "\n"); err != nil {
		return err
	}
	if _, err := s.exp.expect(ctx, literal("\n"), timeout); err != nil {
		return &FramingError{Command: line, Phase: AwaitEcho, Err: err}
	}
	if _, err := s.exp.expect(ctx, atEnd(Prompt), timeout); err != nil {
		return &FramingError{Command: line, Phase: AwaitPrompt, Err: err}
	}
	s.logger.Info("Started background command", zap.String("command", command))
	return nil
}

// detached wraps command so it survives the shell and prints nothing.
func detached(command string) string {
	quoted := strings.ReplaceAll(command, "'", `'\''`)
	return "nohup sh -c '" + quoted + "' >/dev/null 2>&1 &"
}

// Close exits the remote shell with the escape sequence and waits for the
// stream to end. Closing a disconnected session does nothing, and a session
// whose process already died is torn down without error.
//
// The session is Disconnected afterwards even when a *CloseError is
// returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Disconnected {
		return nil
	}
	if !s.alive() {
		s.logger.Info("Console already gone, releasing it")
		s.terminate()
		return nil
	}

	s.logger.Info("Closing console")
	if err := s.closeClean(ctx); err != nil {
		s.terminate()
		return &CloseError{Target: s.opts.Target, Err: err}
	}
	s.terminate()
	return nil
}

func (s *Session) closeClean(ctx context.Context) error {
	if err := s.send("\r"); err != nil {
		return err
	}
	if err := s.send(escapeSequence); err != nil {
		return err
	}
	return s.exp.expectEOF(ctx, s.opts.CloseTimeout)
}

// Terminate hard-stops the process. It is always safe to call.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminate()
}

func (s *Session) terminate() {
	if s.proc != nil {
		if err := s.proc.Terminate(); err != nil {
			s.logger.Debug("Terminate failed", zap.Error(err))
		}
	}
	s.proc = nil
	s.exp = nil
	s.state = Disconnected
}

func (s *Session) send(data string) error {
	logging.LogConsoleIO(s.logger, "tx", []byte(data))
	if _, err := io.WriteString(s.proc, data); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

// framer drives one command through the framing phases.
type framer struct {
	session *Session
	command string
	timeout time.Duration

	phase     Phase
	lines     []string
	exitCode  int
	recovered bool
}

func (f *framer) run(ctx context.Context) error {
	if err := f.session.send(f.command + "\n"); err != nil {
		return err
	}
	for f.phase != Framed {
		if err := f.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// step advances the framer by one phase.
func (f *framer) step(ctx context.Context) error {
	exp := f.session.exp

	switch f.phase {
	case AwaitEcho, AwaitExitEcho:
		if _, err := exp.expect(ctx, literal("\n"), f.timeout); err != nil {
			return f.fail(err, "")
		}
		f.phase++

	case AwaitPrompt:
		before, err := exp.expect(ctx, atEnd(Prompt), f.timeout)
		if errors.Is(err, errExpectTimeout) {
			f.lines = recoverOutput(exp.drain(), f.command)
			f.recovered = true
			f.phase = Framed
			return nil
		}
		if err != nil {
			return f.fail(err, "")
		}
		f.lines = splitLines(string(before))
		if err := f.session.send("echo $?\n"); err != nil {
			return err
		}
		f.phase = AwaitExitEcho

	case AwaitExitPrompt:
		before, err := exp.expect(ctx, atEnd(Prompt), f.timeout)
		if err != nil {
			return f.fail(err, "")
		}
		status := strings.TrimSpace(string(before))
		code, convErr := strconv.Atoi(status)
		if convErr != nil {
			return f.fail(nil, status)
		}
		f.exitCode = code
		f.phase = Framed
	}
	return nil
}

func (f *framer) fail(err error, output string) error {
	if errors.Is(err, io.EOF) {
		err = ErrClosed
	}
	return &FramingError{Command: f.command, Phase: f.phase, Output: output, Err: err}
}

// recoverOutput returns the lines following the last occurrence of
// command in raw, or all of raw if the command is not there.
func recoverOutput(raw []byte, command string) []string {
	text := string(raw)
	if i := strings.LastIndex(text, command); i >= 0 {
		text = text[i+len(command):]
	}
	return splitLines(text)
}

// splitLines splits on any line ending and drops the empty tail a final
// newline leaves behind.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if s == "" {
		return []string{}
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
