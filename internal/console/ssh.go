package console

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/muurk/obmctl/internal/logging"
)

// DefaultDialTimeout bounds the TCP connect and SSH handshake.
const DefaultDialTimeout = 10 * time.Second

// SSHSpawner opens an interactive shell over SSH with password auth.
// Port 2200 reaches the host console through the BMC's console
// multiplexer; port 22 reaches the BMC's own shell.
type SSHSpawner struct {
	Host     string
	Port     int
	Username string
	Password string

	// DialTimeout defaults to DefaultDialTimeout
	DialTimeout time.Duration

	Logger *zap.Logger
}

// ClientConfig returns the SSH configuration used for every spawn. BMC host
// keys change on every reflash, so they are not verified.
func (s *SSHSpawner) ClientConfig() *ssh.ClientConfig {
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	password := s.Password
	return &ssh.ClientConfig{
		User: s.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // reflashed BMCs regenerate host keys
		Timeout:         timeout,
	}
}

// Addr returns host:port.
func (s *SSHSpawner) Addr() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Dial establishes an authenticated SSH connection.
func (s *SSHSpawner) Dial(ctx context.Context) (*ssh.Client, error) {
	config := s.ClientConfig()
	addr := s.Addr()

	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Spawn implements Spawner.
func (s *SSHSpawner) Spawn(ctx context.Context) (Process, error) {
	logger := logging.OrDefault(s.Logger)

	client, err := s.Dial(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("vt100", 24, 200, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("request for pseudo terminal failed: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	logger.Debug("SSH console spawned", zap.String("addr", s.Addr()), zap.String("user", s.Username))

	p := &sshProcess{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		done:    make(chan struct{}),
	}
	go func() {
		_ = session.Wait()
		close(p.done)
	}()
	return p, nil
}

// sshProcess is an SSH shell that honours the "~." escape at line start
// the way the OpenSSH client does.
type sshProcess struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	done    chan struct{}

	escape    escapeDetector
	closeOnce sync.Once
}

func (p *sshProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *sshProcess) Write(b []byte) (int, error) {
	if p.escape.isEscape(b) {
		return len(b), p.Terminate()
	}
	return p.stdin.Write(b)
}

func (p *sshProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *sshProcess) Terminate() error {
	var err error
	p.closeOnce.Do(func() {
		_ = p.session.Close()
		err = p.client.Close()
	})
	return err
}
