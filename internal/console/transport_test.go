package console

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestEscapeDetector(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   []bool
	}{
		{"escape first", []string{"~."}, []bool{true}},
		{"escape after carriage return", []string{"ls\r", "~."}, []bool{false, true}},
		{"escape after newline", []string{"ls\n", "~."}, []bool{false, true}},
		{"escape mid line", []string{"ls", "~."}, []bool{false, false}},
		{"escape inside a longer write", []string{"~.\n"}, []bool{false}},
		{"tilde alone", []string{"~", "."}, []bool{false, false}},
		{"empty write keeps line start", []string{"\r", "", "~."}, []bool{false, false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d escapeDetector
			for i, w := range tt.writes {
				assert.Equal(t, tt.want[i], d.isEscape([]byte(w)), "write %d %q", i, w)
			}
		})
	}
}

// startSSHServer runs a password-protected SSH server whose shell answers
// every line with "got <line>".
func startSSHServer(t *testing.T, password string) (string, int) {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == "root" && string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, config)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func serveSSH(nc net.Conn, config *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				_ = req.Reply(req.Type == "pty-req" || req.Type == "shell", nil)
			}
		}()
		go func() {
			defer ch.Close()
			r := bufio.NewReader(ch)
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				_, _ = io.WriteString(ch, "got "+strings.TrimSpace(line)+"\r\n")
			}
		}()
	}
}

func TestSSHSpawnerShell(t *testing.T) {
	host, port := startSSHServer(t, "0penBmc")
	spawner := &SSHSpawner{Host: host, Port: port, Username: "root", Password: "0penBmc", DialTimeout: 5 * time.Second}

	proc, err := spawner.Spawn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate() })

	_, err = io.WriteString(proc, "hostname\n")
	require.NoError(t, err)

	want := "got hostname\r\n"
	got := make([]byte, len(want))
	_, err = io.ReadFull(proc, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
	assert.True(t, proc.Alive())
}

func TestSSHProcessEscapeAtLineStartHangsUp(t *testing.T) {
	host, port := startSSHServer(t, "0penBmc")
	spawner := &SSHSpawner{Host: host, Port: port, Username: "root", Password: "0penBmc"}

	proc, err := spawner.Spawn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate() })

	_, err = io.WriteString(proc, "\r")
	require.NoError(t, err)
	n, err := io.WriteString(proc, escapeSequence)
	require.NoError(t, err)
	assert.Equal(t, len(escapeSequence), n)

	assert.Eventually(t, func() bool { return !proc.Alive() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, proc.Terminate(), "terminate after hangup is safe")
}

func TestSSHProcessEscapeMidLineIsData(t *testing.T) {
	host, port := startSSHServer(t, "0penBmc")
	spawner := &SSHSpawner{Host: host, Port: port, Username: "root", Password: "0penBmc"}

	proc, err := spawner.Spawn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate() })

	for _, w := range []string{"echo", escapeSequence, "\n"} {
		_, err = io.WriteString(proc, w)
		require.NoError(t, err)
	}

	want := "got echo~.\r\n"
	got := make([]byte, len(want))
	_, err = io.ReadFull(proc, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
	assert.True(t, proc.Alive())
}

func TestSSHSpawnerBadPassword(t *testing.T) {
	host, port := startSSHServer(t, "0penBmc")
	spawner := &SSHSpawner{Host: host, Port: port, Username: "root", Password: "wrong"}

	_, err := spawner.Spawn(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh handshake")
}

// startConsoleServer serves a websocket console that checks basic auth and
// answers each message with its echo followed by one line of output, sent
// as two separate messages.
func startConsoleServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultConsolePath, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "root" || pass != "0penBmc" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			line := strings.TrimSpace(string(data))
			if line == "" {
				continue
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
			_ = conn.WriteMessage(websocket.TextMessage, []byte("out "+line+"\r\n"))
		}
	})

	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newWebSocketSpawner(srv *httptest.Server, password string) *WebSocketSpawner {
	return &WebSocketSpawner{
		Host:     strings.TrimPrefix(srv.URL, "https://"),
		Username: "root",
		Password: password,
	}
}

func TestWebSocketProcessStreamsMessages(t *testing.T) {
	srv := startConsoleServer(t)

	proc, err := newWebSocketSpawner(srv, "0penBmc").Spawn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate() })

	_, err = io.WriteString(proc, "uname\n")
	require.NoError(t, err)

	want := "uname\r\nout uname\r\n"
	got := make([]byte, len(want))
	_, err = io.ReadFull(proc, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
	assert.True(t, proc.Alive())
}

func TestWebSocketProcessEscapeClosesNormally(t *testing.T) {
	srv := startConsoleServer(t)

	proc, err := newWebSocketSpawner(srv, "0penBmc").Spawn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate() })

	_, err = io.WriteString(proc, "\r")
	require.NoError(t, err)
	_, err = io.WriteString(proc, escapeSequence)
	require.NoError(t, err)

	rest, err := io.ReadAll(proc)
	require.NoError(t, err, "a normal close ends the stream with io.EOF")
	assert.Empty(t, rest)
	assert.False(t, proc.Alive())
}

func TestWebSocketSessionRoundTrip(t *testing.T) {
	srv := startConsoleServer(t)
	spawner := newWebSocketSpawner(srv, "0penBmc")

	proc, err := spawner.Spawn(context.Background())
	require.NoError(t, err)
	exp := newExpecter(proc, nil)
	t.Cleanup(func() { _ = proc.Terminate() })

	_, err = io.WriteString(proc, "date\n")
	require.NoError(t, err)
	before, err := exp.expect(context.Background(), literal("out date"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "date\r\n", string(before))
}

func TestWebSocketSpawnerRejectsBadCredentials(t *testing.T) {
	srv := startConsoleServer(t)

	_, err := newWebSocketSpawner(srv, "wrong").Spawn(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestWebSocketSpawnerURL(t *testing.T) {
	w := &WebSocketSpawner{Host: "bmc:443"}
	assert.Equal(t, "wss://bmc:443/console0", w.URL())
	w.Path = "/console1"
	assert.Equal(t, "wss://bmc:443/console1", w.URL())
}
