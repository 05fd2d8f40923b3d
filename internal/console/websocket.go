package console

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/logging"
	"github.com/muurk/obmctl/internal/version"
)

// DefaultConsolePath is the bmcweb host console endpoint.
const DefaultConsolePath = "/console0"

// WebSocketSpawner attaches to the host console through bmcweb's websocket
// endpoint, for BMCs that do not run the SSH console multiplexer.
type WebSocketSpawner struct {
	// Host is the BMC address, optionally with ":port"
	Host     string
	Username string
	Password string

	// Path defaults to DefaultConsolePath
	Path string

	// HandshakeTimeout defaults to DefaultDialTimeout
	HandshakeTimeout time.Duration

	Logger *zap.Logger
}

// URL returns the websocket URL for the console.
func (w *WebSocketSpawner) URL() string {
	path := w.Path
	if path == "" {
		path = DefaultConsolePath
	}
	return "wss://" + w.Host + path
}

// Spawn implements Spawner.
func (w *WebSocketSpawner) Spawn(ctx context.Context) (Process, error) {
	timeout := w.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed BMC certificates
	}

	header := http.Header{}
	creds := base64.StdEncoding.EncodeToString([]byte(w.Username + ":" + w.Password))
	header.Set("Authorization", "Basic "+creds)
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := dialer.DialContext(ctx, w.URL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", w.URL(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", w.URL(), err)
	}

	logging.OrDefault(w.Logger).Debug("Websocket console attached", zap.String("url", w.URL()))

	return &wsProcess{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// wsProcess turns websocket messages into a byte stream.
type wsProcess struct {
	conn *websocket.Conn
	done chan struct{}

	readMu  sync.Mutex
	pending io.Reader

	writeMu sync.Mutex
	escape  escapeDetector

	closeOnce sync.Once
}

func (p *wsProcess) Read(b []byte) (int, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	for {
		if p.pending != nil {
			n, err := p.pending.Read(b)
			if err == io.EOF {
				p.pending = nil
				if n == 0 {
					continue
				}
				err = nil
			}
			return n, err
		}

		_, r, err := p.conn.NextReader()
		if err != nil {
			p.markDone()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		p.pending = r
	}
}

func (p *wsProcess) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	// The escape has no meaning to bmcweb; treat it as a hangup.
	if p.escape.isEscape(b) {
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return len(b), nil
	}

	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *wsProcess) markDone() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *wsProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *wsProcess) Terminate() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.conn.Close()
	})
	return err
}
