package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/logging"
)

const (
	// DefaultUsername is the factory OpenBMC account
	DefaultUsername = "root"

	// DefaultPassword is the factory OpenBMC password
	DefaultPassword = "0penBmc"

	loginPath  = "/login"
	logoutPath = "/logout"
)

// Response is the JSON envelope every phosphor REST reply carries.
type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`

	// StatusCode is the HTTP status of the reply
	StatusCode int `json:"-"`
	// Raw is the undecoded body
	Raw []byte `json:"-"`
}

// DecodeData unmarshals the "data" member into out.
func (r *Response) DecodeData(out any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

// envelope is the request body shape for every write.
type envelope struct {
	Data any `json:"data"`
}

// Client owns the authenticated session with the BMC. Every request goes
// through Do, which logs in lazily and re-authenticates once when the BMC
// reports the session has expired.
type Client struct {
	// Username for /login
	Username string

	// Password for /login
	Password string

	transport     Transport
	logger        *zap.Logger
	mu            sync.Mutex
	authenticated bool
}

// NewClient creates a session client over t. A nil logger selects the
// global logger.
func NewClient(t Transport, username, password string, logger *zap.Logger) *Client {
	return &Client{
		Username:  username,
		Password:  password,
		transport: t,
		logger:    logging.OrDefault(logger),
	}
}

// Authenticated reports whether the client believes it holds a session.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

// Login establishes a session. Calling it while authenticated
// re-establishes the session.
func (c *Client) Login(ctx context.Context) error {
	call := Call{
		Method: http.MethodPost,
		Path:   loginPath,
		Body:   envelope{Data: []string{c.Username, c.Password}},
	}
	if _, err := c.roundTrip(ctx, call); err != nil {
		c.setAuthenticated(false)
		return err
	}
	c.setAuthenticated(true)
	c.logger.Debug("Logged in to BMC", zap.String("user", c.Username))
	return nil
}

// Logout invalidates the session. The client is marked logged out even
// when the BMC rejects the request.
func (c *Client) Logout(ctx context.Context) error {
	call := Call{
		Method: http.MethodPost,
		Path:   logoutPath,
		Body:   envelope{Data: []any{}},
	}
	_, err := c.roundTrip(ctx, call)
	c.setAuthenticated(false)
	return err
}

// Do performs one authenticated call.
//
// If the BMC answers "Login required", the client logs in again and retries
// the call exactly once. The second answer is returned as is.
func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	if !c.Authenticated() {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.roundTrip(ctx, call)
	if err == nil || !IsLoginRequired(err) {
		return resp, err
	}

	c.logger.Info("BMC session expired, logging in again", zap.String("call", call.String()))
	c.setAuthenticated(false)
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, call)
}

// roundTrip sends one call and classifies the reply.
func (c *Client) roundTrip(ctx context.Context, call Call) (*Response, error) {
	start := time.Now()
	status, body, err := c.transport.Do(ctx, call)
	if err != nil {
		c.logger.Debug("REST request failed",
			zap.String("call", call.String()),
			zap.Error(err),
		)
		return nil, ClassifyNetworkError(err, "")
	}
	logging.LogRequest(c.logger, call.Method, call.Path, status, time.Since(start))

	ok := status >= 200 && status < 300
	resp := &Response{StatusCode: status, Raw: body}

	if ok && call.ExpectBinary {
		return resp, nil
	}

	if decodeErr := json.Unmarshal(body, resp); decodeErr != nil {
		if !ok {
			return nil, &HTTPError{Call: call.String(), StatusCode: status, Body: body}
		}
		return nil, &ParseError{Call: call.String(), Output: body, Err: decodeErr}
	}

	if resp.Status == "error" {
		return nil, &ApplicationError{
			Call:        call.String(),
			StatusCode:  status,
			Message:     resp.Message,
			Description: errorDescription(resp.Data),
			Output:      body,
		}
	}
	if !ok {
		return nil, &HTTPError{Call: call.String(), StatusCode: status, Body: body}
	}
	return resp, nil
}

// errorDescription extracts data.description from an error payload.
func errorDescription(data json.RawMessage) string {
	var detail struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		return ""
	}
	return detail.Description
}

// Get reads path and decodes its "data" member into out, which may be nil.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	resp, err := c.Do(ctx, Call{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.DecodeData(out); err != nil {
		return &ParseError{Call: http.MethodGet + " " + path, Output: resp.Raw, Err: err}
	}
	return nil
}

// Put writes value to a D-Bus attribute path, e.g. ".../attr/RequestedHostTransition".
func (c *Client) Put(ctx context.Context, path string, value any) error {
	_, err := c.Do(ctx, Call{Method: http.MethodPut, Path: path, Body: envelope{Data: value}})
	return err
}

// Post invokes an action path with the given arguments.
func (c *Client) Post(ctx context.Context, path string, args ...any) (*Response, error) {
	if args == nil {
		args = []any{}
	}
	return c.Do(ctx, Call{Method: http.MethodPost, Path: path, Body: envelope{Data: args}})
}

// Upload sends payload as an octet-stream POST.
func (c *Client) Upload(ctx context.Context, path string, payload []byte) (*Response, error) {
	if payload == nil {
		payload = []byte{}
	}
	return c.Do(ctx, Call{Method: http.MethodPost, Path: path, Payload: payload})
}

// Raw fetches path without decoding the reply.
func (c *Client) Raw(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.Do(ctx, Call{Method: http.MethodGet, Path: path, ExpectBinary: true})
	if err != nil {
		return nil, err
	}
	return resp.Raw, nil
}

// Enumerate reads an ".../enumerate" path and returns its objects keyed
// by D-Bus path.
func (c *Client) Enumerate(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	objects := make(map[string]json.RawMessage)
	if err := c.Get(ctx, path, &objects); err != nil {
		return nil, err
	}
	return objects, nil
}
