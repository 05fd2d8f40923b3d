package rest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/muurk/obmctl/internal/version"
)

const (
	// DefaultPort is the HTTPS port of the BMC REST server
	DefaultPort = 443

	// DefaultTimeout is the per-request timeout. Image uploads can be
	// large, so it is generous.
	DefaultTimeout = 5 * time.Minute

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// Call describes one REST request.
type Call struct {
	Method string
	Path   string

	// Body is marshalled as JSON when set.
	Body any

	// Payload is sent verbatim when set, taking precedence over Body.
	Payload []byte

	// ContentType overrides the default derived from Body or Payload.
	ContentType string

	// ExpectBinary skips envelope decoding of a successful response.
	ExpectBinary bool
}

func (c Call) String() string {
	return c.Method + " " + c.Path
}

// Transport performs a single request and returns the raw HTTP status and
// body. A request that could not be made returns a *TransportError.
type Transport interface {
	Do(ctx context.Context, call Call) (status int, body []byte, err error)
}

// HTTPTransport is a Transport over HTTPS with a cookie jar that holds
// the session between calls.
type HTTPTransport struct {
	// BaseURL is the BMC root, e.g. "https://10.0.0.5"
	BaseURL string

	client *resty.Client
	host   string
}

// NewHTTPTransport creates a transport for the BMC at host:port.
// BMCs ship self-signed certificates, so verification is disabled.
func NewHTTPTransport(host string, port int) *HTTPTransport {
	baseURL := fmt.Sprintf("https://%s", host)
	if port != 0 && port != DefaultPort {
		baseURL = fmt.Sprintf("https://%s:%d", host, port)
	}
	t := NewHTTPTransportWithURL(baseURL)
	t.host = host
	return t
}

// NewHTTPTransportWithURL creates a transport with a full base URL.
func NewHTTPTransportWithURL(baseURL string) *HTTPTransport {
	// resty.New installs a cookie jar
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}). //nolint:gosec // self-signed BMC certificates
		SetHeader("User-Agent", version.UserAgent()).
		SetHeader("Accept", contentTypeJSON)

	return &HTTPTransport{
		BaseURL: baseURL,
		client:  client,
		host:    baseURL,
	}
}

// SetTimeout sets the per-request timeout
func (t *HTTPTransport) SetTimeout(timeout time.Duration) {
	t.client.SetTimeout(timeout)
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, call Call) (int, []byte, error) {
	req := t.client.R().SetContext(ctx)

	switch {
	case call.Payload != nil:
		req.SetBody(call.Payload).SetHeader("Content-Type", contentTypeOr(call.ContentType, contentTypeBinary))
	case call.Body != nil:
		req.SetBody(call.Body).SetHeader("Content-Type", contentTypeOr(call.ContentType, contentTypeJSON))
	}

	var (
		resp *resty.Response
		err  error
	)
	switch call.Method {
	case http.MethodGet:
		resp, err = req.Get(call.Path)
	case http.MethodPost:
		resp, err = req.Post(call.Path)
	case http.MethodPut:
		resp, err = req.Put(call.Path)
	case http.MethodDelete:
		resp, err = req.Delete(call.Path)
	default:
		return 0, nil, fmt.Errorf("unsupported HTTP method: %s", call.Method)
	}
	if err != nil {
		return 0, nil, ClassifyNetworkError(err, t.host)
	}
	return resp.StatusCode(), resp.Body(), nil
}

func contentTypeOr(ct, fallback string) string {
	if ct != "" {
		return ct
	}
	return fallback
}
