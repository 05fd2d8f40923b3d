package rest

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	// KindNetwork is a generic network failure
	KindNetwork ErrorKind = iota
	// KindTimeout means the BMC did not answer in time
	KindTimeout
	// KindConnectionRefused means nothing listens on the API port
	KindConnectionRefused
	// KindDNS means the BMC hostname did not resolve
	KindDNS
	// KindHostUnreachable means no route to the BMC
	KindHostUnreachable
	// KindNetworkUnreachable means the local network is down
	KindNetworkUnreachable
)

// String returns a human-readable name for the kind
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "Network Error"
	case KindTimeout:
		return "Timeout"
	case KindConnectionRefused:
		return "Connection Refused"
	case KindDNS:
		return "DNS Error"
	case KindHostUnreachable:
		return "Host Unreachable"
	case KindNetworkUnreachable:
		return "Network Unreachable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// TransportError means the request could not be made at all.
type TransportError struct {
	Kind    ErrorKind // Classified failure
	Message string    // Human-readable message
	Host    string    // BMC address, for hints
	Err     error     // Underlying error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response whose body carries no error payload.
type HTTPError struct {
	Call       string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.Call, e.StatusCode, http.StatusText(e.StatusCode))
}

// ApplicationError is a response whose payload has "status": "error".
// It keeps the offending call and the raw output.
type ApplicationError struct {
	Call        string
	StatusCode  int
	Message     string // payload "message", e.g. "404 Not Found"
	Description string // payload "data.description", e.g. "Login required"
	Output      []byte
}

func (e *ApplicationError) Error() string {
	msg := e.Message
	if e.Description != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Description)
	}
	return fmt.Sprintf("%s failed: %s", e.Call, msg)
}

// ParseError is a 2xx response that is not valid JSON.
type ParseError struct {
	Call   string
	Output []byte
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: failed to parse response: %v", e.Call, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// LoginRequiredDescription is the payload description the BMC returns when
// the session cookie is missing or expired.
const LoginRequiredDescription = "Login required"

// ClassifyNetworkError wraps err in a *TransportError with a specific kind.
func ClassifyNetworkError(err error, host string) *TransportError {
	if err == nil {
		return nil
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	if os.IsTimeout(err) {
		return &TransportError{Kind: KindTimeout, Message: "Request timed out", Host: host, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransportError{
			Kind:    KindDNS,
			Message: fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Host:    host,
			Err:     err,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return &TransportError{Kind: KindConnectionRefused, Message: "BMC refused connection", Host: host, Err: err}
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return &TransportError{Kind: KindHostUnreachable, Message: "Host unreachable", Host: host, Err: err}
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return &TransportError{Kind: KindNetworkUnreachable, Message: "Network unreachable", Host: host, Err: err}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return ClassifyNetworkError(urlErr.Err, host)
	}

	return &TransportError{Kind: KindNetwork, Message: "Network error occurred", Host: host, Err: err}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsHTTP reports whether err is an HTTP-level failure.
func IsHTTP(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// IsApplication reports whether err is an application error payload.
func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// IsNotFound reports whether the BMC answered 404, with or without payload.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsLoginRequired reports whether err means the session must be
// re-established.
func IsLoginRequired(err error) bool {
	var ae *ApplicationError
	if errors.As(err, &ae) && ae.Description == LoginRequiredDescription {
		return true
	}
	return statusOf(err) == http.StatusUnauthorized
}

func statusOf(err error) int {
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// TroubleshootingHint returns user-facing advice for an error returned by
// this package.
func TroubleshootingHint(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case KindTimeout:
			return strings.Join([]string{
				"The BMC did not respond in time.",
				"Troubleshooting:",
				"  • The BMC may be rebooting, wait a minute and retry",
				"  • Try increasing --timeout",
			}, "\n")
		case KindConnectionRefused:
			return strings.Join([]string{
				"The BMC refused the connection.",
				"Troubleshooting:",
				"  • Check that the REST server (bmcweb or phosphor-rest) is running",
				"  • Verify the API port (default 443)",
			}, "\n")
		case KindDNS:
			return strings.Join([]string{
				"Could not resolve the BMC hostname.",
				"Troubleshooting:",
				"  • Use the IP address instead of the hostname",
				"  • Try: obmctl discover",
			}, "\n")
		case KindHostUnreachable, KindNetworkUnreachable:
			return strings.Join([]string{
				"The BMC is not reachable on the network.",
				"Troubleshooting:",
				"  • Verify the BMC address is correct",
				"  • Try pinging the BMC: ping " + te.Host,
			}, "\n")
		default:
			return "Network communication with the BMC failed. Check your connection."
		}
	}

	if IsLoginRequired(err) {
		return strings.Join([]string{
			"Authentication failed.",
			"Troubleshooting:",
			"  • Check --user and --password (or OBMCTL_PASSWORD)",
			"  • The OpenBMC default credentials are root:0penBmc",
		}, "\n")
	}

	if IsNotFound(err) {
		return "The BMC does not expose this object. Older firmware may not support the operation."
	}

	var ae *ApplicationError
	if errors.As(err, &ae) {
		return fmt.Sprintf("The BMC rejected the request: %s", ae.Message)
	}

	var he *HTTPError
	if errors.As(err, &he) && he.StatusCode >= 500 {
		return fmt.Sprintf("The BMC returned an internal error (HTTP %d). Try again or reset the BMC.", he.StatusCode)
	}

	return "An error occurred. Please check the error message for details."
}
