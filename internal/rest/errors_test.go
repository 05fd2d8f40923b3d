package rest

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyNetworkError(t *testing.T) {
	wrap := func(err error) error {
		return &url.Error{Op: "Post", URL: "https://10.0.0.5/login", Err: err}
	}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"timeout", wrap(&net.OpError{Op: "dial", Net: "tcp", Err: timeoutError{}}), KindTimeout},
		{"refused", wrap(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}), KindConnectionRefused},
		{"host unreachable", wrap(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH}), KindHostUnreachable},
		{"network unreachable", wrap(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ENETUNREACH}), KindNetworkUnreachable},
		{"dns", wrap(&net.DNSError{Name: "bmc.invalid", Err: "no such host"}), KindDNS},
		{"generic", errors.New("boom"), KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetworkError(tt.err, "10.0.0.5")
			if got == nil {
				t.Fatal("ClassifyNetworkError() = nil")
			}
			if got.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.want)
			}
			if got.Host != "10.0.0.5" {
				t.Errorf("Host = %q", got.Host)
			}
		})
	}
}

func TestClassifyNetworkErrorNil(t *testing.T) {
	if got := ClassifyNetworkError(nil, "x"); got != nil {
		t.Errorf("ClassifyNetworkError(nil) = %v, want nil", got)
	}
}

func TestClassifyNetworkErrorKeepsClassified(t *testing.T) {
	orig := &TransportError{Kind: KindDNS, Message: "m", Host: "bmc"}
	wrapped := fmt.Errorf("login: %w", orig)

	if got := ClassifyNetworkError(wrapped, ""); got != orig {
		t.Errorf("ClassifyNetworkError() = %v, want original", got)
	}
}

func TestPredicates(t *testing.T) {
	loginReq := &ApplicationError{Call: "GET /x", StatusCode: 401, Message: "401 Unauthorized", Description: LoginRequiredDescription}
	notFound := &ApplicationError{Call: "GET /x", StatusCode: 404, Message: "404 Not Found"}
	plain401 := &HTTPError{Call: "GET /x", StatusCode: 401}
	transport := &TransportError{Kind: KindTimeout}

	if !IsLoginRequired(fmt.Errorf("wrapped: %w", loginReq)) {
		t.Error("IsLoginRequired(wrapped login required) = false")
	}
	if !IsLoginRequired(plain401) {
		t.Error("IsLoginRequired(HTTP 401) = false")
	}
	if IsLoginRequired(notFound) {
		t.Error("IsLoginRequired(404) = true")
	}
	if !IsNotFound(notFound) || IsNotFound(transport) {
		t.Error("IsNotFound misclassified")
	}
	if !IsTransport(transport) || IsApplication(transport) {
		t.Error("transport misclassified")
	}
}

func TestTroubleshootingHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&TransportError{Kind: KindConnectionRefused}, "refused"},
		{&TransportError{Kind: KindHostUnreachable, Host: "10.0.0.5"}, "ping 10.0.0.5"},
		{&ApplicationError{StatusCode: 401, Description: LoginRequiredDescription}, "Authentication failed"},
		{&ApplicationError{StatusCode: 404}, "Older firmware"},
		{&HTTPError{StatusCode: 503}, "HTTP 503"},
	}
	for _, tt := range tests {
		if got := TroubleshootingHint(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("TroubleshootingHint(%v) = %q, want substring %q", tt.err, got, tt.want)
		}
	}
}
