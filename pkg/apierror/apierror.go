// Package apierror defines the closed error taxonomy produced by the vault
// client. Every failure surfaced to callers is an *Error with a machine-
// checkable Kind; messages never contain token or Authorization values.
package apierror

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
)

// Kind discriminates the failure classes callers can act on.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindTLS
	KindAuthentication
	KindNotFound
	KindRateLimit
	KindClient
	KindServer
	KindSerialization
	KindConfiguration
)

// String returns the machine-checkable discriminator for the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindTLS:
		return "tls"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindSerialization:
		return "serialization"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// hint returns a short troubleshooting hint for the kind.
func (k Kind) hint() string {
	switch k {
	case KindNetwork:
		return "check connectivity and proxy settings"
	case KindTimeout:
		return "the server took too long to respond; try again"
	case KindTLS:
		return "the server certificate could not be verified"
	case KindAuthentication:
		return "please re-authenticate"
	case KindNotFound:
		return "the requested resource does not exist"
	case KindRateLimit:
		return "too many requests; slow down"
	case KindServer:
		return "the server reported an internal error; try again later"
	case KindSerialization:
		return "the server returned an unexpected response body"
	case KindConfiguration:
		return "check the configured server URL"
	default:
		return ""
	}
}

// Error is the single error type crossing the client's public surface.
// Method, Path and Status give enough context for a human-readable message;
// secret values are never stored here.
type Error struct {
	Kind   Kind
	Method string
	Path   string
	Status int
	// RetryAfter is the server-suggested wait in seconds. Only meaningful
	// for KindRateLimit; zero when the server sent no Retry-After header.
	RetryAfter int
	Hint       string
	cause      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Method != "" && e.Path != "" {
		msg = fmt.Sprintf("%s: %s %s", msg, e.Method, e.Path)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Kind == KindRateLimit && e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s: retry after %ds", msg, e.RetryAfter)
	}
	if e.Hint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Hint)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so callers can match with errors.Is against a
// bare &Error{Kind: …} sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind with the default hint for that kind.
func New(kind Kind, method, path string) *Error {
	return &Error{Kind: kind, Method: method, Path: path, Hint: kind.hint()}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, method, path string, cause error) *Error {
	e := New(kind, method, path)
	e.cause = cause
	return e
}

// Configuration builds a KindConfiguration error with an explicit hint.
func Configuration(hint string) *Error {
	return &Error{Kind: KindConfiguration, Hint: hint}
}

// Authentication builds a KindAuthentication error with an explicit hint.
func Authentication(method, path, hint string) *Error {
	return &Error{Kind: KindAuthentication, Method: method, Path: path, Hint: hint}
}

// FromStatus classifies a non-2xx HTTP response. retryAfter is the raw
// Retry-After header value, empty when absent.
func FromStatus(method, path string, status int, retryAfter string) *Error {
	var kind Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuthentication
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status >= 500:
		kind = KindServer
	case status >= 400:
		kind = KindClient
	default:
		kind = KindClient
	}
	e := New(kind, method, path)
	e.Status = status
	if kind == KindRateLimit {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			e.RetryAfter = secs
		}
	}
	return e
}

// FromTransport classifies an error returned by the HTTP layer into
// timeout, TLS or network failures.
func FromTransport(method, path string, err error) *Error {
	kind := KindNetwork

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded), os.IsTimeout(err):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr):
		kind = KindTLS
	}

	return Wrap(kind, method, path, err)
}

// FromDecode classifies a response-body decoding failure.
func FromDecode(method, path string, cause error) *Error {
	return Wrap(KindSerialization, method, path, cause)
}
