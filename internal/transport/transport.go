// Package transport provides the pooled, TLS-validating HTTP executor every
// outbound vault request goes through.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keyfold/keyfold/internal/metrics"
	"github.com/keyfold/keyfold/pkg/apierror"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultTotalTimeout   = 60 * time.Second

	maxIdleConns        = 20
	maxIdleConnsPerHost = 10
)

// Request is one wire-level request. URL is absolute; Bearer, when set, is
// attached as an Authorization header. ContentType defaults to
// application/json when a body is present.
type Request struct {
	Method      string
	URL         string
	Path        string
	Body        []byte
	Bearer      string
	ContentType string
}

// Response is the raw outcome of an executed request. Body is fully read and
// the connection returned to the pool before Execute returns.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Executor abstracts request execution so tests can substitute a double for
// the real HTTP stack.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Options configures the HTTP transport. Zero values fall back to defaults.
type Options struct {
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	// UserAgent is the fixed product identifier sent with every request.
	UserAgent string
}

// Transport is the production Executor: a pooled http.Client with TLS
// verification always on and standard proxy environment support. Safe for
// concurrent use.
type Transport struct {
	logger    *zap.Logger
	client    *http.Client
	userAgent string
}

// New builds a Transport. TLS certificate validation cannot be disabled
// through this component.
func New(logger *zap.Logger, opts Options) *Transport {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	total := opts.TotalTimeout
	if total <= 0 {
		total = defaultTotalTimeout
	}

	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	rt := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: connect,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Transport{
		logger:    logger,
		client:    &http.Client{Transport: rt, Timeout: total},
		userAgent: opts.UserAgent,
	}
}

// Execute sends req and reads the full response body. Transport-level
// failures come back classified (timeout, TLS, network); any HTTP status is
// a successful execution from the transport's point of view.
func (t *Transport) Execute(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindConfiguration, req.Method, req.Path, err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-Id", requestID)
	httpReq.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if len(req.Body) > 0 {
		ct := req.ContentType
		if ct == "" {
			ct = "application/json"
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Warn("transport.request_failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, apierror.FromTransport(req.Method, req.Path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.FromTransport(req.Method, req.Path, err)
	}

	metrics.IncRequest(req.Method, resp.StatusCode, start)
	t.logger.Debug("transport.request_done",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
	}, nil
}
