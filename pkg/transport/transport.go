// Package transport performs single request/reply exchanges with the
// conversational backend. It never retries; callers decide what to do next.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"loncachat/pkg/config"
	"loncachat/pkg/protocol"

	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	errorBodyLimit  = 4 << 10
	replyBodyLimit  = 64 << 20
)

// Exchanger sends one envelope and returns the backend reply.
type Exchanger interface {
	Exchange(ctx context.Context, envelope protocol.Envelope) (protocol.Reply, error)
}

// HTTPClient posts envelopes as JSON to the backend message endpoint.
type HTTPClient struct {
	endpoint       string
	client         *http.Client
	requestTimeout time.Duration
}

// New builds an HTTP exchanger from backend config.
func New(cfg config.BackendConfig) (*HTTPClient, error) {
	endpoint := cfg.MessageURL()
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must use http or https", endpoint)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", endpoint)
	}

	return &HTTPClient{
		endpoint:       endpoint,
		client:         sharedHTTPClient(),
		requestTimeout: cfg.RequestTimeout(),
	}, nil
}

// Endpoint returns the URL every exchange is posted to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

func (c *HTTPClient) Exchange(ctx context.Context, envelope protocol.Envelope) (protocol.Reply, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	requestID := uuid.NewString()
	log := transportLogger().With("operation", "exchange", "request_id", requestID)
	startedAt := time.Now()

	body, err := json.Marshal(envelope)
	if err != nil {
		return protocol.Reply{}, &Error{Op: "encode envelope", Err: err}
	}

	log.Debug("backend request started",
		"poll", envelope.IsPoll(),
		"region", envelope.Region,
		"session_id", envelope.Session(),
		"message_length", len(envelope.Message),
		"has_image", envelope.Image != nil,
		"has_audio", envelope.AudioData != nil,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return protocol.Reply{}, &Error{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Debug("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return protocol.Reply{}, &Error{Op: "send request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		log.Debug("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", resp.StatusCode)
		return protocol.Reply{}, &Error{
			Op:         "exchange",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(preview)),
		}
	}

	var reply protocol.Reply
	if err := json.NewDecoder(io.LimitReader(resp.Body, replyBodyLimit)).Decode(&reply); err != nil {
		log.Debug("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return protocol.Reply{}, &Error{Op: "decode reply", StatusCode: resp.StatusCode, Err: err}
	}

	log.Debug("backend request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"status", resp.StatusCode,
		"pending", reply.Pending,
		"messages", len(reply.Messages),
		"session_id", reply.SessionID,
	)

	return reply, nil
}

func transportLogger() *slog.Logger {
	return slog.Default().With("component", "transport.http")
}

func (c *HTTPClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

// sharedHTTPClient returns a pooled client. Deadlines come from the request
// context, so the client itself sets none.
func sharedHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}
}

// Error is a failed exchange: the backend was unreachable, answered with a
// non-success status, or returned a body that is not a reply.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("transport: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 && e.Err == nil {
		fmt.Fprintf(&b, ": backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
		if e.Body != "" {
			b.WriteString(": ")
			b.WriteString(e.Body)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// IsTransportError reports whether err came from a failed exchange.
func IsTransportError(err error) bool {
	var transportErr *Error
	return errors.As(err, &transportErr)
}
