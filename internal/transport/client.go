// Package transport sends adapter-built wire requests and classifies
// failures into the domain error taxonomy.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/observability"
)

const (
	// DefaultTimeout bounds a whole exchange, stream included.
	DefaultTimeout = 10 * time.Minute

	maxErrorBody = 64 << 10
)

// ErrorParser extracts a provider error message from a non-2xx body.
type ErrorParser func(body []byte) string

// Client wraps the HTTP client used for provider calls. It never retries.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client. A nil httpClient gets DefaultTimeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{httpClient: httpClient}
}

// NewClientWithTimeout creates a client with the given overall timeout.
func NewClientWithTimeout(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClient(&http.Client{Timeout: timeout})
}

// Do sends req. On success the caller owns the response body. Non-2xx
// responses become *domain.TransportError carrying the provider's error
// text when parseError recognizes it; cancellation of ctx becomes
// *domain.AbortError.
func (c *Client) Do(ctx context.Context, service string, req *domain.WireRequest, parseError ErrorParser) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &domain.ConfigurationError{Service: service, Message: fmt.Sprintf("invalid request: %v", err)}
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("sending provider request",
		observability.String("method", method),
		observability.String("url", redactURL(req.URL)),
		observability.Int("body_bytes", len(req.Body)))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(ctx, service, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		message := ""
		if parseError != nil {
			message = parseError(raw)
		}
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}

		logger.Warn("provider returned error status",
			observability.Int("status", resp.StatusCode),
			observability.String("message", message),
			observability.Duration("elapsed", time.Since(start)))

		return nil, &domain.TransportError{
			Service:    service,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}

	logger.Debug("provider responded",
		observability.Int("status", resp.StatusCode),
		observability.Duration("elapsed", time.Since(start)))

	return resp, nil
}

// ReadAll reads a full response body and closes it, classifying read
// failures the same way Do does.
func ReadAll(ctx context.Context, service string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(ctx, service, err)
	}
	return data, nil
}

// Classify maps a network or read error to AbortError when ctx was
// canceled by the caller, and to TransportError otherwise (deadlines
// included).
func Classify(ctx context.Context, service string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsAbort(err) || domain.IsTransport(err) || domain.IsDecode(err) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return &domain.AbortError{Service: service, Cause: err}
	}

	message := "request failed"
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		message = "request timed out"
	}
	return &domain.TransportError{Service: service, Message: message, Cause: err}
}

func redactURL(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx]
	}
	return raw
}
