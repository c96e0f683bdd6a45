// Package backend provides the HTTP adapter that forwards tool invocations
// to backend MCP services.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolgate/toolgate/internal/domain/gateway"
	"github.com/toolgate/toolgate/internal/observability"
	"github.com/toolgate/toolgate/internal/port/outbound"
	"github.com/toolgate/toolgate/pkg/mcp"
)

const (
	// DefaultTimeout bounds one forwarded call end to end.
	DefaultTimeout = 30 * time.Second

	// maxResponseBodySize is the maximum response body size from a backend.
	// Prevents OOM from a misbehaving backend sending unbounded responses.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// detailLimit caps how much backend response text travels back to
	// callers inside error messages.
	detailLimit = 200
)

// HTTPCaller implements outbound.BackendCaller over plain HTTP POST.
// One instance is shared by all forwards so connections pool across calls.
type HTTPCaller struct {
	sharedSecret string
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// Option is a functional option for configuring HTTPCaller.
type Option func(*HTTPCaller)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPCaller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPCaller) {
		c.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPCaller) {
		c.logger = logger
	}
}

// NewHTTPCaller creates a caller that authenticates to backends with the
// given shared secret. An empty secret is tolerated at construction so the
// server can boot for surface that never forwards, but every CallTool with
// an empty secret fails closed.
func NewHTTPCaller(sharedSecret string, opts ...Option) *HTTPCaller {
	c := &HTTPCaller{
		sharedSecret: sharedSecret,
		timeout:      DefaultTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CallTool forwards one tools/call to the backend and returns its JSON-RPC
// envelope. An error member inside the envelope is returned as data; only
// transport-level failures become Go errors.
func (c *HTTPCaller) CallTool(ctx context.Context, call outbound.ToolCall) (_ *mcp.Response, err error) {
	if c.sharedSecret == "" {
		return nil, &gateway.BackendError{
			BackendURL: call.BackendURL,
			StatusCode: http.StatusInternalServerError,
			Detail:     "Gateway shared secret not configured",
		}
	}

	requestID := call.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, span := observability.Tracer().Start(ctx, "backend.call_tool",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tool.name", call.ToolName),
			attribute.String("backend.url", call.BackendURL),
			attribute.String("request.id", requestID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "forward failed")
		}
		span.End()
	}()

	payload, err := json.Marshal(mcp.NewCallRequest(call.ToolName, call.Arguments, requestID))
	if err != nil {
		return nil, fmt.Errorf("marshal call request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.BackendURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &gateway.BackendUnavailableError{
			BackendURL: call.BackendURL,
			Reason:     fmt.Sprintf("Request failed: %v", err),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Gateway-Auth", c.sharedSecret)
	if call.UserID != "" {
		req.Header.Set("X-User-ID", call.UserID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	c.logger.Debug("forwarding tool call",
		"tool_name", call.ToolName,
		"backend_url", call.BackendURL,
		"request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(call.BackendURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, c.classifyTransportError(call.BackendURL, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &gateway.BackendError{
			BackendURL: call.BackendURL,
			StatusCode: resp.StatusCode,
			Detail:     truncate(string(respBody), detailLimit),
		}
	}

	var envelope mcp.Response
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &gateway.BackendError{
			BackendURL: call.BackendURL,
			StatusCode: resp.StatusCode,
			Detail:     "invalid JSON-RPC response from backend",
		}
	}

	return &envelope, nil
}

// classifyTransportError maps a transport failure onto the gateway's typed
// errors: deadline expiry becomes BackendTimeoutError, a failed dial becomes
// BackendUnavailableError with the dial failure as reason, and everything
// else becomes BackendUnavailableError with a generic prefix.
func (c *HTTPCaller) classifyTransportError(backendURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &gateway.BackendTimeoutError{
			BackendURL:     backendURL,
			TimeoutSeconds: c.timeout.Seconds(),
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &gateway.BackendTimeoutError{
			BackendURL:     backendURL,
			TimeoutSeconds: c.timeout.Seconds(),
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &gateway.BackendUnavailableError{
			BackendURL: backendURL,
			Reason:     opErr.Error(),
		}
	}
	return &gateway.BackendUnavailableError{
		BackendURL: backendURL,
		Reason:     fmt.Sprintf("Request failed: %v", err),
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Compile-time interface verification.
var _ outbound.BackendCaller = (*HTTPCaller)(nil)
