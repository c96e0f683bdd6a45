package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/gateway"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/internal/observability"
	"github.com/toolgate/toolgate/internal/port/inbound"
	"github.com/toolgate/toolgate/internal/port/outbound"
	"github.com/toolgate/toolgate/pkg/mcp"
)

// DefaultMaxPayloadBytes caps serialized tool arguments at 1 MiB.
const DefaultMaxPayloadBytes = 1 << 20

// errorCodeInternal is stamped on audit rows for faults with no typed error.
const errorCodeInternal = "INTERNAL_ERROR"

// GatewayService executes synchronous tool invocations: payload size check,
// permission check, registry lookup, per-tool role gate, backend forward,
// usage bookkeeping. Every attempt runs inside an audit scope that persists
// exactly one record whatever the outcome.
type GatewayService struct {
	registry        *RegistryService
	caller          outbound.BackendCaller
	audit           *AuditService
	logger          *slog.Logger
	maxPayloadBytes int
}

// GatewayOption configures GatewayService.
type GatewayOption func(*GatewayService)

// WithMaxPayloadBytes overrides the serialized-arguments size limit.
func WithMaxPayloadBytes(n int) GatewayOption {
	return func(s *GatewayService) {
		if n > 0 {
			s.maxPayloadBytes = n
		}
	}
}

// NewGatewayService creates the invocation service.
func NewGatewayService(
	registry *RegistryService,
	caller outbound.BackendCaller,
	audit *AuditService,
	logger *slog.Logger,
	opts ...GatewayOption,
) *GatewayService {
	s := &GatewayService{
		registry:        registry,
		caller:          caller,
		audit:           audit,
		logger:          logger,
		maxPayloadBytes: DefaultMaxPayloadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InvokeTool runs one invocation attempt for the user. The returned
// envelope may itself carry a JSON-RPC error member; that is backend data,
// audited as success. Typed errors come back unwrapped so transports can
// map them onto status codes.
func (s *GatewayService) InvokeTool(ctx context.Context, user *auth.AuthenticatedUser, req gateway.InvokeToolRequest, endpointPath string) (resp *mcp.Response, err error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, span := observability.Tracer().Start(ctx, "gateway.invoke_tool",
		trace.WithAttributes(
			attribute.String("tool.name", req.ToolName),
			attribute.String("user.id", user.UserID()),
			attribute.String("request.id", requestID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invocation failed")
		}
		span.End()
	}()

	scope := s.audit.Begin(requestID, user.UserID(), req.ToolName, endpointPath)
	defer scope.End()

	payload, err := json.Marshal(req.Arguments)
	if err != nil {
		scope.MarkError(errorCodeInternal)
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	if len(payload) > s.maxPayloadBytes {
		sizeErr := &gateway.PayloadTooLargeError{SizeBytes: len(payload), MaxBytes: s.maxPayloadBytes}
		scope.MarkError(sizeErr.Code())
		return nil, sizeErr
	}

	if !user.CanUse(req.ToolName) {
		denied := &auth.ToolNotAllowedError{ToolName: req.ToolName, UserID: user.UserID()}
		scope.MarkError(denied.Code())
		return nil, denied
	}

	row, err := s.registry.GetActiveByName(ctx, req.ToolName)
	if err != nil {
		if errors.Is(err, tool.ErrToolNotFound) {
			missing := &gateway.ToolNotFoundError{ToolName: req.ToolName}
			scope.MarkError(missing.Code())
			return nil, missing
		}
		scope.MarkError(errorCodeInternal)
		return nil, fmt.Errorf("registry lookup: %w", err)
	}

	if len(row.RequiredRoles) > 0 && !user.Claims.HasAnyRole(row.RequiredRoles...) {
		denied := &auth.ToolNotAllowedError{ToolName: req.ToolName, UserID: user.UserID()}
		scope.MarkError(denied.Code())
		return nil, denied
	}

	// Reserved backends never leave the process.
	if row.IsInternal() {
		unavailable := &gateway.BackendUnavailableError{
			BackendURL: row.BackendURL,
			Reason:     "internal backends are not routable",
		}
		scope.MarkError(unavailable.Code())
		return nil, unavailable
	}

	resp, err = s.caller.CallTool(ctx, outbound.ToolCall{
		BackendURL: row.BackendURL,
		ToolName:   req.ToolName,
		Arguments:  req.Arguments,
		RequestID:  requestID,
		UserID:     user.UserID(),
	})
	if err != nil {
		s.markBackendFailure(scope, err)
		return nil, err
	}

	if !resp.IsError() && row.ID != 0 {
		s.registry.IncrementUsage(ctx, row.ID)
	}

	return resp, nil
}

// markBackendFailure stamps the audit scope according to the forward error.
func (s *GatewayService) markBackendFailure(scope *Scope, err error) {
	var (
		timeoutErr     *gateway.BackendTimeoutError
		unavailableErr *gateway.BackendUnavailableError
		backendErr     *gateway.BackendError
	)
	switch {
	case errors.As(err, &timeoutErr):
		scope.MarkTimeout()
	case errors.As(err, &unavailableErr):
		scope.MarkError(unavailableErr.Code())
	case errors.As(err, &backendErr):
		scope.MarkError(backendErr.Code())
	default:
		scope.MarkError(errorCodeInternal)
	}
}

// Compile-time interface verification.
var _ inbound.Invoker = (*GatewayService)(nil)
