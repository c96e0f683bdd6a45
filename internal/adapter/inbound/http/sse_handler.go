package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/gateway"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/pkg/mcp"
)

// handleSSEStream serves GET /{scope}/sse. It emits one endpoint discovery
// frame naming the POST target for this scope, then comment pings until the
// client disconnects. An unknown scope is a plain 404: the stream carries
// no JSON-RPC envelopes.
func (s *Server) handleSSEStream(w http.ResponseWriter, r *http.Request) {
	scope, ok := tool.ParseScope(r.PathValue("scope"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming is not supported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", s.endpointURL(r, scope))
	flusher.Flush()

	if s.metrics != nil {
		s.metrics.ActiveSSEStreams.Inc()
		defer s.metrics.ActiveSSEStreams.Dec()
	}

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streamCtx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// endpointURL is the absolute POST target advertised on the stream. The
// configured base URL wins; otherwise it is derived from the request.
func (s *Server) endpointURL(r *http.Request, scope tool.Scope) string {
	base := s.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return fmt.Sprintf("%s/%s/sse", base, scope)
}

// handleSSEMessage serves POST /{scope}/sse, the JSON-RPC message channel.
// Parse and scope failures answer with envelope errors; only rate-limit
// denials leave the JSON-RPC layer entirely.
func (s *Server) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRPC(w, http.StatusRequestEntityTooLarge, mcp.NewErrorResponse(nil, mcp.CodePayloadTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(nil, mcp.CodeParseError, "Parse error: unreadable request body"))
		return
	}

	scopeLabel := r.PathValue("scope")
	scope, ok := tool.ParseScope(scopeLabel)
	if !ok {
		writeRPC(w, http.StatusNotFound, mcp.NewErrorResponse(bodyID(body), mcp.CodeInvalidScope,
			fmt.Sprintf("Invalid endpoint scope '%s'.", scopeLabel)))
		return
	}

	req, errResp := mcp.ParseRequest(body)
	if errResp != nil {
		writeRPC(w, http.StatusOK, errResp)
		return
	}

	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
		return
	}

	switch req.Method {
	case mcp.MethodInitialize:
		s.writeRPCResult(w, http.StatusOK, req.ID, mcp.NewInitializeResult(s.appName, s.appVersion))

	case mcp.MethodNotificationInitialized:
		w.WriteHeader(http.StatusAccepted)

	case mcp.MethodToolsList:
		s.listScopedTools(w, r, user, scope, req)

	case mcp.MethodToolsCall:
		s.callScopedTool(w, r, user, scope, req)

	default:
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(req.ID, mcp.CodeMethodNotFound,
			"Method not found: "+req.Method))
	}
}

// listScopedTools answers tools/list with the scope's active tools narrowed
// to what this user may invoke. Meta-tools never appear in scoped listings.
func (s *Server) listScopedTools(w http.ResponseWriter, r *http.Request, user *auth.AuthenticatedUser, scope tool.Scope, req *mcp.Request) {
	tools, err := s.registry.ToolsByScope(r.Context(), scope)
	if err != nil {
		LoggerFromContext(r.Context()).Error("scoped tool listing failed", "scope", scope, "error", err)
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(req.ID, mcp.CodeInternalError, "Internal error: "+err.Error()))
		return
	}

	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if tool.IsMetaTool(t.Name) {
			continue
		}
		if !user.CanUse(t.Name) {
			continue
		}
		if len(t.RequiredRoles) > 0 && !user.Claims.HasAnyRole(t.RequiredRoles...) {
			continue
		}
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = tool.DefaultInputSchema()
		}
		out = append(out, mcp.Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	s.writeRPCResult(w, http.StatusOK, req.ID, mcp.ListToolsResult{Tools: out})
}

// callScopedTool answers tools/call. Order matters: the meta-tool tombstone
// and the rate limiter run before any registry state is consulted, and the
// cross-scope check runs before the invocation pipeline so a tool served on
// another endpoint is refused here without burning an audit success row.
func (s *Server) callScopedTool(w http.ResponseWriter, r *http.Request, user *auth.AuthenticatedUser, scope tool.Scope, req *mcp.Request) {
	var params mcp.CallParams
	if err := req.UnmarshalParams(&params); err != nil {
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, "Invalid params: "+err.Error()))
		return
	}
	if params.Name == "" {
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, "Invalid params: missing tool name"))
		return
	}

	if tool.IsMetaTool(params.Name) {
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(req.ID, mcp.CodeMetaToolRemoved,
			fmt.Sprintf("Meta-tool '%s' was removed in v2. Use scoped tools/list and tools/call directly.", params.Name)))
		return
	}

	if err := s.checkRateLimit(r.Context(), user.UserID(), params.Name); err != nil {
		writeError(w, err)
		return
	}

	// A tool registered on a different scope is denied and audited without
	// entering the invocation pipeline. An unknown name falls through so
	// the pipeline records the not-found denial itself.
	if t, lookupErr := s.registry.GetActiveByName(r.Context(), params.Name); lookupErr == nil && t.Scope != scope {
		s.audit.LogDenied(user.UserID(), params.Name, r.URL.Path, "TOOL_NOT_IN_SCOPE")
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(req.ID, mcp.CodeToolNotInScope, scopeDenialMessage(params.Name, scope)))
		return
	}

	resp, err := s.invoker.InvokeTool(r.Context(), user, gateway.InvokeToolRequest{
		ToolName:  params.Name,
		Arguments: params.Arguments,
	}, r.URL.Path)
	if err != nil {
		s.recordInvocation(params.Name, false)
		s.writeCallError(w, r, req.ID, params.Name, scope, err)
		return
	}

	s.recordInvocation(params.Name, !resp.IsError())
	s.writeRPCResult(w, http.StatusOK, req.ID, callResultFromEnvelope(resp))
}

// writeCallError maps invocation pipeline failures onto the JSON-RPC error
// codes and HTTP statuses of the scoped endpoints. Permission denials are
// presented as scope denials so probing cannot distinguish "exists but
// forbidden" from "not served here".
func (s *Server) writeCallError(w http.ResponseWriter, r *http.Request, id json.RawMessage, name string, scope tool.Scope, err error) {
	var (
		notAllowed  *auth.ToolNotAllowedError
		notFound    *gateway.ToolNotFoundError
		timeout     *gateway.BackendTimeoutError
		unavailable *gateway.BackendUnavailableError
		tooLarge    *gateway.PayloadTooLargeError
		rateLimited *ratelimit.RateLimitExceededError
	)
	switch {
	case errors.As(err, &notAllowed):
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(id, mcp.CodeToolNotInScope, scopeDenialMessage(name, scope)))
	case errors.As(err, &notFound):
		writeRPC(w, http.StatusNotFound, mcp.NewErrorResponse(id, mcp.CodeToolNotFound, err.Error()))
	case errors.As(err, &timeout):
		writeRPC(w, http.StatusGatewayTimeout, mcp.NewErrorResponse(id, mcp.CodeBackendTimeout, err.Error()))
	case errors.As(err, &unavailable):
		writeRPC(w, http.StatusBadGateway, mcp.NewErrorResponse(id, mcp.CodeBackendUnavailable, err.Error()))
	case errors.As(err, &tooLarge):
		writeRPC(w, http.StatusRequestEntityTooLarge, mcp.NewErrorResponse(id, mcp.CodePayloadTooLarge, err.Error()))
	case errors.As(err, &rateLimited):
		writeError(w, err)
	default:
		LoggerFromContext(r.Context()).Error("tools/call failed", "tool_name", name, "error", err)
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(id, mcp.CodeInternalError, "Internal error: "+err.Error()))
	}
}

func scopeDenialMessage(name string, scope tool.Scope) string {
	return fmt.Sprintf("Tool '%s' is not available on endpoint '/%s/sse'.", name, scope)
}

// callResultFromEnvelope converts the backend's envelope into MCP call
// content. An error member inside the envelope is backend data: it becomes
// an isError text result, not a transport failure.
func callResultFromEnvelope(resp *mcp.Response) mcp.CallToolResult {
	if resp.IsError() {
		return mcp.NewErrorTextResult("Error: " + resp.Error.Message)
	}

	var result any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return mcp.NewErrorTextResult("Error: malformed backend result: " + err.Error())
		}
	}
	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewErrorTextResult("Error: " + err.Error())
	}
	return mcp.NewTextResult(string(text))
}

// checkRateLimit probes the user bucket, then the per-tool bucket. The user
// bucket goes first so a globally throttled user cannot drain tool tokens.
func (s *Server) checkRateLimit(ctx context.Context, userID, toolName string) error {
	res, err := s.limiter.Allow(ctx, ratelimit.UserKey(userID), s.userLimit)
	if err != nil {
		return err
	}
	if !res.Allowed {
		s.recordRateLimitDenial("user")
		return &ratelimit.RateLimitExceededError{Limit: res.Limit, RetryAfter: res.RetryAfter}
	}

	res, err = s.limiter.Allow(ctx, ratelimit.ToolKey(userID, toolName), s.toolLimit)
	if err != nil {
		return err
	}
	if !res.Allowed {
		s.recordRateLimitDenial("tool")
		return &ratelimit.RateLimitExceededError{Limit: res.Limit, RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *Server) recordInvocation(toolName string, success bool) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	s.metrics.InvocationsTotal.WithLabelValues(toolName, status).Inc()
}

func (s *Server) recordRateLimitDenial(keyClass string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RateLimitDenials.WithLabelValues(keyClass).Inc()
}

// bodyID extracts the JSON-RPC id from a request body that may not parse
// as a full request, so pre-dispatch failures still echo the caller's id.
func bodyID(body []byte) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	return fields["id"]
}

// writeRPC sends a JSON-RPC envelope with the given HTTP status.
func writeRPC(w http.ResponseWriter, status int, resp *mcp.Response) {
	writeJSON(w, status, resp)
}

// writeRPCResult wraps result in a success envelope carrying the caller's
// id. A result that cannot marshal is reported as an internal error.
func (s *Server) writeRPCResult(w http.ResponseWriter, status int, id json.RawMessage, result any) {
	resp, err := mcp.NewResultResponse(id, result)
	if err != nil {
		writeRPC(w, http.StatusOK, mcp.NewErrorResponse(id, mcp.CodeInternalError, "Internal error: "+err.Error()))
		return
	}
	writeRPC(w, status, resp)
}
