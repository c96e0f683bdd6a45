// Package http provides the inbound HTTP transport for the tool gateway.
//
// It serves the scoped MCP endpoints over HTTP+SSE, the legacy REST
// surface, and the operational endpoints, all behind one net/http server.
//
// # Usage
//
// Create and start a server:
//
//	server := http.NewServer(http.Services{
//	    Invoker:   gatewayService,
//	    Registry:  registryService,
//	    Jobs:      jobService,
//	    Audit:     auditService,
//	    Limiter:   rateLimiter,
//	    Validator: jwtValidator,
//	    Policy:    policyEngine,
//	},
//	    http.WithAddr(":8080"),
//	    http.WithAppInfo("MCP Gateway", version),
//	    http.WithLogger(logger),
//	)
//	err := server.Start(ctx)
//
// # Endpoints
//
//	GET  /{scope}/sse            - SSE stream: endpoint frame + keepalives
//	POST /{scope}/sse            - JSON-RPC 2.0 message channel
//	POST /mcp/invoke             - REST tool invocation (returns the envelope)
//	GET  /mcp/tools              - user-scoped tool listing
//	POST /mcp/jobs               - submit an async invocation (202)
//	GET  /mcp/jobs/{id}          - job status, owner or admin
//	DELETE /mcp/jobs             - reap old jobs, admin only
//	GET  /files/{user_id}/{filename} - owner-only file download
//	GET  /health                 - liveness, no auth
//	GET  /metrics                - Prometheus registry, no auth
//
// Scope is one of calculator, git, or docs. Additional surfaces (the admin
// audit API) mount through WithExtraRoutes.
//
// # Request Headers
//
//	Authorization: Bearer <jwt>    - required on all business routes
//	X-Request-ID: <id>             - optional correlation id, echoed back
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - duration and status, labeled by route pattern
//  2. RequestIDMiddleware - extract or mint the correlation id
//  3. RealIPMiddleware - client IP from proxy headers
//  4. BearerAuthMiddleware - JWT validation + policy-derived permissions
//     (per route; open endpoints skip it)
//
// # Error Bodies
//
// JSON-RPC routes answer with {jsonrpc, id, error: {code, message}}
// envelopes; everything else uses {error: <code>, message: <prose>}. Rate
// limit denials add a Retry-After header.
package http
