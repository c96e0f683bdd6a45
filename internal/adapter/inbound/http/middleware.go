package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolgate/toolgate/internal/ctxkey"
	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/internal/observability"
)

// RequestIDMiddleware extracts or generates a correlation ID and enriches
// the logger with it. The ID is stored under ctxkey.RequestIDKey and echoed
// in the X-Request-ID response header.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enriched)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TracingMiddleware opens a server span per request, continuing any trace
// context propagated in the inbound headers. The trace ID is echoed in the
// X-Trace-ID response header so callers can correlate their requests with
// exported spans. With tracing disabled the no-op tracer records nothing
// and the header is not set.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := observability.Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		if traceID := observability.TraceIDFromContext(ctx); traceID != "" {
			w.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the correlation ID, empty when absent.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RealIPMiddleware resolves the client IP for logging. It trusts the first
// entry of X-Forwarded-For, then X-Real-IP, then falls back to the socket
// address. The IP is stored under ctxkey.RealIPKey.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), ctxkey.RealIPKey{}, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP extracts the client's IP address from the request.
func extractRealIP(r *http.Request) string {
	// X-Forwarded-For carries "client, proxy1, proxy2"; only the first
	// entry names the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerAuthMiddleware validates the Authorization bearer token and stores
// the authenticated user, with tool allowances derived from the policy
// engine, under ctxkey.UserKey. Requests without a valid token are answered
// 401 and never reach the handler.
func BearerAuthMiddleware(validator *auth.Validator, engine *policy.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				writeError(w, err)
				return
			}

			user := &auth.AuthenticatedUser{
				Claims:       *claims,
				AllowedTools: engine.AllowedTools(*claims),
			}

			ctx := context.WithValue(r.Context(), ctxkey.UserKey{}, user)
			if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
				ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("user_id", claims.UserID))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the authenticated user stored by the auth
// middleware. The second return is false on unauthenticated paths.
func UserFromContext(ctx context.Context) (*auth.AuthenticatedUser, bool) {
	user, ok := ctx.Value(ctxkey.UserKey{}).(*auth.AuthenticatedUser)
	return user, ok
}
