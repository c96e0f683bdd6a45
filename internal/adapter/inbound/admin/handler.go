// Package admin provides the admin JSON API: audit-trail queries behind an
// admin-role gate. It mounts onto the gateway's HTTP server through the
// transport's extra-routes hook.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/toolgate/toolgate/internal/ctxkey"
	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/auth"
)

// Handler serves the admin API endpoints.
type Handler struct {
	store  audit.AuditQueryStore
	logger *slog.Logger
}

// NewHandler creates the admin API handler over the given audit reader.
func NewHandler(store audit.AuditQueryStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Mount registers the admin routes. wrap is the transport's bearer-auth
// middleware; every admin route requires it, and requireAdmin gates the
// role on top.
func (h *Handler) Mount(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /admin/audit-logs", wrap(h.requireAdmin(h.handleQueryAuditLogs)))
}

// requireAdmin rejects callers without the admin role. The bearer-auth
// middleware has already placed the user in the context.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(ctxkey.UserKey{}).(*auth.AuthenticatedUser)
		if !ok {
			adminErr := &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"}
			h.respondError(w, http.StatusUnauthorized, adminErr.Code(), adminErr.Error())
			return
		}
		if !user.IsAdmin() {
			adminErr := &auth.AdminRequiredError{}
			h.respondError(w, http.StatusForbidden, adminErr.Code(), adminErr.Error())
			return
		}
		next(w, r)
	})
}

// respondJSON writes v with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes an {error, message} body with the given status code.
func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, map[string]string{"error": code, "message": message})
}
