package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/gateway"
	"github.com/toolgate/toolgate/internal/domain/tool"
)

// userIDPattern bounds path user ids to a conservative character set so
// they can double as directory names under the files root.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// handleInvoke serves POST /mcp/invoke, the REST twin of tools/call. The
// success response is the backend's JSON-RPC envelope verbatim, an in-band
// envelope error included; pipeline failures use the {error, message}
// convention of the REST surface.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
		return
	}

	var req gateway.InvokeToolRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	// The header wins over a request_id in the body; an empty id is minted
	// by the invocation pipeline.
	if xid := r.Header.Get("X-Request-ID"); xid != "" {
		req.RequestID = xid
	}

	if err := s.checkRateLimit(r.Context(), user.UserID(), req.ToolName); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.invoker.InvokeTool(r.Context(), user, req, r.URL.Path)
	if err != nil {
		s.recordInvocation(req.ToolName, false)
		writeError(w, err)
		return
	}

	s.recordInvocation(req.ToolName, !resp.IsError())
	writeJSON(w, http.StatusOK, resp)
}

// toolSummary is the REST projection of a registry row.
type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	BackendURL  string `json:"backend_url"`
	RiskLevel   string `json:"risk_level"`
}

type toolListResponse struct {
	Tools []toolSummary `json:"tools"`
	Count int           `json:"count"`
}

// handleListTools serves GET /mcp/tools: every active tool this user may
// invoke, across all scopes. Meta-tool tombstones are never listed.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
		return
	}

	tools, err := s.registry.ToolsForUser(r.Context(), user)
	if err != nil {
		LoggerFromContext(r.Context()).Error("tool listing failed", "error", err)
		writeError(w, err)
		return
	}

	out := make([]toolSummary, 0, len(tools))
	for _, t := range tools {
		if tool.IsMetaTool(t.Name) {
			continue
		}
		out = append(out, toolSummary{
			Name:        t.Name,
			Description: t.Description,
			BackendURL:  t.BackendURL,
			RiskLevel:   string(t.RiskLevel),
		})
	}
	writeJSON(w, http.StatusOK, toolListResponse{Tools: out, Count: len(out)})
}

// handleSubmitJob serves POST /mcp/jobs. The body is the same shape as
// /mcp/invoke; the response is the pending job record with status 202.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
		return
	}

	var req gateway.InvokeToolRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	j, err := s.jobs.Submit(r.Context(), user, req)
	if err != nil {
		LoggerFromContext(r.Context()).Error("job submit failed", "tool_name", req.ToolName, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

// handleGetJob serves GET /mcp/jobs/{id}. Reads are owner-or-admin.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Job id must be a UUID")
		return
	}

	j, err := s.jobs.Get(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleCleanupJobs serves DELETE /mcp/jobs?hours=N, the admin-only reaper.
func (s *Server) handleCleanupJobs(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
		return
	}

	hours := 0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "hours must be an integer")
			return
		}
		hours = n
	}

	if _, err := s.jobs.Cleanup(r.Context(), user, hours); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadFile serves GET /files/{user_id}/{filename}. Downloads are
// strictly owner-only, and the resolved path must stay under the files
// root whatever the path segments contain.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, &auth.InvalidTokenError{Message: "Missing or malformed Authorization header"})
		return
	}

	userID := r.PathValue("user_id")
	filename := r.PathValue("filename")

	if user.UserID() != userID {
		writeAPIError(w, http.StatusForbidden, "FILE_ACCESS_DENIED", "Access denied: You can only download your own files")
		return
	}
	if !userIDPattern.MatchString(userID) {
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid user id")
		return
	}
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid filename")
		return
	}

	base, err := filepath.Abs(s.filesDir)
	if err != nil {
		LoggerFromContext(r.Context()).Error("files root resolution failed", "dir", s.filesDir, "error", err)
		writeError(w, err)
		return
	}
	path := filepath.Join(base, userID, filename)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid path")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeAPIError(w, http.StatusNotFound, "FILE_NOT_FOUND", "File not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, "", info.ModTime(), f)
}

// decodeBody reads and validates a JSON request body into v, answering the
// appropriate error itself when it fails. Reports whether decoding
// succeeded.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, &gateway.PayloadTooLargeError{SizeBytes: int(tooLarge.Limit) + 1, MaxBytes: int(tooLarge.Limit)})
			return false
		}
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body is unreadable")
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body is not valid JSON")
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("field '%s' failed '%s' validation", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
