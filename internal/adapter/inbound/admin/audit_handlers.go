package admin

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// auditPage is the response body for GET /admin/audit-logs.
type auditPage struct {
	Items  []audit.AuditRecord `json:"items"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// handleQueryAuditLogs serves GET /admin/audit-logs. Records come back
// newest first; total counts every match regardless of paging.
func (h *Handler) handleQueryAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	filter = filter.Normalize()

	records, total, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to query audit logs")
		return
	}
	if records == nil {
		records = []audit.AuditRecord{}
	}

	h.respondJSON(w, http.StatusOK, auditPage{
		Items:  records,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// parseAuditFilter builds an audit.Filter from query parameters. Unknown
// parameters are ignored; malformed values are rejected.
func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:       q.Get("user_id"),
		ToolName:     q.Get("tool_name"),
		EndpointPath: q.Get("endpoint_path"),
	}

	if s := q.Get("status"); s != "" {
		status := audit.Status(s)
		if !status.IsValid() {
			return f, fmt.Errorf("invalid status %q: must be one of success, error, timeout, rate_limited", s)
		}
		f.Status = status
	}

	if s := q.Get("start_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("invalid start_time %q: must be RFC 3339", s)
		}
		f.StartTime = t
	}

	if s := q.Get("end_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("invalid end_time %q: must be RFC 3339", s)
		}
		f.EndTime = t
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q: must be a non-negative integer", s)
		}
		f.Limit = n
	}

	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid offset %q: must be a non-negative integer", s)
		}
		f.Offset = n
	}

	return f, nil
}
