package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"

	"github.com/toolgate/toolgate/internal/service"
)

// HealthResponse is the JSON body of the /health endpoint.
type HealthResponse struct {
	Status string            `json:"status"` // "ok" or "degraded"
	App    string            `json:"app"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthChecker reports liveness plus coarse component state. The endpoint
// never requires auth; it must keep answering while the gateway is
// refusing work.
type HealthChecker struct {
	app     string
	limiter bucketSizer
	audit   *service.AuditService
}

// NewHealthChecker creates a health checker. Pass nil for components that
// are not wired in this deployment.
func NewHealthChecker(app string, limiter bucketSizer, audit *service.AuditService) *HealthChecker {
	return &HealthChecker{app: app, limiter: limiter, audit: audit}
}

// Check inspects the wired components. An audit channel above 90% occupancy
// degrades the report: the writer is not keeping up and records are about
// to drop.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	degraded := false

	if h.limiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("ok: %d buckets", h.limiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.audit != nil {
		depth := h.audit.ChannelDepth()
		capacity := h.audit.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			degraded = true
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.audit.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = strconv.Itoa(runtime.NumGoroutine())

	status := "ok"
	if degraded {
		status = "degraded"
	}
	return HealthResponse{Status: status, App: h.app, Checks: checks}
}

// Handler returns the /health endpoint handler.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
