package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. Pass to components
// that need to record metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InvocationsTotal *prometheus.CounterVec
	RateLimitDenials *prometheus.CounterVec
	ActiveSSEStreams prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "requests_total",
				Help:      "HTTP requests processed",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		InvocationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "invocations_total",
				Help:      "Tool invocations by outcome",
			},
			[]string{"tool", "status"}, // status=success/error
		),
		RateLimitDenials: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "rate_limit_denials_total",
				Help:      "Requests denied by the token buckets",
			},
			[]string{"key_class"}, // key_class=user/tool
		),
		ActiveSSEStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "active_sse_streams",
				Help:      "Open SSE keepalive streams",
			},
		),
	}
}

// auditDropSource exposes the audit writer's backpressure drop counter.
type auditDropSource interface {
	DroppedRecords() int64
}

// bucketSizer exposes the rate limiter's live bucket count.
type bucketSizer interface {
	Size() int
}

// jobCounterSource exposes the job runner's lifecycle transition counters.
type jobCounterSource interface {
	SubmittedCount() int64
	CompletedCount() int64
	FailedCount() int64
}

// registerSourceCollectors wires pull-style collectors over counters owned
// by the services, so the metrics surface needs no hooks inside them.
func registerSourceCollectors(reg prometheus.Registerer, audit auditDropSource, limiter bucketSizer, jobs jobCounterSource) {
	if audit != nil {
		reg.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "audit_drops_total",
				Help:      "Audit records dropped under backpressure",
			},
			func() float64 { return float64(audit.DroppedRecords()) },
		))
	}
	if limiter != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "rate_limit_keys",
				Help:      "Live token buckets",
			},
			func() float64 { return float64(limiter.Size()) },
		))
	}
	if jobs != nil {
		transitions := prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "job_transitions_total",
				Help:      "Job lifecycle transitions",
			},
			[]string{"status"},
		)
		reg.MustRegister(&jobTransitionCollector{source: jobs, vec: transitions})
	}
}

// jobTransitionCollector reads the job runner's counters at scrape time.
type jobTransitionCollector struct {
	source jobCounterSource
	vec    *prometheus.CounterVec
}

func (c *jobTransitionCollector) Describe(ch chan<- *prometheus.Desc) {
	c.vec.Describe(ch)
}

func (c *jobTransitionCollector) Collect(ch chan<- prometheus.Metric) {
	c.vec.Reset()
	c.vec.WithLabelValues("pending").Add(float64(c.source.SubmittedCount()))
	c.vec.WithLabelValues("completed").Add(float64(c.source.CompletedCount()))
	c.vec.WithLabelValues("failed").Add(float64(c.source.FailedCount()))
	c.vec.Collect(ch)
}

// MetricsMiddleware records request duration and count, labeled by route
// pattern. The /metrics and /health endpoints are excluded to keep the
// series bounded to business traffic.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(route, r.Method, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush delegates to the underlying ResponseWriter if it supports
// http.Flusher. SSE streams break without this.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// statusToLabel converts an HTTP status code to a label value.
func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
