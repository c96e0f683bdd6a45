package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// AuditService records invocation attempts without blocking the request
// path. Records are sent over a buffered channel to a background worker
// that batches writes to the store.
type AuditService struct {
	store         audit.AuditStore
	auditChan     chan audit.AuditRecord
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int           // capacity, kept for depth monitoring
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	warningThreshold int          // channel depth percentage that triggers a warning
	lastWarning      atomic.Int64 // rate-limits warning logs (Unix nanos)

	// Channel depth percentage above which the worker flushes at 1/4 the
	// normal interval. 0 disables adaptive flushing.
	adaptiveFlushThreshold int
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.auditChan = make(chan audit.AuditRecord, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
// A warning is logged when channel depth exceeds this percentage of capacity.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// WithAdaptiveFlushThreshold sets the channel depth % that triggers faster
// flushing. Set to 0 to disable adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.adaptiveFlushThreshold = percent
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	defaultChannelSize := 1000
	s := &AuditService{
		store:                  store,
		auditChan:              make(chan audit.AuditRecord, defaultChannelSize),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes audit records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning.
func (s *AuditService) Stop() {
	close(s.auditChan)
	s.wg.Wait()
}

// Begin opens an audit scope for one invocation attempt. The scope starts
// as success; Mark calls downgrade it, and End persists exactly one record.
func (s *AuditService) Begin(requestID, userID, toolName, endpointPath string) *Scope {
	return &Scope{
		svc:   s,
		start: time.Now(),
		record: audit.AuditRecord{
			RequestID:    requestID,
			UserID:       userID,
			ToolName:     toolName,
			EndpointPath: endpointPath,
			Status:       audit.StatusSuccess,
		},
	}
}

// LogDenied records a request refused before any backend work started,
// such as a permission or scope denial on the listing path. The row gets a
// fresh request id and zero duration.
func (s *AuditService) LogDenied(userID, toolName, endpointPath, errorCode string) {
	s.Record(audit.AuditRecord{
		Timestamp:    time.Now().UTC(),
		RequestID:    uuid.NewString(),
		UserID:       userID,
		ToolName:     toolName,
		EndpointPath: endpointPath,
		Status:       audit.StatusError,
		DurationMS:   0,
		ErrorCode:    errorCode,
	})
}

// Record sends an audit record to the background worker.
// Applies backpressure: attempts fast non-blocking send, then blocks up to
// sendTimeout. If the timeout expires the record is dropped and counted.
func (s *AuditService) Record(record audit.AuditRecord) {
	if s.warningThreshold > 0 {
		depth := len(s.auditChan)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	// Fast path: non-blocking send.
	select {
	case s.auditChan <- record:
		return
	default:
		// Channel full, apply backpressure.
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	// Slow path: block with timeout.
	select {
	case s.auditChan <- record:
		return
	case <-time.After(s.sendTimeout):
		s.recordDrop(record)
	}
}

func (s *AuditService) recordDrop(record audit.AuditRecord) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"tool", record.ToolName,
		"request_id", record.RequestID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs a capacity warning, rate-limited to once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()

	if now-last < int64(time.Second) {
		return
	}

	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns total dropped records (for metrics/alerting).
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage (for monitoring).
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns the channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// worker is the background goroutine that collects and flushes audit records.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.AuditRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	fastMode := false

	for {
		select {
		case record, ok := <-s.auditChan:
			if !ok {
				// Channel closed, final flush with a bounded deadline.
				if len(batch) > 0 {
					flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					flushCancel()
				}
				return
			}
			batch = append(batch, record)

			shouldFlush := len(batch) >= s.batchSize

			// Flush early when the channel is under pressure.
			if !shouldFlush && s.adaptiveFlushThreshold > 0 && len(batch) > 0 {
				depth := len(s.auditChan)
				depthPercent := depth * 100 / s.channelSize
				if depthPercent >= s.adaptiveFlushThreshold {
					shouldFlush = true
				}
			}

			if shouldFlush {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			// Adjust the ticker based on channel pressure.
			if s.adaptiveFlushThreshold > 0 {
				depth := len(s.auditChan)
				depthPercent := depth * 100 / s.channelSize

				if depthPercent >= s.adaptiveFlushThreshold && !fastMode {
					ticker.Reset(s.flushInterval / 4)
					fastMode = true
					s.logger.Debug("audit adaptive flush: entering fast mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval/4,
					)
				} else if depthPercent < s.adaptiveFlushThreshold && fastMode {
					ticker.Reset(s.flushInterval)
					fastMode = false
					s.logger.Debug("audit adaptive flush: returning to normal mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval,
					)
				}
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Context cancelled, drain the channel and flush with a
			// bounded deadline.
			for record := range s.auditChan {
				batch = append(batch, record)
			}
			if len(batch) > 0 {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.flush(flushCtx, batch)
				flushCancel()
			}
			return
		}
	}
}

// flush writes a batch of records to the store.
// Errors are logged but not propagated; auditing must not fail invocations.
func (s *AuditService) flush(ctx context.Context, batch []audit.AuditRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// Scope tracks one invocation attempt from dispatch to completion. It is
// used by a single goroutine; End must be called exactly once.
type Scope struct {
	svc    *AuditService
	record audit.AuditRecord
	start  time.Time
	ended  bool
}

// MarkError downgrades the scope to an error outcome with the given code.
func (sc *Scope) MarkError(code string) {
	sc.record.Status = audit.StatusError
	sc.record.ErrorCode = code
}

// MarkTimeout records that the backend did not answer in time.
func (sc *Scope) MarkTimeout() {
	sc.record.Status = audit.StatusTimeout
	sc.record.ErrorCode = audit.ErrorCodeBackendTimeout
}

// MarkRateLimited records a token-bucket refusal.
func (sc *Scope) MarkRateLimited() {
	sc.record.Status = audit.StatusRateLimited
	sc.record.ErrorCode = audit.ErrorCodeRateLimited
}

// RequestID returns the correlation id the scope was opened with.
func (sc *Scope) RequestID() string {
	return sc.record.RequestID
}

// End stamps the duration and enqueues the record. Safe to call from a
// defer after an explicit End; later calls are no-ops.
func (sc *Scope) End() {
	if sc.ended {
		return
	}
	sc.ended = true

	elapsed := time.Since(sc.start)
	if elapsed < 0 {
		elapsed = 0
	}
	sc.record.DurationMS = elapsed.Milliseconds()
	sc.record.Timestamp = time.Now().UTC()

	sc.svc.logger.Info("tool invocation audited",
		"request_id", sc.record.RequestID,
		"user_id", sc.record.UserID,
		"tool", sc.record.ToolName,
		"endpoint", sc.record.EndpointPath,
		"status", sc.record.Status,
		"duration_ms", sc.record.DurationMS,
		"error_code", sc.record.ErrorCode,
	)

	sc.svc.Record(sc.record)
}
