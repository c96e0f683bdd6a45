package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// captureStore collects appended records for assertions.
type captureStore struct {
	mu      sync.Mutex
	records []audit.AuditRecord
	err     error
}

func (m *captureStore) Append(ctx context.Context, records ...audit.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *captureStore) Flush(ctx context.Context) error { return nil }
func (m *captureStore) Close() error                    { return nil }

func (m *captureStore) all() []audit.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}

// mockSlowAuditStore simulates a slow sink for backpressure tests.
type mockSlowAuditStore struct {
	delay time.Duration
}

func (m *mockSlowAuditStore) Append(ctx context.Context, records ...audit.AuditRecord) error {
	time.Sleep(m.delay)
	return nil
}

func (m *mockSlowAuditStore) Flush(ctx context.Context) error { return nil }
func (m *mockSlowAuditStore) Close() error                    { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditService_ScopeRecordsExactlyOneRow(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}
	svc := NewAuditService(store, discardLogger(),
		WithBatchSize(1),
		WithFlushInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	scope := svc.Begin("req-1", "alice", "exact_calculate", "/calculator/sse")
	scope.End()
	scope.End() // second End must be a no-op

	svc.Stop()

	records := store.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.RequestID != "req-1" || rec.UserID != "alice" || rec.ToolName != "exact_calculate" {
		t.Errorf("unexpected record identity: %+v", rec)
	}
	if rec.EndpointPath != "/calculator/sse" {
		t.Errorf("expected endpoint /calculator/sse, got %q", rec.EndpointPath)
	}
	if rec.Status != audit.StatusSuccess {
		t.Errorf("expected success status, got %q", rec.Status)
	}
	if rec.DurationMS < 0 {
		t.Errorf("duration must be non-negative, got %d", rec.DurationMS)
	}
	if rec.Timestamp.IsZero() {
		t.Error("expected End to stamp a timestamp")
	}
}

func TestAuditService_ScopeMarks(t *testing.T) {
	defer goleak.VerifyNone(t)

	cases := []struct {
		name       string
		mark       func(*Scope)
		wantStatus audit.Status
		wantCode   string
	}{
		{
			name:       "error",
			mark:       func(sc *Scope) { sc.MarkError("TOOL_NOT_FOUND") },
			wantStatus: audit.StatusError,
			wantCode:   "TOOL_NOT_FOUND",
		},
		{
			name:       "timeout",
			mark:       func(sc *Scope) { sc.MarkTimeout() },
			wantStatus: audit.StatusTimeout,
			wantCode:   audit.ErrorCodeBackendTimeout,
		},
		{
			name:       "rate limited",
			mark:       func(sc *Scope) { sc.MarkRateLimited() },
			wantStatus: audit.StatusRateLimited,
			wantCode:   audit.ErrorCodeRateLimited,
		},
		{
			name:       "later mark wins",
			mark:       func(sc *Scope) { sc.MarkTimeout(); sc.MarkError("BACKEND_UNAVAILABLE") },
			wantStatus: audit.StatusError,
			wantCode:   "BACKEND_UNAVAILABLE",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &captureStore{}
			svc := NewAuditService(store, discardLogger(), WithBatchSize(1))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			svc.Start(ctx)

			scope := svc.Begin("req-2", "bob", "git_status", "/git/sse")
			tc.mark(scope)
			scope.End()
			svc.Stop()

			records := store.all()
			if len(records) != 1 {
				t.Fatalf("expected 1 record, got %d", len(records))
			}
			if records[0].Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", records[0].Status, tc.wantStatus)
			}
			if records[0].ErrorCode != tc.wantCode {
				t.Errorf("error_code = %q, want %q", records[0].ErrorCode, tc.wantCode)
			}
		})
	}
}

func TestAuditService_LogDenied(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	svc.LogDenied("carol", "unknown_tool", "/docs/sse", audit.ErrorCodeToolNotInScope)
	svc.Stop()

	records := store.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != audit.StatusError {
		t.Errorf("expected error status, got %q", rec.Status)
	}
	if rec.ErrorCode != audit.ErrorCodeToolNotInScope {
		t.Errorf("error_code = %q, want %q", rec.ErrorCode, audit.ErrorCodeToolNotInScope)
	}
	if rec.DurationMS != 0 {
		t.Errorf("denied rows carry zero duration, got %d", rec.DurationMS)
	}
	if rec.RequestID == "" {
		t.Error("denied rows get a fresh request id")
	}
}

func TestAuditService_StoreFailureIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	store := &captureStore{err: errors.New("disk full")}
	svc := NewAuditService(store, logger, WithBatchSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	scope := svc.Begin("req-3", "dave", "doc_search", "/docs/sse")
	scope.End()
	svc.Stop()

	if !strings.Contains(logBuf.String(), "failed to write audit batch") {
		t.Errorf("expected store failure to be logged, got: %s", logBuf.String())
	}
}

func TestAuditService_OverflowWithTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Slow store to cause backpressure.
	slowStore := &mockSlowAuditStore{delay: 50 * time.Millisecond}

	svc := NewAuditService(slowStore, discardLogger(),
		WithChannelSize(2),
		WithSendTimeout(10*time.Millisecond),
		WithBatchSize(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 10; i++ {
		svc.Record(audit.AuditRecord{
			ToolName:  fmt.Sprintf("tool_%d", i),
			Timestamp: time.Now(),
		})
	}

	time.Sleep(150 * time.Millisecond)

	drops := svc.DroppedRecords()
	if drops == 0 {
		t.Error("expected some records to be dropped due to timeout")
	}

	if capacity := svc.ChannelCapacity(); capacity != 2 {
		t.Errorf("expected capacity=2, got %d", capacity)
	}

	cancel()
	svc.Stop()
}

func TestAuditService_ChannelDepthWarning(t *testing.T) {
	defer goleak.VerifyNone(t)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	slowStore := &mockSlowAuditStore{delay: 100 * time.Millisecond}

	svc := NewAuditService(slowStore, logger,
		WithChannelSize(10),
		WithWarningThreshold(80),
		WithSendTimeout(0), // drop immediately for a predictable fill
	)

	// No worker started; fill the channel to 90%.
	for i := 0; i < 9; i++ {
		select {
		case svc.auditChan <- audit.AuditRecord{ToolName: fmt.Sprintf("tool_%d", i)}:
		default:
			t.Fatalf("channel unexpectedly full at %d", i)
		}
	}

	// Next Record() sees depth 90% >= threshold 80% and warns.
	svc.Record(audit.AuditRecord{ToolName: "trigger"})

	if !strings.Contains(logBuf.String(), "approaching capacity") {
		t.Errorf("expected warning log about channel capacity, got: %s", logBuf.String())
	}

	close(svc.auditChan)
	for range svc.auditChan {
	}
}

func TestAuditService_DropCounterAccuracy(t *testing.T) {
	defer goleak.VerifyNone(t)

	slowStore := &mockSlowAuditStore{delay: 1 * time.Second}

	svc := NewAuditService(slowStore, discardLogger(),
		WithChannelSize(5),
		WithSendTimeout(0),
		WithBatchSize(1),
	)

	// No worker; the channel fills and stays full.
	for i := 0; i < 5; i++ {
		select {
		case svc.auditChan <- audit.AuditRecord{ToolName: fmt.Sprintf("fill_%d", i)}:
		default:
			t.Fatalf("channel full at index %d, expected to fill 5", i)
		}
	}

	if svc.ChannelDepth() != 5 {
		t.Fatalf("expected channel depth 5, got %d", svc.ChannelDepth())
	}

	const expectedDrops = 10
	for i := 0; i < expectedDrops; i++ {
		svc.Record(audit.AuditRecord{ToolName: fmt.Sprintf("drop_%d", i)})
	}

	if drops := svc.DroppedRecords(); drops != expectedDrops {
		t.Errorf("expected exactly %d drops, got %d", expectedDrops, drops)
	}

	close(svc.auditChan)
	for range svc.auditChan {
	}
}

func TestAuditService_DropCounterConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t)

	slowStore := &mockSlowAuditStore{delay: 1 * time.Second}

	svc := NewAuditService(slowStore, discardLogger(),
		WithChannelSize(1),
		WithSendTimeout(0),
		WithBatchSize(1),
	)

	select {
	case svc.auditChan <- audit.AuditRecord{ToolName: "fill"}:
	default:
		t.Fatal("failed to fill channel")
	}

	const goroutines = 10
	const dropsPerGoroutine = 100
	expectedTotal := goroutines * dropsPerGoroutine

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < dropsPerGoroutine; j++ {
				svc.Record(audit.AuditRecord{ToolName: fmt.Sprintf("drop_%d_%d", id, j)})
			}
		}(i)
	}
	wg.Wait()

	if drops := svc.DroppedRecords(); drops != int64(expectedTotal) {
		t.Errorf("expected %d concurrent drops, got %d", expectedTotal, drops)
	}

	close(svc.auditChan)
	for range svc.auditChan {
	}
}

func TestAuditService_FlushOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}
	svc := NewAuditService(store, discardLogger(),
		WithChannelSize(100),
		WithBatchSize(50), // larger than what we send
		WithFlushInterval(20*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 3; i++ {
		svc.Record(audit.AuditRecord{ToolName: fmt.Sprintf("tool_%d", i)})
	}

	// Batch is below batchSize, so only the interval flush can move it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.all()) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := len(store.all()); got != 3 {
		t.Errorf("expected 3 records flushed by interval, got %d", got)
	}

	cancel()
	svc.Stop()
}

func TestAuditService_AdaptiveFlushUnderPressure(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}

	svc := NewAuditService(store, discardLogger(),
		WithChannelSize(10),
		WithBatchSize(5),
		WithFlushInterval(500*time.Millisecond), // long interval
		WithAdaptiveFlushThreshold(50),          // trigger at 50% (5 records)
		WithSendTimeout(100*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 8; i++ {
		svc.Record(audit.AuditRecord{
			ToolName:  fmt.Sprintf("tool_%d", i),
			Timestamp: time.Now(),
		})
	}

	// Adaptive flush should beat the 500ms interval.
	time.Sleep(200 * time.Millisecond)

	if len(store.all()) == 0 {
		t.Error("expected at least one flush under pressure (adaptive mode)")
	}

	cancel()
	svc.Stop()
}

func TestAuditService_AdaptiveFlushDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockSlowAuditStore{delay: 10 * time.Millisecond}

	svc := NewAuditService(store, discardLogger(),
		WithChannelSize(10),
		WithBatchSize(5),
		WithFlushInterval(100*time.Millisecond),
		WithAdaptiveFlushThreshold(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 8; i++ {
		svc.Record(audit.AuditRecord{
			ToolName:  fmt.Sprintf("tool_%d", i),
			Timestamp: time.Now(),
		})
	}

	time.Sleep(150 * time.Millisecond)

	cancel()
	svc.Stop()
}
