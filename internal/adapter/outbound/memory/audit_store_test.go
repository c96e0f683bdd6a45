// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

func TestAuditStore_Append(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.AuditRecord{
		Timestamp:    time.Now().UTC(),
		RequestID:    "req-1",
		UserID:       "user-1",
		ToolName:     "exact_calculate",
		EndpointPath: "/mcp/invoke",
		Status:       audit.StatusSuccess,
		DurationMS:   12,
	}

	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	output := buf.String()
	if output == "" {
		t.Fatal("Append() did not write to buffer")
	}

	var decoded audit.AuditRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &decoded); err != nil {
		t.Fatalf("Written output is not valid JSON: %v", err)
	}

	if decoded.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want %q", decoded.RequestID, "req-1")
	}
	if decoded.ToolName != "exact_calculate" {
		t.Errorf("ToolName = %q, want %q", decoded.ToolName, "exact_calculate")
	}
	if decoded.ID == 0 {
		t.Error("Append() should assign an ID")
	}
}

func TestAuditStore_AppendMultiple(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	records := []audit.AuditRecord{
		{RequestID: "req-1", ToolName: "tool_1", Status: audit.StatusSuccess, Timestamp: time.Now().UTC()},
		{RequestID: "req-2", ToolName: "tool_2", Status: audit.StatusError, Timestamp: time.Now().UTC()},
		{RequestID: "req-3", ToolName: "tool_3", Status: audit.StatusSuccess, Timestamp: time.Now().UTC()},
	}

	if err := store.Append(ctx, records...); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 3 {
		t.Errorf("Expected 3 JSON lines, got %d", len(lines))
	}

	for i, line := range lines {
		var decoded audit.AuditRecord
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i, err)
		}
		expectedReqID := "req-" + string(rune('1'+i))
		if decoded.RequestID != expectedReqID {
			t.Errorf("Line %d RequestID = %q, want %q", i, decoded.RequestID, expectedReqID)
		}
	}
}

func TestAuditStore_Flush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.AuditRecord{
		RequestID: "req-flush",
		ToolName:  "flush_tool",
		Timestamp: time.Now().UTC(),
	}
	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Errorf("Flush() error: %v (expected nil, flush is no-op)", err)
	}

	if buf.Len() == 0 {
		t.Error("Buffer should still contain data after Flush()")
	}
}

func TestAuditStore_Close(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	if err := store.Close(); err != nil {
		t.Errorf("Close() error: %v (expected nil for non-file writer)", err)
	}
}

func TestAuditStore_AppendEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	if err := store.Append(ctx); err != nil {
		t.Errorf("Append() with no records error: %v", err)
	}

	if buf.Len() != 0 {
		t.Errorf("Buffer should be empty after appending no records, got %d bytes", buf.Len())
	}
}

func TestAuditStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			record := audit.AuditRecord{
				RequestID: "req-" + string(rune('a'+(idx%26))),
				ToolName:  "concurrent_tool",
				Status:    audit.StatusSuccess,
				Timestamp: time.Now().UTC(),
			}
			if err := store.Append(ctx, record); err != nil {
				errCh <- err
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent Append() error: %v", err)
	}

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 100 {
		t.Errorf("Expected 100 JSON lines, got %d", len(lines))
	}
}

func TestAuditStore_GetRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewAuditStoreWithWriter(&bytes.Buffer{})

	for i := 0; i < 5; i++ {
		rec := audit.AuditRecord{
			RequestID: "req-" + string(rune('1'+i)),
			ToolName:  "recent_tool",
			Timestamp: time.Now().UTC(),
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	recent := store.GetRecent(3)
	if len(recent) != 3 {
		t.Fatalf("GetRecent(3) returned %d records, want 3", len(recent))
	}
	// Newest first.
	if recent[0].RequestID != "req-5" {
		t.Errorf("recent[0].RequestID = %q, want %q", recent[0].RequestID, "req-5")
	}
	if recent[2].RequestID != "req-3" {
		t.Errorf("recent[2].RequestID = %q, want %q", recent[2].RequestID, "req-3")
	}
}

func TestAuditStore_RingBufferBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewAuditStoreWithWriter(&bytes.Buffer{}, 3)

	for i := 0; i < 10; i++ {
		rec := audit.AuditRecord{
			RequestID: "req-" + string(rune('0'+i)),
			Timestamp: time.Now().UTC(),
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	recent := store.GetRecent(10)
	if len(recent) != 3 {
		t.Fatalf("GetRecent(10) returned %d records, want 3 (ring capacity)", len(recent))
	}
	if recent[0].RequestID != "req-9" {
		t.Errorf("recent[0].RequestID = %q, want %q (newest survives)", recent[0].RequestID, "req-9")
	}
}

func seedQueryRecords(t *testing.T, store *MemoryAuditStore) {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []audit.AuditRecord{
		{Timestamp: base, RequestID: "r1", UserID: "alice", ToolName: "exact_calculate", EndpointPath: "/calculator/sse", Status: audit.StatusSuccess, DurationMS: 10},
		{Timestamp: base.Add(1 * time.Minute), RequestID: "r2", UserID: "bob", ToolName: "git_status", EndpointPath: "/git/sse", Status: audit.StatusError, DurationMS: 40, ErrorCode: "BACKEND_ERROR"},
		{Timestamp: base.Add(2 * time.Minute), RequestID: "r3", UserID: "alice", ToolName: "git_status", EndpointPath: "/mcp/invoke", Status: audit.StatusSuccess, DurationMS: 22},
		{Timestamp: base.Add(3 * time.Minute), RequestID: "r4", UserID: "alice", ToolName: "exact_calculate", EndpointPath: "/calculator/sse", Status: audit.StatusTimeout, DurationMS: 30000, ErrorCode: audit.ErrorCodeBackendTimeout},
		{Timestamp: base.Add(4 * time.Minute), RequestID: "r5", UserID: "carol", ToolName: "fuzzy_search", EndpointPath: "/docs/sse", Status: audit.StatusRateLimited, DurationMS: 1, ErrorCode: audit.ErrorCodeRateLimited},
	}
	if err := store.Append(context.Background(), records...); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
}

func TestAuditStore_Query(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewAuditStoreWithWriter(&bytes.Buffer{})
	seedQueryRecords(t, store)

	tests := []struct {
		name      string
		filter    audit.Filter
		wantIDs   []string
		wantTotal int64
	}{
		{
			name:      "no filter returns all newest first",
			filter:    audit.Filter{},
			wantIDs:   []string{"r5", "r4", "r3", "r2", "r1"},
			wantTotal: 5,
		},
		{
			name:      "by user",
			filter:    audit.Filter{UserID: "alice"},
			wantIDs:   []string{"r4", "r3", "r1"},
			wantTotal: 3,
		},
		{
			name:      "by tool",
			filter:    audit.Filter{ToolName: "git_status"},
			wantIDs:   []string{"r3", "r2"},
			wantTotal: 2,
		},
		{
			name:      "by status",
			filter:    audit.Filter{Status: audit.StatusTimeout},
			wantIDs:   []string{"r4"},
			wantTotal: 1,
		},
		{
			name:      "by endpoint path",
			filter:    audit.Filter{EndpointPath: "/calculator/sse"},
			wantIDs:   []string{"r4", "r1"},
			wantTotal: 2,
		},
		{
			name: "by time range",
			filter: audit.Filter{
				StartTime: time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
				EndTime:   time.Date(2025, 6, 1, 12, 3, 0, 0, time.UTC),
			},
			wantIDs:   []string{"r4", "r3", "r2"},
			wantTotal: 3,
		},
		{
			name:      "combined filters",
			filter:    audit.Filter{UserID: "alice", ToolName: "exact_calculate", Status: audit.StatusSuccess},
			wantIDs:   []string{"r1"},
			wantTotal: 1,
		},
		{
			name:      "no match",
			filter:    audit.Filter{UserID: "mallory"},
			wantIDs:   nil,
			wantTotal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, total, err := store.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Query() returned %d records, want %d", len(got), len(tt.wantIDs))
			}
			for i, rec := range got {
				if rec.RequestID != tt.wantIDs[i] {
					t.Errorf("record[%d].RequestID = %q, want %q", i, rec.RequestID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestAuditStore_QueryPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewAuditStoreWithWriter(&bytes.Buffer{})
	seedQueryRecords(t, store)

	page1, total, err := store.Query(ctx, audit.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5 (total counts all matches, not the page)", total)
	}
	if len(page1) != 2 || page1[0].RequestID != "r5" || page1[1].RequestID != "r4" {
		t.Errorf("page1 = %v, want [r5 r4]", requestIDs(page1))
	}

	page2, total, err := store.Query(ctx, audit.Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page2) != 2 || page2[0].RequestID != "r3" || page2[1].RequestID != "r2" {
		t.Errorf("page2 = %v, want [r3 r2]", requestIDs(page2))
	}

	tail, _, err := store.Query(ctx, audit.Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(tail) != 1 || tail[0].RequestID != "r1" {
		t.Errorf("tail = %v, want [r1]", requestIDs(tail))
	}
}

func requestIDs(records []audit.AuditRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.RequestID
	}
	return ids
}

func TestAuditStore_DefaultStdout(t *testing.T) {
	store := NewAuditStore()
	if store == nil {
		t.Fatal("NewAuditStore() returned nil")
	}

	if err := store.Close(); err != nil {
		t.Errorf("Close() on default store error: %v", err)
	}
}
