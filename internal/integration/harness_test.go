// Package integration exercises the full request path: HTTP transport,
// bearer auth, policy derivation, rate limiting, scoped dispatch, the
// invocation pipeline, backend forwarding, and the audit trail, wired the
// same way the start command wires them.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/adapter/inbound/admin"
	inboundhttp "github.com/toolgate/toolgate/internal/adapter/inbound/http"
	backendout "github.com/toolgate/toolgate/internal/adapter/outbound/backend"
	"github.com/toolgate/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/service"
)

const (
	testGatewaySecret = "test-gateway-secret"
	testJWTSecret     = "integration-test-jwt-secret"
	testIssuer        = "toolgate-test"
	testAudience      = "toolgate"
)

// testLogger returns a quiet logger for test wiring.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// backendCall captures one forwarded request as the fake backend saw it.
type backendCall struct {
	GatewayAuth string
	RequestID   string
	UserID      string
	ToolName    string
}

// fakeBackend is an httptest MCP backend that answers every tools/call with
// a fixed success envelope and records the forwarded headers.
type fakeBackend struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls []backendCall
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params struct {
				Name string `json:"name"`
			} `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		fb.mu.Lock()
		fb.calls = append(fb.calls, backendCall{
			GatewayAuth: r.Header.Get("X-Gateway-Auth"),
			RequestID:   r.Header.Get("X-Request-ID"),
			UserID:      r.Header.Get("X-User-ID"),
			ToolName:    req.Params.Name,
		})
		fb.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"3"}],"isError":false}}`, req.ID)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

// Calls returns a snapshot of the forwarded requests seen so far.
func (fb *fakeBackend) Calls() []backendCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]backendCall, len(fb.calls))
	copy(out, fb.calls)
	return out
}

// harnessOptions tune the assembled gateway per test.
type harnessOptions struct {
	serverOpts  []inboundhttp.Option
	gatewayOpts []service.GatewayOption
}

type harnessOption func(*harnessOptions)

func withServerOptions(opts ...inboundhttp.Option) harnessOption {
	return func(h *harnessOptions) { h.serverOpts = append(h.serverOpts, opts...) }
}

func withGatewayOptions(opts ...service.GatewayOption) harnessOption {
	return func(h *harnessOptions) { h.gatewayOpts = append(h.gatewayOpts, opts...) }
}

// harness is one fully wired gateway under test plus its fake backend.
type harness struct {
	ts        *httptest.Server
	backend   *fakeBackend
	validator *auth.Validator

	toolStore  *memory.MemoryToolStore
	auditStore *memory.MemoryAuditStore
	registry   *service.RegistryService
	jobs       *service.JobService
}

// newHarness assembles stores, services, and the HTTP transport the way the
// start command does, backed by a fake MCP backend. Cleanup tears the stack
// down in reverse order so SSE streams and background tasks drain before
// the audit worker stops.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	var cfg harnessOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := testLogger()
	fb := newFakeBackend(t)

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "tools.yaml")
	policyPath := filepath.Join(dir, "policy.yaml")
	writeFile(t, catalogPath, testCatalog(fb.srv.URL))
	writeFile(t, policyPath, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())

	toolStore := memory.NewToolStore()
	auditStore := memory.NewAuditStore()

	registry := service.NewRegistryService(toolStore, logger)
	if err := registry.SyncFromCatalog(ctx, catalogPath); err != nil {
		cancel()
		t.Fatalf("SyncFromCatalog() error = %v", err)
	}

	auditSvc := service.NewAuditService(auditStore, logger,
		service.WithBatchSize(1),
		service.WithFlushInterval(10*time.Millisecond),
	)
	auditSvc.Start(ctx)

	limiter := memory.NewRateLimiterWithConfig(time.Minute, 10*time.Minute)

	caller := backendout.NewHTTPCaller(testGatewaySecret,
		backendout.WithTimeout(5*time.Second),
		backendout.WithLogger(logger),
	)
	gw := service.NewGatewayService(registry, caller, auditSvc, logger, cfg.gatewayOpts...)

	jobs := service.NewJobService(memory.NewJobStore(), gw, logger)
	jobs.Start(ctx)

	engine := policy.NewEngine(policyPath, logger)
	if err := engine.Load(); err != nil {
		cancel()
		t.Fatalf("policy Load() error = %v", err)
	}

	validator := auth.NewValidator(testJWTConfig())

	serverOpts := append([]inboundhttp.Option{
		inboundhttp.WithAppInfo("Toolgate Test", "test"),
		inboundhttp.WithLogger(logger),
		inboundhttp.WithKeepaliveInterval(50 * time.Millisecond),
		inboundhttp.WithFilesDir(filepath.Join(dir, "files")),
		inboundhttp.WithExtraRoutes(admin.NewHandler(auditStore, logger)),
	}, cfg.serverOpts...)

	srv := inboundhttp.NewServer(inboundhttp.Services{
		Invoker:   gw,
		Registry:  registry,
		Jobs:      jobs,
		Audit:     auditSvc,
		Limiter:   limiter,
		Validator: validator,
		Policy:    engine,
	}, serverOpts...)

	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(cancel)
	t.Cleanup(limiter.Stop)
	t.Cleanup(auditSvc.Stop)
	t.Cleanup(jobs.Stop)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Close() })

	return &harness{
		ts:         ts,
		backend:    fb,
		validator:  validator,
		toolStore:  toolStore,
		auditStore: auditStore,
		registry:   registry,
		jobs:       jobs,
	}
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		SecretKey:         testJWTSecret,
		Algorithm:         "HS256",
		AllowedAlgorithms: "HS256",
		Issuer:            testIssuer,
		Audience:          testAudience,
		ClockSkewSeconds:  30,
		UserIDClaim:       "sub",
		ExpClaim:          "exp",
		IATClaim:          "iat",
		TenantClaim:       "workspace",
		APIVersionClaim:   "v",
	}
}

// testCatalog returns the YAML catalog used by every harness. broken_math
// routes to a dead port so backend-unavailable paths can be exercised.
func testCatalog(backendURL string) string {
	return fmt.Sprintf(`tools:
  - name: exact_calculate
    description: Arbitrary-precision arithmetic
    backend_url: %[1]s
    scope: calculator
    risk_level: low
    categories: [core, math]
    input_schema:
      type: object
      properties:
        operator: {type: string}
        operands: {type: array}
  - name: document_generate
    description: Render a document from a template
    backend_url: %[1]s
    scope: docs
    risk_level: medium
    categories: [core]
  - name: repo_status
    description: Summarize repository state
    backend_url: %[1]s
    scope: git
    risk_level: low
    required_roles: [maintainer]
    categories: []
  - name: broken_math
    description: Routes to a dead backend
    backend_url: http://127.0.0.1:9
    scope: calculator
    risk_level: low
    categories: []
`, backendURL)
}

func testPolicy() string {
	return `default_action: deny
roles:
  developer:
    allowed_tools: [exact_calculate, document_generate, broken_math]
  maintainer:
    allowed_tools: [repo_status]
  admin:
    allowed_tools: ["*"]
tools:
  repo_status:
    required_roles: [maintainer]
`
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// mint signs a token accepted by the harness validator.
func (h *harness) mint(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, err := h.validator.Mint(auth.MintOptions{UserID: userID, Roles: roles})
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	return token
}

// rpcEnvelope is the decoded JSON-RPC response body.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  map[string]any  `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// postRPC sends a raw JSON-RPC body to /{scope}/sse and decodes the
// envelope. The envelope is nil for bodyless statuses.
func (h *harness) postRPC(t *testing.T, scope, token, body string) (*http.Response, *rpcEnvelope) {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/"+scope+"/sse", token, []byte(body))
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp, nil
	}
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("response is not a JSON-RPC envelope: %v\nbody: %s", err, raw)
	}
	return resp, &env
}

// toolCallBody renders a tools/call request body.
func toolCallBody(id, name string, args map[string]any) string {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  params,
	})
	return string(body)
}

// do issues one request against the harness server.
func (h *harness) do(t *testing.T, method, path, token string, body []byte) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest(%s %s): %v", method, path, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a response body, closing it.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

// waitAudit polls the audit store until a record matches, or fails the test
// after two seconds. The audit path is asynchronous; the harness flushes
// every 10ms.
func (h *harness) waitAudit(t *testing.T, match func(audit.AuditRecord) bool) audit.AuditRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		records, _, err := h.auditStore.Query(context.Background(), audit.Filter{Limit: 100})
		if err != nil {
			t.Fatalf("audit Query() error = %v", err)
		}
		for _, rec := range records {
			if match(rec) {
				return rec
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for audit record")
	return audit.AuditRecord{}
}

// stormToolLimit is the per-tool bucket used by the storm test: one token
// of burst, refilling at half a token per second.
var stormToolLimit = ratelimit.Config{RequestsPerMinute: 30, BurstSize: 1}
