package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolgate/toolgate/internal/adapter/inbound/admin"
	"github.com/toolgate/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/service"
)

// chainFixture runs the assembled Handler, middleware included, on a real
// listener. Requests travel the same path production traffic does: metrics,
// request ID, real IP, bearer auth, then the route handlers.
type chainFixture struct {
	ts         *httptest.Server
	srv        *Server
	validator  *auth.Validator
	invoker    *stubInvoker
	jobs       *service.JobService
	auditStore *memory.MemoryAuditStore
}

func newChainFixture(t *testing.T, opts ...Option) *chainFixture {
	t.Helper()
	logger := discardLogger()

	toolStore := memory.NewToolStore()
	seedTools(t, toolStore)
	registry := service.NewRegistryService(toolStore, logger)

	auditStore := memory.NewAuditStore()
	auditSvc := service.NewAuditService(auditStore, logger)

	inv := &stubInvoker{}
	jobs := service.NewJobService(memory.NewJobStore(), inv, logger)

	validator := auth.NewValidator(testJWTConfig())

	srv := NewServer(Services{
		Invoker:   inv,
		Registry:  registry,
		Jobs:      jobs,
		Audit:     auditSvc,
		Limiter:   memory.NewRateLimiter(),
		Validator: validator,
		Policy:    testPolicyEngine(t),
	}, append([]Option{
		WithLogger(logger),
		WithAppInfo("toolgate-test", "1.2.3"),
	}, opts...)...)

	return &chainFixture{
		ts:         httptest.NewServer(srv.Handler()),
		srv:        srv,
		validator:  validator,
		invoker:    inv,
		jobs:       jobs,
		auditStore: auditStore,
	}
}

// teardown ends keepalive loops before the test server drains its in-flight
// handlers, then reaps the client's pooled connections so the leak check
// sees a quiet runtime.
func (fx *chainFixture) teardown() {
	_ = fx.srv.Close()
	fx.ts.Close()
	fx.ts.Client().CloseIdleConnections()
	fx.jobs.Stop()
}

func mintToken(t *testing.T, v *auth.Validator, userID string, roles ...string) string {
	t.Helper()
	token, err := v.Mint(auth.MintOptions{UserID: userID, Roles: roles})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func (fx *chainFixture) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, fx.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := fx.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func readJSONBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var v map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestRoutesRequireBearerAuth(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newChainFixture(t)
	defer fx.teardown()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/calculator/sse"},
		{http.MethodPost, "/calculator/sse"},
		{http.MethodPost, "/mcp/invoke"},
		{http.MethodGet, "/mcp/tools"},
		{http.MethodPost, "/mcp/jobs"},
		{http.MethodGet, "/mcp/jobs/j-1"},
		{http.MethodDelete, "/mcp/jobs"},
		{http.MethodGet, "/files/alice/report.txt"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			resp := fx.do(t, rt.method, rt.path, "", "")
			if resp.StatusCode != http.StatusUnauthorized {
				resp.Body.Close()
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID missing on rejected request")
			}
			body := readJSONBody(t, resp)
			if body["error"] != "InvalidTokenError" {
				t.Errorf("error = %v, want InvalidTokenError", body["error"])
			}
		})
	}
}

func TestFullChainInitialize(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newChainFixture(t)
	defer fx.teardown()
	token := mintToken(t, fx.validator, "alice", "developer")

	resp := fx.do(t, http.MethodPost, "/calculator/sse", token,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := readJSONBody(t, resp)

	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("no result object in %v", body)
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != "toolgate-test" || info["version"] != "1.2.3" {
		t.Errorf("serverInfo = %v, want the configured app info", info)
	}
}

func TestFullChainStreamEndpointFrame(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newChainFixture(t)
	defer fx.teardown()
	token := mintToken(t, fx.validator, "alice", "developer")

	req, err := http.NewRequest(http.MethodGet, fx.ts.URL+"/git/sse", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := fx.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	r := bufio.NewReader(resp.Body)
	event, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read event line: %v", err)
	}
	data, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read data line: %v", err)
	}
	if strings.TrimSpace(event) != "event: endpoint" {
		t.Errorf("event line = %q", event)
	}
	if want := "data: " + fx.ts.URL + "/git/sse"; strings.TrimSpace(data) != want {
		t.Errorf("data line = %q, want %q", data, want)
	}
}

func TestOperationalEndpointsOpen(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newChainFixture(t)
	defer fx.teardown()

	resp := fx.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}
	body := readJSONBody(t, resp)
	if body["status"] != "ok" {
		t.Errorf("/health status field = %v, want ok", body["status"])
	}
	if body["app"] != "toolgate-test" {
		t.Errorf("/health app = %v", body["app"])
	}

	resp = fx.do(t, http.MethodGet, "/favicon.ico", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("/favicon.ico status = %d, want 204", resp.StatusCode)
	}

	resp = fx.do(t, http.MethodGet, "/no/such/route", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpointExposesGatewaySeries(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newChainFixture(t)
	defer fx.teardown()
	token := mintToken(t, fx.validator, "alice", "developer")

	// One authed request so the request counter has a series to show.
	resp := fx.do(t, http.MethodPost, "/calculator/sse", token,
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = fx.do(t, http.MethodGet, "/metrics", "", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	text := string(raw)
	for _, series := range []string{
		"toolgate_requests_total",
		"toolgate_rate_limit_keys",
		"toolgate_audit_drops_total",
		"go_goroutines",
	} {
		if !strings.Contains(text, series) {
			t.Errorf("metrics output missing %s", series)
		}
	}
}

func TestAdminRoutesMountBesideScopedEndpoints(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newChainFixture(t, WithExtraRoutes(admin.NewHandler(memory.NewAuditStore(), discardLogger())))
	defer fx.teardown()

	adminToken := mintToken(t, fx.validator, "root", "admin")
	devToken := mintToken(t, fx.validator, "alice", "developer")

	resp := fx.do(t, http.MethodGet, "/admin/audit-logs", adminToken, "")
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("admin query status = %d, want 200", resp.StatusCode)
	}
	body := readJSONBody(t, resp)
	if _, ok := body["items"]; !ok {
		t.Errorf("page body missing items: %v", body)
	}

	resp = fx.do(t, http.MethodGet, "/admin/audit-logs", devToken, "")
	if resp.StatusCode != http.StatusForbidden {
		resp.Body.Close()
		t.Fatalf("non-admin status = %d, want 403", resp.StatusCode)
	}
	body = readJSONBody(t, resp)
	if body["error"] != "admin_required" {
		t.Errorf("error = %v, want admin_required", body["error"])
	}

	// The exact admin pattern coexists with GET /{scope}/sse. A POST on a
	// sibling path still resolves to the wildcard route and fails on the
	// unknown scope, not on routing.
	resp = fx.do(t, http.MethodPost, "/admin/sse", devToken,
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST /admin/sse status = %d, want 404 for the unknown scope", resp.StatusCode)
	}
}

func TestServerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := discardLogger()
	registry := service.NewRegistryService(memory.NewToolStore(), logger)
	inv := &stubInvoker{}
	jobs := service.NewJobService(memory.NewJobStore(), inv, logger)
	defer jobs.Stop()

	srv := NewServer(Services{
		Invoker:   inv,
		Registry:  registry,
		Jobs:      jobs,
		Limiter:   memory.NewRateLimiter(),
		Validator: auth.NewValidator(testJWTConfig()),
		Policy:    testPolicyEngine(t),
	}, WithLogger(logger), WithAddr("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v after cancel, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancel")
	}
}

func TestServerCloseBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := newServerFixture(t, &stubInvoker{})
	if err := fx.srv.Close(); err != nil {
		t.Fatalf("Close before Start = %v, want nil", err)
	}
}
