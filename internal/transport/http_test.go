package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quiltdata/quilt-mcp-server/internal/auth"
	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	quiltconfig "github.com/quiltdata/quilt-mcp-server/internal/config"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/protocol"
	"github.com/quiltdata/quilt-mcp-server/internal/tools"
	"github.com/quiltdata/quilt-mcp-server/pkg/health"
)

func newTestServer(requireJWT bool) *Server {
	resolved := &quiltconfig.Resolved{
		Deployment:     model.DeploymentLocal,
		Backend:        model.BackendDirect,
		Transport:      model.TransportHTTP,
		RequireJWT:     requireJWT,
		ServiceTimeout: 30,
	}
	verifier := auth.NewVerifier(auth.SecretSource{Secret: "test-secret"})
	reg := tools.NewRegistry()
	direct := &noopOps{}
	factory := backend.NewFactory(direct, direct)
	handler := tools.NewHandler(reg, factory, nil, http.DefaultClient, "", 30, nil, requireJWT)
	checker := health.NewChecker()
	checker.RunCheck("config", func() error { return nil })
	return NewServer(resolved, verifier, nil, handler, checker, nil)
}

func TestHandleHealthNeverRequiresAuth(t *testing.T) {
	s := newTestServer(true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("Status = %q", body.Status)
	}
}

func TestHandleMCPRequiresProtocolVersionHeader(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	w := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(w, req)

	var resp protocol.JSONRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil {
		t.Fatalf("expected a protocol-mismatch error without mcp-protocol-version")
	}
}

func TestHandleMCPPingRoundTrip(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	req.Header.Set("mcp-protocol-version", "2024-11-05")
	w := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(w, req)

	if w.Header().Get("mcp-session-id") == "" {
		t.Errorf("expected a generated mcp-session-id header")
	}
	var resp protocol.JSONRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestHandleMCPRejectsNonPostMethod(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestHandleMCPRequiresBearerWhenRequireJWT(t *testing.T) {
	s := newTestServer(true)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	req.Header.Set("mcp-protocol-version", "2024-11-05")
	w := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(w, req)

	var resp protocol.JSONRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil {
		t.Fatalf("expected an auth error when require_jwt is set and no bearer token is sent")
	}
}

func TestHandleMCPToolsListRoundTrip(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))
	req.Header.Set("mcp-protocol-version", "2024-11-05")
	w := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(w, req)

	var resp protocol.JSONRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestHandleStatusReportsChecks(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(w, req)

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	checks, ok := body["checks"].([]interface{})
	if !ok || len(checks) == 0 {
		t.Fatalf("expected at least one check in /status, got %v", body["checks"])
	}
}
