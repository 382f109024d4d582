package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quiltdata/quilt-mcp-server/internal/protocol"
)

// HTTPHandler builds the full HTTP mux: /mcp (JSON-RPC over POST),
// /health, /healthz, / (backend-independent health, spec §6), and the
// supplemental /status diagnostic route (SPEC_FULL.md §6). /mcp/* is
// reserved and never used for health, per spec.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

type healthResponse struct {
	Status    string `json:"status"`
	Route     string `json:"route"`
	Transport string `json:"transport"`
	Version   string `json:"version"`
}

// handleHealth never touches a downstream backend (spec §6: "Never
// authenticated" and independent of catalog/S3/Athena reachability).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/mcp/") {
		http.NotFound(w, r)
		return
	}
	status := "healthy"
	if s.Health != nil {
		status = s.Health.GetOverallStatus().String()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Route:     r.URL.Path,
		Transport: string(s.Resolved.Transport),
		Version:   serverVersion,
	})
}

// handleStatus is the supplemental diagnostic route (SPEC_FULL.md §6):
// per-check detail plus the resolved deployment posture, still without
// touching any downstream backend on the request path.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type checkView struct {
		Name    string `json:"name"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	var checks []checkView
	var lastHealthy time.Time
	if s.Health != nil {
		for _, c := range s.Health.GetAllChecks() {
			checks = append(checks, checkView{Name: c.Name, Status: c.Status.String(), Message: c.Message})
		}
		lastHealthy = s.Health.GetLastHealthyTime()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment":   s.Resolved.Deployment,
		"backend":      s.Resolved.Backend,
		"transport":    s.Resolved.Transport,
		"require_jwt":  s.Resolved.RequireJWT,
		"checks":       checks,
		"last_healthy": lastHealthy,
	})
}

// handleMCP is the JSON-RPC entrypoint. Required header:
// mcp-protocol-version. Optional: mcp-session-id (generated and echoed
// back if absent), authorization: Bearer <jwt>.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Header.Get("mcp-protocol-version") == "" {
		writeError(w, nil, protocolMismatch("missing required header mcp-protocol-version"))
		return
	}

	sessionID := r.Header.Get("mcp-session-id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set("mcp-session-id", sessionID)
	w.Header().Set("mcp-protocol-version", mcpProtocolVersion)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, nil, &protocol.RPCError{Code: protocol.ParseError, Message: "failed to read request body"})
		return
	}
	defer r.Body.Close()

	var req protocol.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, &protocol.RPCError{Code: protocol.ParseError, Message: "invalid JSON"})
		return
	}
	if req.JSONRPC != protocol.JSONRPCVersion {
		writeError(w, req.ID, &protocol.RPCError{Code: protocol.InvalidRequest, Message: "jsonrpc must be \"2.0\""})
		return
	}

	// Cancellation follows the client's request lifetime (spec §5): when
	// the client disconnects, r.Context() is cancelled and dataplane
	// calls made through it abort at their next suspension point.
	ctx, cancel := timeoutFromServiceTimeout(r, s.Resolved.ServiceTimeout)
	defer cancel()

	rc, _, authErr := s.buildRequestContext(ctx, r.Header.Get("authorization"))
	if authErr != nil {
		writeError(w, req.ID, protocol.FromToolError(authErr))
		return
	}

	result, rpcErr := s.dispatchMethod(ctx, rc, req.Method, req.Params)
	if rpcErr != nil {
		writeError(w, req.ID, rpcErr)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JSONRPCResponse{JSONRPC: protocol.JSONRPCVersion, ID: req.ID, Result: result})
}

func timeoutFromServiceTimeout(r *http.Request, seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		seconds = 60
	}
	return context.WithTimeout(r.Context(), time.Duration(seconds)*time.Second)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, id interface{}, rpcErr *protocol.RPCError) {
	writeJSON(w, http.StatusOK, protocol.JSONRPCResponse{JSONRPC: protocol.JSONRPCVersion, ID: id, Error: rpcErr})
}
