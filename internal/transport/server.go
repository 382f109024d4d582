// Package transport implements the session loop (C1): stdio
// strictly-serial framing and an HTTP/SSE handler, method dispatch for
// initialize/tools/resources/ping, health and diagnostic routes, and
// mcp-session-id/mcp-protocol-version header handling. Grounded on
// services/mcpserver/internal/protocol/handler.go's method-routing shape
// and internal/engine/engine.go's mcpHTTPHandler, generalized from a
// DB-backed per-tenant server to one static process-lifetime session loop.
package transport

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/quiltdata/quilt-mcp-server/internal/auth"
	quiltconfig "github.com/quiltdata/quilt-mcp-server/internal/config"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/protocol"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
	"github.com/quiltdata/quilt-mcp-server/internal/tools"
	"github.com/quiltdata/quilt-mcp-server/pkg/health"
	"github.com/quiltdata/quilt-mcp-server/pkg/logger"
)

const (
	mcpProtocolVersion = "2024-11-05"
	serverName         = "quilt-mcp-server"
	serverVersion      = "0.1.0"
)

// Server wires the auth plane, tool dispatcher, and resolved
// configuration into both transport framings.
type Server struct {
	Resolved  *quiltconfig.Resolved
	Verifier  *auth.Verifier
	Exchanger *auth.CredentialExchanger
	Tools     *tools.Handler
	Health    *health.Checker
	Log       *logger.Logger

	initialized bool
}

func NewServer(resolved *quiltconfig.Resolved, verifier *auth.Verifier, exchanger *auth.CredentialExchanger, toolHandler *tools.Handler, healthChecker *health.Checker, log *logger.Logger) *Server {
	return &Server{
		Resolved:  resolved,
		Verifier:  verifier,
		Exchanger: exchanger,
		Tools:     toolHandler,
		Health:    healthChecker,
		Log:       log,
	}
}

// buildRequestContext extracts the bearer token (if any), verifies it,
// exchanges AWS credentials, and assembles the immutable RequestContext
// consumed by C4/C9 (spec §3).
func (s *Server) buildRequestContext(ctx context.Context, authHeader string) (*model.RequestContext, string, *toolerr.Error) {
	rc := model.NewRequestContext(ctx, uuid.NewString(), s.Resolved.Deployment, s.Resolved.Backend, s.Resolved.CatalogURL, s.Resolved.RegistryURL)

	rawToken, hasToken := auth.ExtractBearer(authHeader)
	if !hasToken {
		if s.Resolved.RequireJWT {
			return nil, "", toolerr.New(toolerr.KindAuthNoCredentials, "a bearer token is required").
				WithFixHint("set the authorization header to \"Bearer <jwt>\"")
		}
		return rc, "", nil
	}

	claims, err := s.Verifier.Verify(rawToken)
	if err != nil {
		s.logf("warn", "request %s: token verification failed: %v", rc.RequestID, err)
		return nil, "", toolerr.AsToolError(err)
	}
	rc = rc.WithClaims(claims)

	if s.Exchanger != nil {
		bundle, err := s.Exchanger.Exchange(ctx, rc, rawToken)
		if err != nil {
			s.logf("warn", "request %s: credential exchange failed for subject %s: %v", rc.RequestID, claims.Subject, err)
			return nil, "", toolerr.AsToolError(err)
		}
		rc = rc.WithCredentials(bundle)
	}
	return rc, rawToken, nil
}

// dispatchMethod routes one JSON-RPC method, uniformly across both
// transports. "initialize" marks the session initialized; no method is
// refused for arriving before it.
func (s *Server) dispatchMethod(ctx context.Context, rc *model.RequestContext, method string, params json.RawMessage) (interface{}, *protocol.RPCError) {
	if method == "initialize" {
		var req protocol.InitializeRequest
		_ = json.Unmarshal(params, &req)
		s.initialized = true
		s.logf("debug", "session initialized by client %s/%s", req.ClientInfo.Name, req.ClientInfo.Version)
		return protocol.InitializeResult{
			ProtocolVersion: mcpProtocolVersion,
			Capabilities: protocol.ServerCapabilities{
				Tools:     &protocol.ToolsCapability{ListChanged: false},
				Resources: &protocol.ResourcesCapability{Subscribe: false, ListChanged: false},
			},
			ServerInfo: protocol.ServerInfo{Name: serverName, Version: serverVersion},
		}, nil
	}
	if method == "initialized" || method == "notifications/initialized" {
		return nil, nil
	}
	if method == "ping" {
		return protocol.PingResult{Status: "ok"}, nil
	}

	switch method {
	case "tools/list":
		return s.Tools.List(false), nil
	case "tools/call":
		var req protocol.CallToolRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &protocol.RPCError{Code: protocol.InvalidParams, Message: "invalid tools/call params"}
		}
		result, toolErr := s.Tools.Call(ctx, rc, req)
		if toolErr != nil {
			return result, protocol.FromToolError(toolErr)
		}
		return result, nil
	case "resources/list":
		return protocol.ListResourcesResult{Resources: []protocol.Resource{}}, nil
	case "resources/read":
		var req protocol.ReadResourceRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &protocol.RPCError{Code: protocol.InvalidParams, Message: "invalid resources/read params"}
		}
		return nil, &protocol.RPCError{Code: protocol.InvalidParams, Message: "no resources are exposed by this server"}
	default:
		s.logf("error", "request %s: unknown method %q", rc.RequestID, method)
		te := toolerr.New(toolerr.KindMethodNotFound, "unknown method: "+method)
		return nil, protocol.FromToolError(te)
	}
}

// logf writes through Server.Log when one is configured; stdio tests and
// the http_test fixtures construct a Server without one.
func (s *Server) logf(level string, format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	switch level {
	case "warn":
		s.Log.Warnf(format, args...)
	case "error":
		s.Log.Errorf(format, args...)
	default:
		s.Log.Debugf(format, args...)
	}
}

func protocolMismatch(message string) *protocol.RPCError {
	te := toolerr.New(toolerr.KindProtocolMismatch, message).
		WithFixHint("set the mcp-protocol-version header on every HTTP request")
	return protocol.FromToolError(te)
}
