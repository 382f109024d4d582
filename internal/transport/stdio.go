package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/quiltdata/quilt-mcp-server/internal/protocol"
)

// RunStdio implements the strictly-serial stdio session loop (spec §4.1,
// §5 "Ordering: responses are emitted in arrival order for stdio"): one
// JSON-RPC object per line on stdin, one response object per line on
// stdout. There is no bearer token on stdio; deployment/backend/auth
// posture come entirely from the resolved configuration.
func (s *Server) RunStdio(ctx context.Context) error {
	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for reader.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeStdioError(writer, nil, &protocol.RPCError{Code: protocol.ParseError, Message: "invalid JSON"})
			continue
		}
		if req.JSONRPC != protocol.JSONRPCVersion {
			s.writeStdioError(writer, req.ID, &protocol.RPCError{Code: protocol.InvalidRequest, Message: "jsonrpc must be \"2.0\""})
			continue
		}

		rc, _, authErr := s.buildRequestContext(ctx, "")
		if authErr != nil {
			s.writeStdioError(writer, req.ID, protocol.FromToolError(authErr))
			continue
		}

		result, rpcErr := s.dispatchMethod(ctx, rc, req.Method, req.Params)
		if rpcErr != nil {
			s.writeStdioError(writer, req.ID, rpcErr)
			continue
		}
		if result == nil && req.ID == nil {
			continue // notification, no response expected
		}
		s.writeStdioResult(writer, req.ID, result)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (s *Server) writeStdioResult(w *bufio.Writer, id interface{}, result interface{}) {
	resp := protocol.JSONRPCResponse{JSONRPC: protocol.JSONRPCVersion, ID: id, Result: result}
	s.writeStdioLine(w, resp)
}

func (s *Server) writeStdioError(w *bufio.Writer, id interface{}, rpcErr *protocol.RPCError) {
	resp := protocol.JSONRPCResponse{JSONRPC: protocol.JSONRPCVersion, ID: id, Error: rpcErr}
	s.writeStdioLine(w, resp)
}

func (s *Server) writeStdioLine(w *bufio.Writer, resp protocol.JSONRPCResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		if s.Log != nil {
			s.Log.Errorf("encoding stdio response: %v", err)
		}
		return
	}
	w.Write(b)
	w.WriteByte('\n')
	w.Flush()
}
