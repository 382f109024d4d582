package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/quiltdata/quilt-mcp-server/internal/auth"
	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	dps3 "github.com/quiltdata/quilt-mcp-server/internal/dataplane/s3"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/protocol"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
	"github.com/quiltdata/quilt-mcp-server/pkg/logger"
)

// Handler is the dispatch boundary (C9): resolves the per-request
// QuiltOps implementation, validates arguments against the tool's
// schema, invokes the action, and guarantees every outcome is a
// CallToolResult — never a panic, per spec §7 "The dispatcher (C9)
// catches any unmapped error ... and converts it into INTERNAL".
// Grounded on services/mcpserver/internal/tools/handler.go's
// List/Call shape.
type Handler struct {
	Registry    *Registry
	Factory     *backend.Factory
	Exchanger   *auth.CredentialExchanger
	S3Options   dps3.ClientOptions
	HTTPClient  *http.Client
	CatalogURL  string
	ServiceTimeout time.Duration
	Log         *logger.Logger
	RequireJWT  bool

	mu        sync.Mutex
	workflows map[string]*model.WorkflowRecord
}

func NewHandler(reg *Registry, factory *backend.Factory, exchanger *auth.CredentialExchanger, httpClient *http.Client, catalogURL string, serviceTimeout time.Duration, log *logger.Logger, requireJWT bool) *Handler {
	return &Handler{
		Registry:       reg,
		Factory:        factory,
		Exchanger:      exchanger,
		HTTPClient:     httpClient,
		CatalogURL:     catalogURL,
		ServiceTimeout: serviceTimeout,
		Log:            log,
		RequireJWT:     requireJWT,
		workflows:      map[string]*model.WorkflowRecord{},
	}
}

// List implements tools/list; advanced/internal descriptors are hidden
// unless includeAdvanced is set (spec §6).
func (h *Handler) List(includeAdvanced bool) protocol.ListToolsResult {
	descs := h.Registry.List(includeAdvanced)
	out := make([]protocol.Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, protocol.Tool{Name: d.Name(), Description: d.Description, InputSchema: d.Schema})
	}
	return protocol.ListToolsResult{Tools: out}
}

// Call dispatches one tools/call request. It never panics: a recovered
// panic is converted into KindInternal before this function returns.
func (h *Handler) Call(ctx context.Context, rc *model.RequestContext, req protocol.CallToolRequest) (result protocol.CallToolResult, toolErr *toolerr.Error) {
	callLog := h.requestLog(rc, req.Name)
	defer func() {
		if r := recover(); r != nil {
			toolErr = toolerr.New(toolerr.KindInternal, fmt.Sprintf("tool action panicked: %v", r))
			result = errorResult(toolErr)
		}
		if toolErr != nil {
			callLog.Error(string(toolErr.Kind) + ": " + toolErr.Message)
		} else {
			callLog.Info("ok")
		}
	}()

	desc, ok := h.Registry.Lookup(req.Name)
	if !ok {
		te := toolerr.New(toolerr.KindMethodNotFound, "unknown tool: "+req.Name).
			WithFixHint("call tools/list to discover available tool names")
		return errorResult(te), te
	}

	if desc.RequireJWT && rc.Claims == nil {
		te := toolerr.New(toolerr.KindAuthNoCredentials, "this tool requires a verified bearer token")
		return errorResult(te), te
	}

	schema, ok := desc.Schema.(ParamSchema)
	if !ok {
		te := toolerr.New(toolerr.KindInternal, "tool descriptor has no validator schema")
		return errorResult(te), te
	}
	args, verr := schema.Validate(req.Arguments)
	if verr != nil {
		te := toolerr.AsToolError(verr)
		return errorResult(te), te
	}

	callCtx, cancel := dps3.Deadline(rc.Context(), h.ServiceTimeout)
	defer cancel()

	text, err := h.dispatch(callCtx, rc, desc, args)
	if err != nil {
		te := toolerr.AsToolError(err)
		return errorResult(te), te
	}
	return protocol.CallToolResult{Content: []protocol.ToolContent{{Type: "text", Text: text}}}, nil
}

func errorResult(te *toolerr.Error) protocol.CallToolResult {
	return protocol.CallToolResult{
		Content: []protocol.ToolContent{{Type: "text", Text: te.Error()}},
		IsError: true,
	}
}

func jsonText(v interface{}) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindInternal, "encoding tool result", err)
	}
	return string(b), nil
}

// dispatch routes a validated call to its module implementation.
func (h *Handler) dispatch(ctx context.Context, rc *model.RequestContext, desc model.ToolDescriptor, args map[string]interface{}) (string, error) {
	switch desc.Module {
	case "auth":
		return h.callAuth(ctx, rc, desc.Action, args)
	case "buckets":
		return h.callBuckets(ctx, rc, desc.Action, args)
	case "packaging":
		return h.callPackaging(ctx, rc, desc.Action, args)
	case "search":
		return h.callSearch(ctx, rc, desc.Action, args)
	case "tabulator":
		return h.callTabulator(ctx, rc, desc.Action, args)
	case "admin":
		return h.callAdmin(ctx, rc, desc.Action, args)
	case "workflow":
		if rc.Deployment != model.DeploymentLegacy {
			return "", toolerr.New(toolerr.KindMethodNotFound, "workflow tools are available only in legacy deployment mode")
		}
		return h.callWorkflow(desc.Action, args)
	default:
		return "", toolerr.New(toolerr.KindMethodNotFound, "unknown tool module: "+desc.Module)
	}
}

// requestLog returns a logger.LogContext carrying the request id and tool
// name; Handler.Log is nil in tests that exercise dispatch directly, so
// nilLog absorbs calls rather than forcing every test to construct one.
func (h *Handler) requestLog(rc *model.RequestContext, tool string) requestLogger {
	if h.Log == nil {
		return nilLog{}
	}
	return h.Log.WithFields(map[string]string{"request_id": rc.RequestID, "tool": tool})
}

type requestLogger interface {
	Info(string)
	Error(string)
}

type nilLog struct{}

func (nilLog) Info(string)  {}
func (nilLog) Error(string) {}

func (h *Handler) ops(rc *model.RequestContext) (backend.QuiltOps, error) {
	return h.Factory.For(rc)
}

func (h *Handler) s3Client(ctx context.Context, rc *model.RequestContext) (*awss3.Client, error) {
	return dps3.NewClient(ctx, rc.Credentials, h.S3Options)
}

func newWorkflowID() string { return uuid.NewString() }

func unknownAction(module, action string) error {
	return toolerr.New(toolerr.KindMethodNotFound, fmt.Sprintf("unknown action %s_%s", module, action))
}
