package tools

import (
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// callWorkflow implements the legacy-mode, in-memory-only workflow
// bookkeeping of spec §3/§9 open question 3: a guarded map, lost on
// restart, deliberately non-durable.
func (h *Handler) callWorkflow(action string, args map[string]interface{}) (string, error) {
	switch action {
	case "start":
		h.mu.Lock()
		defer h.mu.Unlock()
		rec := &model.WorkflowRecord{
			ID:     newWorkflowID(),
			Name:   stringArg(args, "name"),
			Steps:  stringsArg(args, "steps"),
			Status: model.WorkflowQueued,
		}
		h.workflows[rec.ID] = rec
		return jsonText(rec)

	case "status":
		h.mu.Lock()
		rec, ok := h.workflows[stringArg(args, "id")]
		h.mu.Unlock()
		if !ok {
			return "", toolerr.New(toolerr.KindNotFound, "unknown workflow id")
		}
		return jsonText(rec)

	default:
		return "", unknownAction("workflow", action)
	}
}
