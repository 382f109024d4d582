package tools

import (
	"context"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

func (h *Handler) callAuth(ctx context.Context, rc *model.RequestContext, action string, args map[string]interface{}) (string, error) {
	switch action {
	case "status":
		ops, err := h.ops(rc)
		if err != nil {
			return "", err
		}
		status, err := ops.AuthStatus(ctx, rc)
		if err != nil {
			return "", err
		}
		return jsonText(status)
	case "logout":
		if h.Exchanger != nil {
			h.Exchanger.Logout()
		}
		return jsonText(map[string]bool{"ok": true})
	default:
		return "", unknownAction("auth", action)
	}
}
