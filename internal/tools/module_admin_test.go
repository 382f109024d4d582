package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

type adminOps struct {
	fakeOps
	available bool
	policies  []backend.Policy
	created   backend.Policy
}

func (a *adminOps) AdminAvailable(ctx context.Context, rc *model.RequestContext) bool { return a.available }
func (a *adminOps) AdminListPolicies(ctx context.Context, rc *model.RequestContext) ([]backend.Policy, error) {
	return a.policies, nil
}
func (a *adminOps) AdminCreatePolicy(ctx context.Context, rc *model.RequestContext, p backend.Policy) error {
	a.created = p
	return nil
}

func TestCallAdminRefusesWhenUnavailable(t *testing.T) {
	h, rc := newTestHandler(&adminOps{available: false})
	_, err := h.callAdmin(context.Background(), rc, "users_list", nil)
	if err == nil {
		t.Fatalf("expected an error when the backend reports admin unavailable")
	}
	if toolerr.AsToolError(err).Kind != toolerr.KindMethodNotFound {
		t.Errorf("Kind = %s, want METHOD_NOT_FOUND", toolerr.AsToolError(err).Kind)
	}
}

func TestCallAdminListsPolicies(t *testing.T) {
	ops := &adminOps{available: true, policies: []backend.Policy{{Name: "readonly"}}}
	h, rc := newTestHandler(ops)
	text, err := h.callAdmin(context.Background(), rc, "policies_list", nil)
	if err != nil {
		t.Fatalf("callAdmin(policies_list): %v", err)
	}
	var policies []backend.Policy
	if err := json.Unmarshal([]byte(text), &policies); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "readonly" {
		t.Errorf("policies = %+v", policies)
	}
}

func TestCallAdminCreatePolicyBuildsPermissions(t *testing.T) {
	ops := &adminOps{available: true}
	h, rc := newTestHandler(ops)
	args := map[string]interface{}{
		"name":    "custom",
		"managed": true,
		"permissions": []interface{}{
			map[string]interface{}{"bucket": "b1", "level": "READ"},
		},
	}
	_, err := h.callAdmin(context.Background(), rc, "policies_create", args)
	if err != nil {
		t.Fatalf("callAdmin(policies_create): %v", err)
	}
	if ops.created.Name != "custom" || !ops.created.Managed {
		t.Errorf("created = %+v", ops.created)
	}
	if len(ops.created.Permissions) != 1 || ops.created.Permissions[0].Bucket != "b1" {
		t.Errorf("permissions = %+v", ops.created.Permissions)
	}
}

func TestCallAdminUnknownActionRejected(t *testing.T) {
	ops := &adminOps{available: true}
	h, rc := newTestHandler(ops)
	_, err := h.callAdmin(context.Background(), rc, "bogus", nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown admin action")
	}
}
