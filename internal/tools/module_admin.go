package tools

import (
	"context"

	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// callAdmin implements the admin surface (graphql backend only, spec
// §4.4.3). AdminAvailable() lets the sdk backend refuse cleanly with a
// fix_hint rather than every admin action separately checking.
func (h *Handler) callAdmin(ctx context.Context, rc *model.RequestContext, action string, args map[string]interface{}) (string, error) {
	ops, err := h.ops(rc)
	if err != nil {
		return "", err
	}
	if !ops.AdminAvailable(ctx, rc) {
		return "", toolerr.New(toolerr.KindMethodNotFound, "admin operations require the graphql backend").
			WithFixHint("retry with --backend graphql")
	}

	switch action {
	case "users_list":
		users, err := ops.AdminListUsers(ctx, rc)
		if err != nil {
			return "", err
		}
		return jsonText(users)

	case "roles_list":
		roles, err := ops.AdminListRoles(ctx, rc)
		if err != nil {
			return "", err
		}
		return jsonText(roles)

	case "policies_list":
		policies, err := ops.AdminListPolicies(ctx, rc)
		if err != nil {
			return "", err
		}
		return jsonText(policies)

	case "policies_create":
		if err := ops.AdminCreatePolicy(ctx, rc, policyArg(args)); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	case "policies_delete":
		if err := ops.AdminDeletePolicy(ctx, rc, stringArg(args, "name")); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	case "roles_create":
		if err := ops.AdminCreateRole(ctx, rc, roleArg(args)); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	case "roles_attach_policy":
		if err := ops.AdminAttachPolicy(ctx, rc, stringArg(args, "role"), stringArg(args, "policy")); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	case "roles_detach_policy":
		if err := ops.AdminDetachPolicy(ctx, rc, stringArg(args, "role"), stringArg(args, "policy")); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	case "sso_config_get":
		cfg, err := ops.AdminGetSSOConfig(ctx, rc)
		if err != nil {
			return "", err
		}
		return jsonText(cfg)

	case "sso_config_set":
		if err := ops.AdminSetSSOConfig(ctx, rc, backend.SSOConfig{Text: stringArg(args, "text")}); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	default:
		return "", unknownAction("admin", action)
	}
}

func policyArg(args map[string]interface{}) backend.Policy {
	p := backend.Policy{Name: stringArg(args, "name"), Managed: boolArg(args, "managed"), IAMArn: stringArg(args, "iam_arn")}
	raw, _ := args["permissions"].([]interface{})
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		p.Permissions = append(p.Permissions, backend.PolicyBucketPermission{Bucket: stringArg(m, "bucket"), Level: stringArg(m, "level")})
	}
	return p
}

func roleArg(args map[string]interface{}) backend.Role {
	return backend.Role{
		Name:     stringArg(args, "name"),
		Managed:  boolArg(args, "managed"),
		Policies: stringsArg(args, "policies"),
		IAMArn:   stringArg(args, "iam_arn"),
	}
}
