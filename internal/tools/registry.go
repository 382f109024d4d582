// Package tools implements the tool-module dispatch surface (C9):
// module_action naming, parameter-schema validation, panic-recovery at
// the dispatch boundary, and the fixed exclusion list that disables a
// subset of registered descriptors. Grounded on
// services/mcpserver/internal/tools/handler.go's List/Call shape,
// generalized from a database-backed tool table to a static in-process
// registry (spec §5: "Tool registry | Process | Init once | Immutable
// after startup").
package tools

import (
	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

func obj(props map[string]PropSchema, required ...string) ParamSchema {
	return ParamSchema{Type: "object", Properties: props, Required: required}
}

// descriptors is the full, fixed set of tool descriptors. A subset is
// disabled via excludedActions before registration (spec §3
// ToolDescriptor: "a fixed subset is disabled via an exclusion list").
var descriptors = []model.ToolDescriptor{
	{Module: "auth", Action: "status", Description: "Report login state, catalog, and registry for the current session.",
		Schema: obj(nil), Effect: model.EffectRead},
	{Module: "auth", Action: "logout", Description: "Clear any cached AWS credentials for the current subject.",
		Schema: obj(nil), Effect: model.EffectUpdate},

	{Module: "buckets", Action: "list", Description: "List S3 buckets the current catalog exposes, with read/write flags.",
		Schema: obj(nil), Effect: model.EffectRead},
	{Module: "buckets", Action: "objects_list", Description: "List objects under a bucket/prefix.",
		Schema: obj(map[string]PropSchema{
			"bucket": {Type: "string"}, "prefix": {Type: "string"}, "continuation_token": {Type: "string"}, "max_keys": {Type: "integer"},
		}, "bucket"), Effect: model.EffectRead},
	{Module: "buckets", Action: "objects_get", Description: "Fetch an object's contents as text or base64 bytes.",
		Schema: obj(map[string]PropSchema{
			"bucket": {Type: "string"}, "key": {Type: "string"}, "version_id": {Type: "string"}, "as_text": {Type: "boolean"},
		}, "bucket", "key"), Effect: model.EffectRead},
	{Module: "buckets", Action: "objects_put", Description: "Write one or more objects to a bucket.",
		Schema: obj(map[string]PropSchema{
			"bucket": {Type: "string"}, "items": {Type: "array"},
		}, "bucket", "items"), Effect: model.EffectCreate},
	{Module: "buckets", Action: "objects_presign", Description: "Generate a presigned GET or PUT URL for an object.",
		Schema: obj(map[string]PropSchema{
			"bucket": {Type: "string"}, "key": {Type: "string"}, "method": {Type: "string"}, "ttl_seconds": {Type: "integer"},
		}, "bucket", "key", "method"), Effect: model.EffectRead},

	{Module: "packaging", Action: "list", Description: "List packages in a registry, optionally by name prefix.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "prefix": {Type: "string"}, "cursor": {Type: "string"}, "limit": {Type: "integer"},
		}, "registry"), Effect: model.EffectRead},
	{Module: "packaging", Action: "browse", Description: "Browse a package revision's manifest.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "top_hash": {Type: "string"},
		}, "registry", "name"), Effect: model.EffectRead},
	{Module: "packaging", Action: "versions_list", Description: "List a package's revisions, newest first.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "limit": {Type: "integer"}, "with_tags": {Type: "boolean"},
		}, "registry", "name"), Effect: model.EffectRead},
	{Module: "packaging", Action: "manifest", Description: "Fetch a specific package revision's manifest by top_hash.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "top_hash": {Type: "string"},
		}, "registry", "name", "top_hash"), Effect: model.EffectRead},
	{Module: "packaging", Action: "create", Description: "Create a new package revision.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "entries": {Type: "array"},
			"metadata": {Type: "object"}, "copy_mode": {Type: "string"},
		}, "registry", "name", "entries"), Effect: model.EffectCreate},
	{Module: "packaging", Action: "update", Description: "Create a new revision merged with the prior revision's entries by logical path.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "entries": {Type: "array"},
			"metadata": {Type: "object"}, "copy_mode": {Type: "string"},
		}, "registry", "name", "entries"), Effect: model.EffectUpdate},
	{Module: "packaging", Action: "delete", Description: "Delete a package revision, or, if top_hash is omitted, remove all of the package's tags (revisions stay reachable by top_hash).",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "top_hash": {Type: "string"},
		}, "registry", "name"), Effect: model.EffectRemove},
	{Module: "packaging", Action: "tags_list", Description: "List a package's tag → top_hash map.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"},
		}, "registry", "name"), Effect: model.EffectRead},
	{Module: "packaging", Action: "tags_add", Description: "Point a tag at a top_hash.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "tag": {Type: "string"}, "top_hash": {Type: "string"},
		}, "registry", "name", "tag", "top_hash"), Effect: model.EffectUpdate},
	{Module: "packaging", Action: "tags_delete", Description: "Remove a tag.",
		Schema: obj(map[string]PropSchema{
			"registry": {Type: "string"}, "name": {Type: "string"}, "tag": {Type: "string"},
		}, "registry", "name", "tag"), Effect: model.EffectRemove},

	{Module: "search", Action: "query", Description: "Search packages and objects across the configured backends.",
		Schema: obj(map[string]PropSchema{
			"text": {Type: "string"}, "scope": {Type: "string"}, "bucket": {Type: "string"}, "buckets": {Type: "array"},
			"type": {Type: "string"}, "limit": {Type: "integer"},
		}, "text"), Effect: model.EffectRead},

	{Module: "tabulator", Action: "query", Description: "Run a SQL query against the catalog's tabulator database via Athena.",
		Schema: obj(map[string]PropSchema{
			"sql": {Type: "string"}, "workgroup": {Type: "string"}, "catalog": {Type: "string"},
		}, "sql"), Effect: model.EffectRead},
	{Module: "tabulator", Action: "query_database", Description: "Run a SQL query against an explicit Athena catalog/schema (no tabulator resolution). [ADVANCED]",
		Schema: obj(map[string]PropSchema{
			"sql": {Type: "string"}, "workgroup": {Type: "string"}, "catalog": {Type: "string"}, "schema": {Type: "string"},
		}, "sql", "schema"), Effect: model.EffectRead, Advanced: true},

	{Module: "admin", Action: "users_list", Description: "List catalog users. [ADVANCED]",
		Schema: obj(nil), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "roles_list", Description: "List catalog roles. [ADVANCED]",
		Schema: obj(nil), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "policies_list", Description: "List catalog policies. [ADVANCED]",
		Schema: obj(nil), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "policies_create", Description: "Create a managed or unmanaged policy. [ADVANCED]",
		Schema: obj(map[string]PropSchema{
			"name": {Type: "string"}, "managed": {Type: "boolean"}, "permissions": {Type: "array"}, "iam_arn": {Type: "string"},
		}, "name"), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "policies_delete", Description: "Delete a policy; refused with IN_USE if attached to a role. [ADVANCED]",
		Schema: obj(map[string]PropSchema{"name": {Type: "string"}}, "name"), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "roles_create", Description: "Create a managed or unmanaged role. [ADVANCED]",
		Schema: obj(map[string]PropSchema{
			"name": {Type: "string"}, "managed": {Type: "boolean"}, "policies": {Type: "array"}, "iam_arn": {Type: "string"},
		}, "name"), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "roles_attach_policy", Description: "Attach a policy to a role. [ADVANCED]",
		Schema: obj(map[string]PropSchema{"role": {Type: "string"}, "policy": {Type: "string"}}, "role", "policy"),
		Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "roles_detach_policy", Description: "Detach a policy from a role. [ADVANCED]",
		Schema: obj(map[string]PropSchema{"role": {Type: "string"}, "policy": {Type: "string"}}, "role", "policy"),
		Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "sso_config_get", Description: "Fetch the catalog's SSO configuration document. [ADVANCED]",
		Schema: obj(nil), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},
	{Module: "admin", Action: "sso_config_set", Description: "Replace the catalog's SSO configuration document. [ADVANCED]",
		Schema: obj(map[string]PropSchema{"text": {Type: "string"}}, "text"), Effect: model.EffectAdmin, Advanced: true, RequireJWT: true},

	{Module: "workflow", Action: "start", Description: "Start an in-memory, non-durable workflow record (legacy mode only). [INTERNAL]",
		Schema: obj(map[string]PropSchema{"name": {Type: "string"}, "steps": {Type: "array"}}, "name", "steps"),
		Effect: model.EffectCreate, Advanced: true},
	{Module: "workflow", Action: "status", Description: "Report a workflow record's status. [INTERNAL]",
		Schema: obj(map[string]PropSchema{"id": {Type: "string"}}, "id"), Effect: model.EffectRead, Advanced: true},
}

// excludedActions disables a fixed subset at registration time, per
// spec §3. It is empty, so every descriptor above is registered enabled,
// tabulator_query_database included (it runs the query against the
// explicit schema). The REST-ish tabulator variant of open question 1
// (DESIGN.md decision 1) has no descriptor; an unknown tabulator action
// returns METHOD_NOT_FOUND with a fix_hint from callTabulator.
var excludedActions = map[string]struct{}{}

// Registry holds the immutable, process-lifetime tool set.
type Registry struct {
	byName map[string]model.ToolDescriptor
	order  []string
}

func NewRegistry() *Registry {
	r := &Registry{byName: map[string]model.ToolDescriptor{}}
	for _, d := range descriptors {
		name := d.Name()
		if _, excluded := excludedActions[name]; excluded {
			d.Disabled = true
		}
		r.byName[name] = d
		r.order = append(r.order, name)
	}
	return r
}

func (r *Registry) Lookup(name string) (model.ToolDescriptor, bool) {
	d, ok := r.byName[name]
	if !ok || d.Disabled {
		return model.ToolDescriptor{}, false
	}
	return d, true
}

// List returns every enabled, non-[ADVANCED]/[INTERNAL] descriptor in
// registration order, per spec §6: advanced/internal tools are accepted
// at call time but not advertised by default.
func (r *Registry) List(includeAdvanced bool) []model.ToolDescriptor {
	out := make([]model.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.byName[name]
		if d.Disabled {
			continue
		}
		if d.Advanced && !includeAdvanced {
			continue
		}
		out = append(out, d)
	}
	return out
}
