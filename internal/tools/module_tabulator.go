package tools

import (
	"context"

	dpathena "github.com/quiltdata/quilt-mcp-server/internal/dataplane/athena"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// callTabulator implements the Athena/tabulator surface. Open question 1
// (DESIGN.md decision 1): only the GraphQL-lifecycle "query" action is
// implemented end to end; "query_database" resolves the workgroup and
// runs the query against an explicit catalog/schema without touching
// the tabulator config.json discovery step.
func (h *Handler) callTabulator(ctx context.Context, rc *model.RequestContext, action string, args map[string]interface{}) (string, error) {
	client, err := dpathena.NewClient(ctx, rc.Credentials, "")
	if err != nil {
		return "", err
	}

	switch action {
	case "query":
		workgroup, err := dpathena.ResolveWorkgroup(ctx, client, stringArg(args, "workgroup"), "")
		if err != nil {
			return "", err
		}
		result, err := dpathena.TabulatorQuery(ctx, client, h.HTTPClient, rc.CatalogURL, stringArg(args, "sql"), workgroup, stringArg(args, "catalog"))
		if err != nil {
			return "", err
		}
		return jsonText(result)

	case "query_database":
		workgroup, err := dpathena.ResolveWorkgroup(ctx, client, stringArg(args, "workgroup"), "")
		if err != nil {
			return "", err
		}
		result, err := dpathena.Execute(ctx, client, model.AthenaQuery{
			SQL: stringArg(args, "sql"), Workgroup: workgroup,
			Catalog: stringArg(args, "catalog"), Schema: stringArg(args, "schema"),
		})
		if err != nil {
			return "", err
		}
		return jsonText(result)

	default:
		return "", toolerr.New(toolerr.KindMethodNotFound, "unknown tabulator action: "+action).
			WithFixHint("use tabulator_query for the standard tabulator database, or tabulator_query_database with an explicit schema")
	}
}
