package tools

import (
	"context"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/search"
)

func (h *Handler) callSearch(ctx context.Context, rc *model.RequestContext, action string, args map[string]interface{}) (string, error) {
	if action != "query" {
		return "", unknownAction("search", action)
	}

	ops, err := h.ops(rc)
	if err != nil {
		return "", err
	}

	q := model.SearchQuery{
		Text:    stringArg(args, "text"),
		Scope:   model.SearchScope(orDefault(stringArg(args, "scope"), string(model.SearchScopeGlobal))),
		Buckets: search.NormalizeBuckets(stringArg(args, "bucket"), stringsArg(args, "buckets")),
		Type:    model.SearchResultType(orDefault(stringArg(args, "type"), string(model.SearchTypeBoth))),
		Limit:   intArg(args, "limit", 20),
	}

	hits, err := ops.Search(ctx, rc, q)
	if err != nil {
		return "", err
	}
	return jsonText(hits)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
