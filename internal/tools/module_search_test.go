package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

type searchCapturingOps struct {
	fakeOps
	lastQuery model.SearchQuery
}

func (s *searchCapturingOps) Search(ctx context.Context, rc *model.RequestContext, q model.SearchQuery) ([]model.SearchHit, error) {
	s.lastQuery = q
	return []model.SearchHit{{Kind: model.SearchHitPackage, Name: "team/pkg"}}, nil
}

func TestCallSearchDefaultsScopeAndType(t *testing.T) {
	ops := &searchCapturingOps{}
	h, rc := newTestHandler(ops)
	text, err := h.callSearch(context.Background(), rc, "query", map[string]interface{}{"text": "genome"})
	if err != nil {
		t.Fatalf("callSearch: %v", err)
	}
	if ops.lastQuery.Scope != model.SearchScopeGlobal {
		t.Errorf("Scope = %s, want global default", ops.lastQuery.Scope)
	}
	if ops.lastQuery.Type != model.SearchTypeBoth {
		t.Errorf("Type = %s, want both default", ops.lastQuery.Type)
	}
	var hits []model.SearchHit
	if err := json.Unmarshal([]byte(text), &hits); err != nil {
		t.Fatalf("unmarshal hits: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d", len(hits))
	}
}

func TestCallSearchUnknownActionRejected(t *testing.T) {
	h, rc := newTestHandler(&fakeOps{})
	_, err := h.callSearch(context.Background(), rc, "bogus", nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown search action")
	}
}
