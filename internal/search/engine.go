package search

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	opensearchapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quiltdata/quilt-mcp-server/internal/dataplane/s3"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// backendWeight is the fixed cross-backend score normalization weight
// of spec §4.6.
var backendWeight = map[string]float64{
	"elasticsearch": 1.0,
	"graphql":       0.9,
	"s3":            0.6,
}

const perBackendTimeout = 8 * time.Second

// Engine fans a SearchQuery out to Elasticsearch/OpenSearch, the
// catalog's GraphQL endpoint, and S3 listing, per the backend-selection
// table of spec §4.6.
type Engine struct {
	OpenSearch     *opensearch.Client
	OpenSearchIndex string
	HTTPClient     *http.Client
	CatalogURL     string
	S3Client       *awss3.Client
}

// Search executes the classify -> select -> fan-out -> merge pipeline.
func (e *Engine) Search(ctx context.Context, rc *model.RequestContext, q model.SearchQuery) ([]model.SearchHit, error) {
	class := Classify(q.Text)
	primary, fallbacks := backendsFor(class)

	hits, fallbackUsed, err := e.raceWithFallback(ctx, rc, q, primary, fallbacks)
	if err != nil {
		return nil, err
	}
	_ = fallbackUsed // not surfaced: callers receive only the hit list, with no fallback_used flag

	merged := mergeAndRank(hits, q)
	if q.Scope == model.SearchScopePackage && q.Type == model.SearchTypeBoth {
		merged = collapseEntriesIntoPackages(merged)
	}
	if q.Limit > 0 && len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}
	return merged, nil
}

func backendsFor(class Class) (primary string, fallbacks []string) {
	switch class {
	case ClassTextSearch:
		return "elasticsearch", []string{"graphql", "s3"}
	case ClassFileTypeFilter:
		return "elasticsearch", []string{"s3"}
	case ClassMetadataPredicate:
		return "graphql", []string{"elasticsearch"}
	case ClassAnalytical:
		return "athena", nil
	default:
		return "elasticsearch", []string{"graphql", "s3"}
	}
}

// raceWithFallback issues primary and fallback calls concurrently with
// per-backend timeouts; the first non-empty successful result satisfies
// the request (spec §4.6).
func (e *Engine) raceWithFallback(ctx context.Context, rc *model.RequestContext, q model.SearchQuery, primary string, fallbacks []string) ([]model.SearchHit, bool, error) {
	type outcome struct {
		backend string
		hits    []model.SearchHit
		err     error
	}

	backends := append([]string{primary}, fallbacks...)
	results := make(chan outcome, len(backends))

	for _, b := range backends {
		b := b
		go func() {
			cctx, cancel := context.WithTimeout(ctx, perBackendTimeout)
			defer cancel()
			hits, err := e.callBackend(cctx, rc, q, b)
			results <- outcome{backend: b, hits: hits, err: err}
		}()
	}

	var primaryErr error

	for i := 0; i < len(backends); i++ {
		o := <-results
		if o.err != nil {
			if o.backend == primary {
				primaryErr = o.err
			}
			continue
		}
		if len(o.hits) > 0 {
			return o.hits, o.backend != primary, nil
		}
	}

	if primaryErr != nil {
		return nil, false, primaryErr
	}
	return nil, false, nil
}

func (e *Engine) callBackend(ctx context.Context, rc *model.RequestContext, q model.SearchQuery, backend string) ([]model.SearchHit, error) {
	switch backend {
	case "elasticsearch":
		return e.searchOpenSearch(ctx, q)
	case "graphql":
		return e.searchGraphQL(ctx, rc, q)
	case "s3":
		return e.searchS3(ctx, q)
	case "athena":
		return nil, toolerr.New(toolerr.KindMethodNotFound, "analytical search routes through athena_query_execute, not search")
	default:
		return nil, toolerr.New(toolerr.KindInternal, "unknown search backend: "+backend)
	}
}

func (e *Engine) searchOpenSearch(ctx context.Context, q model.SearchQuery) ([]model.SearchHit, error) {
	if e.OpenSearch == nil {
		return nil, toolerr.New(toolerr.KindUpstreamUnavailable, "elasticsearch client not configured")
	}

	must := []map[string]interface{}{
		{"multi_match": map[string]interface{}{"query": q.Text, "fields": []string{"key", "logical_path", "metadata.*"}}},
	}
	var filter []map[string]interface{}
	if len(q.Buckets) > 0 {
		filter = append(filter, map[string]interface{}{"terms": map[string]interface{}{"bucket": q.Buckets}})
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must, "filter": filter},
		},
		"size": queryLimit(q),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, "encoding elasticsearch query", err)
	}

	req := opensearchapi.SearchRequest{Body: strings.NewReader(string(payload))}
	resp, err := req.Do(ctx, e.OpenSearch)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "elasticsearch request failed", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, toolerr.New(toolerr.KindUpstreamUnavailable, "elasticsearch returned an error status")
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "decoding elasticsearch response", err)
	}

	var hits []model.SearchHit
	for _, h := range parsed.Hits.Hits {
		var src struct {
			Bucket      string `json:"bucket"`
			Key         string `json:"key"`
			Registry    string `json:"registry"`
			Name        string `json:"name"`
			TopHash     string `json:"top_hash"`
			Kind        string `json:"kind"`
		}
		_ = json.Unmarshal(h.Source, &src)
		kind := model.SearchHitObject
		if src.Kind == "package" {
			kind = model.SearchHitPackage
		}
		hits = append(hits, model.SearchHit{
			Kind:        kind,
			Score:       h.Score * backendWeight["elasticsearch"],
			Backend:     "elasticsearch",
			Bucket:      src.Bucket,
			PhysicalURI: "s3://" + src.Bucket + "/" + src.Key,
			Registry:    src.Registry,
			Name:        src.Name,
			TopHash:     src.TopHash,
		})
	}
	return hits, nil
}

// searchGraphQL issues a raw JSON POST against the catalog's /graphql
// endpoint. Grounded on services/anchor/internal/database/weaviate/data.go
// (raw net/http POST-JSON pattern); see DESIGN.md for the stdlib
// justification — no GraphQL client library exists in the retrieval pack.
func (e *Engine) searchGraphQL(ctx context.Context, rc *model.RequestContext, q model.SearchQuery) ([]model.SearchHit, error) {
	if e.CatalogURL == "" {
		return nil, toolerr.New(toolerr.KindUpstreamUnavailable, "catalog url not configured for graphql search")
	}

	const query = `query Search($text: String!, $buckets: [String!]) {
		searchPackages(query: $text, buckets: $buckets) {
			edges { node { bucket registry name topHash score } }
		}
	}`
	reqBody := map[string]interface{}{
		"query": query,
		"variables": map[string]interface{}{
			"text":    q.Text,
			"buckets": q.Buckets,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, "encoding graphql search request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.CatalogURL, "/")+"/graphql", strings.NewReader(string(payload)))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, "building graphql search request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "graphql search request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, toolerr.New(toolerr.KindUpstreamUnavailable, "catalog graphql endpoint unavailable")
	}

	var parsed struct {
		Data struct {
			SearchPackages struct {
				Edges []struct {
					Node struct {
						Bucket   string  `json:"bucket"`
						Registry string  `json:"registry"`
						Name     string  `json:"name"`
						TopHash  string  `json:"topHash"`
						Score    float64 `json:"score"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"searchPackages"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "decoding graphql search response", err)
	}

	var hits []model.SearchHit
	for _, edge := range parsed.Data.SearchPackages.Edges {
		n := edge.Node
		hits = append(hits, model.SearchHit{
			Kind:     model.SearchHitPackage,
			Score:    n.Score * backendWeight["graphql"],
			Backend:  "graphql",
			Bucket:   n.Bucket,
			Registry: n.Registry,
			Name:     n.Name,
			TopHash:  n.TopHash,
		})
	}
	return hits, nil
}

// searchS3 is the final fallback: a bucket-restricted listing filtered
// by a case-insensitive substring match on object keys.
func (e *Engine) searchS3(ctx context.Context, q model.SearchQuery) ([]model.SearchHit, error) {
	if e.S3Client == nil || len(q.Buckets) == 0 {
		return nil, toolerr.New(toolerr.KindUpstreamUnavailable, "s3 fallback search requires a bucket filter and configured client")
	}

	var hits []model.SearchHit
	for _, bucket := range q.Buckets {
		page, err := s3.List(ctx, e.S3Client, bucket, "", "", 200)
		if err != nil {
			continue
		}
		for _, obj := range page.Objects {
			if q.Text != "" && !strings.Contains(strings.ToLower(obj.Key), strings.ToLower(q.Text)) {
				continue
			}
			hits = append(hits, model.SearchHit{
				Kind:         model.SearchHitObject,
				Score:        1.0 * backendWeight["s3"],
				Backend:      "s3",
				Bucket:       bucket,
				PhysicalURI:  "s3://" + bucket + "/" + obj.Key,
				LastModified: parseLastModified(obj.LastModified),
			})
		}
	}
	return hits, nil
}

// parseLastModified decodes the RFC3339-ish timestamp s3.List formats
// object timestamps as; a malformed or empty value ranks as the zero
// time, i.e. oldest, rather than failing the whole search.
func parseLastModified(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func queryLimit(q model.SearchQuery) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return 50
}

// dedupeKey identifies a hit per spec §4.6: (kind, physical_uri |
// (registry,name,top_hash)).
func dedupeKey(h model.SearchHit) string {
	if h.PhysicalURI != "" {
		return string(h.Kind) + "|" + h.PhysicalURI
	}
	return string(h.Kind) + "|" + h.Registry + "|" + h.Name + "|" + h.TopHash
}

func mergeAndRank(hits []model.SearchHit, q model.SearchQuery) []model.SearchHit {
	best := make(map[string]model.SearchHit)
	order := make([]string, 0, len(hits))
	for _, h := range hits {
		k := dedupeKey(h)
		if existing, ok := best[k]; !ok || h.Score > existing.Score {
			if !ok {
				order = append(order, k)
			}
			best[k] = h
		}
	}
	out := make([]model.SearchHit, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}

	// Empty text + bucket scope (spec §8): score carries no signal — every
	// S3 hit ties at the same backend weight — so rank by recency instead.
	if q.Text == "" && q.Scope == model.SearchScopeBucket {
		sort.SliceStable(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
		return out
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// collapseEntriesIntoPackages implements spec §4.6 "Package scope":
// entry hits collapse into their parent package, at most one PackageHit
// per package with up to 100 matched entries, manifest matches boosted
// by 2.0.
func collapseEntriesIntoPackages(hits []model.SearchHit) []model.SearchHit {
	type pkgKey struct{ registry, name, topHash string }
	packages := make(map[pkgKey]*model.SearchHit)
	order := make([]pkgKey, 0)

	for _, h := range hits {
		key := pkgKey{h.Registry, h.Name, h.TopHash}
		if h.Kind == model.SearchHitPackage {
			copyHit := h
			copyHit.Score *= 2.0
			if existing, ok := packages[key]; ok {
				if copyHit.Score > existing.Score {
					existing.Score = copyHit.Score
				}
			} else {
				packages[key] = &copyHit
				order = append(order, key)
			}
			continue
		}
		// object hit under this scope collapses into its parent package
		existing, ok := packages[key]
		if !ok {
			ph := model.SearchHit{
				Kind:     model.SearchHitPackage,
				Score:    h.Score,
				Backend:  h.Backend,
				Registry: h.Registry,
				Name:     h.Name,
				TopHash:  h.TopHash,
			}
			packages[key] = &ph
			order = append(order, key)
			existing = &ph
		}
		if len(existing.MatchedKeys) < 100 {
			existing.MatchedKeys = append(existing.MatchedKeys, h.PhysicalURI)
		}
	}

	out := make([]model.SearchHit, 0, len(order))
	for _, k := range order {
		out = append(out, *packages[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
