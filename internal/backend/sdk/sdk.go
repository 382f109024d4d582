// Package sdk implements backend.QuiltOps by calling S3 directly
// in-process (the "direct" backend of spec.md §4.4), grounded on
// services/anchor/internal/database/s3/{client,data_ops}.go.
package sdk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	dps3 "github.com/quiltdata/quilt-mcp-server/internal/dataplane/s3"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/search"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// clientFactory resolves a request-scoped S3 client from a RequestContext.
type clientFactory func(ctx context.Context, rc *model.RequestContext) (*awss3.Client, error)

// Backend is the direct-SDK QuiltOps implementation. Package state is
// durable in S3 (spec §4.4.1 step 6, §3 "immutable once written"); the
// in-memory regState is a read-through cache over that S3 state, not
// the source of truth, so it repopulates correctly after a restart.
type Backend struct {
	NewS3Client  clientFactory
	ProxyURL     string
	Region       string
	SearchEngine *search.Engine

	mu       sync.Mutex
	registry map[string]*regState
}

type regState struct {
	revisions   map[string]*model.PackageRevision // top_hash -> revision, cached after first S3 read/write
	tags        map[string]map[string]string      // name -> tag -> top_hash, cached from tags.json
	tagsFetched map[string]bool                   // name -> tags.json has been consulted this process
	names       map[string]struct{}
	namesListed bool // the S3 name index has been consulted this process
}

// manifestDoc is the on-disk shape of a content-addressed manifest
// object; canonicalHash hashes the same two fields.
type manifestDoc struct {
	Entries  []model.ManifestEntry  `json:"entries"`
	Metadata map[string]interface{} `json:"metadata"`
}

func manifestKey(name, topHash string) string {
	return ".quilt/packages/" + name + "/manifests/" + topHash + ".json"
}

func tagsIndexKey(name string) string {
	return ".quilt/packages/" + name + "/tags.json"
}

const namesIndexKey = ".quilt/packages/_names.json"

func New(factory clientFactory, proxyURL, region string, engine *search.Engine) *Backend {
	return &Backend{
		NewS3Client:  factory,
		ProxyURL:     proxyURL,
		Region:       region,
		SearchEngine: engine,
		registry:     make(map[string]*regState),
	}
}

func (b *Backend) state(registry string) *regState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.registry[registry]
	if !ok {
		s = &regState{
			revisions:   make(map[string]*model.PackageRevision),
			tags:        make(map[string]map[string]string),
			tagsFetched: make(map[string]bool),
			names:       make(map[string]struct{}),
		}
		b.registry[registry] = s
	}
	return s
}

func (b *Backend) AuthStatus(ctx context.Context, rc *model.RequestContext) (backend.AuthStatus, error) {
	status := backend.AuthStatus{Catalog: rc.CatalogURL, Registry: rc.RegistryURL}
	if rc.Claims != nil {
		status.LoggedIn = true
		status.Subject = rc.Claims.Subject
	}
	return status, nil
}

// BucketList uses native bucket enumeration (S3 ListBuckets) only; there
// is no IAM or Glue fallback when that call fails, and every listed
// bucket is reported with Read and Write both true.
func (b *Backend) BucketList(ctx context.Context, rc *model.RequestContext) ([]backend.Bucket, error) {
	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return nil, err
	}
	out, err := client.ListBuckets(ctx, nil)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "listing S3 buckets", err)
	}
	buckets := make([]backend.Bucket, 0, len(out.Buckets))
	for _, bkt := range out.Buckets {
		name := ""
		if bkt.Name != nil {
			name = *bkt.Name
		}
		buckets = append(buckets, backend.Bucket{Name: name, Read: true, Write: true})
	}
	return buckets, nil
}

func (b *Backend) PackageList(ctx context.Context, rc *model.RequestContext, registry string, filter backend.PackageListFilter, cursor string, limit int) (backend.Page[model.PackageRef], error) {
	if err := b.hydrateNames(ctx, rc, registry); err != nil {
		return backend.Page[model.PackageRef]{}, err
	}

	st := b.state(registry)
	b.mu.Lock()
	names := make([]string, 0, len(st.names))
	for n := range st.names {
		if filter.Prefix == "" || strings.HasPrefix(n, filter.Prefix) {
			names = append(names, n)
		}
	}
	b.mu.Unlock()
	sort.Strings(names)

	refs := make([]model.PackageRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, model.PackageRef{Registry: registry, Name: n})
	}
	return backend.Page[model.PackageRef]{Items: refs}, nil
}

// hydrateNames loads the registry's package-name index from S3 into
// the in-memory cache the first time it's consulted in this process
// (spec §3: package data, unlike the credential cache and workflow
// records named in §6, must survive a restart).
func (b *Backend) hydrateNames(ctx context.Context, rc *model.RequestContext, registry string) error {
	st := b.state(registry)
	b.mu.Lock()
	if st.namesListed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return err
	}
	names, err := readNamesIndex(ctx, client, registry)
	if err != nil {
		return err
	}

	b.mu.Lock()
	for _, n := range names {
		st.names[n] = struct{}{}
	}
	st.namesListed = true
	b.mu.Unlock()
	return nil
}

func readNamesIndex(ctx context.Context, client *awss3.Client, registry string) ([]string, error) {
	raw, err := dps3.GetText(ctx, client, registry, namesIndexKey, dps3.GetOptions{})
	if err != nil {
		if te := toolerr.AsToolError(err); te.Kind == toolerr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, "decoding package-name index", err)
	}
	return names, nil
}

func (b *Backend) PackageBrowse(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (backend.Manifest, error) {
	return b.PackageManifest(ctx, rc, registry, name, topHash)
}

// hydrateTags loads name's tags.json into the cache the first time
// it's consulted in this process, same rationale as hydrateNames.
func (b *Backend) hydrateTags(ctx context.Context, rc *model.RequestContext, registry, name string) (map[string]string, error) {
	st := b.state(registry)
	b.mu.Lock()
	if st.tagsFetched[name] {
		tagMap := st.tags[name]
		b.mu.Unlock()
		return tagMap, nil
	}
	b.mu.Unlock()

	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return nil, err
	}
	tags, err := readTagsIndex(ctx, client, registry, name)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if st.tags[name] == nil {
		st.tags[name] = make(map[string]string)
	}
	for tag, hash := range tags {
		if _, exists := st.tags[name][tag]; !exists {
			st.tags[name][tag] = hash
		}
	}
	st.tagsFetched[name] = true
	tagMap := st.tags[name]
	b.mu.Unlock()
	return tagMap, nil
}

func readTagsIndex(ctx context.Context, client *awss3.Client, registry, name string) (map[string]string, error) {
	raw, err := dps3.GetText(ctx, client, registry, tagsIndexKey(name), dps3.GetOptions{})
	if err != nil {
		if te := toolerr.AsToolError(err); te.Kind == toolerr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, "decoding tag map for "+name, err)
	}
	return tags, nil
}

func (b *Backend) PackageVersionsList(ctx context.Context, rc *model.RequestContext, registry, name string, limit int, withTags bool) ([]backend.PackageVersion, error) {
	tagMap, err := b.hydrateTags(ctx, rc, registry, name)
	if err != nil {
		return nil, err
	}
	versions := make([]backend.PackageVersion, 0, len(tagMap))
	seen := make(map[string]bool)
	for tag, hash := range tagMap {
		if seen[hash] {
			continue
		}
		seen[hash] = true
		v := backend.PackageVersion{TopHash: hash}
		if withTags {
			v.Tags = []string{tag}
		}
		versions = append(versions, v)
	}
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

func (b *Backend) PackageManifest(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (backend.Manifest, error) {
	hash := topHash
	if hash == "" {
		tagMap, err := b.hydrateTags(ctx, rc, registry, name)
		if err != nil {
			return backend.Manifest{}, err
		}
		hash = tagMap["latest"]
		if hash == "" {
			return backend.Manifest{}, toolerr.New(toolerr.KindNotFound, "package has no latest revision")
		}
	}

	st := b.state(registry)
	b.mu.Lock()
	rev, ok := st.revisions[hash]
	b.mu.Unlock()
	if ok {
		return backend.Manifest{Entries: rev.Entries, Metadata: rev.Metadata}, nil
	}

	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return backend.Manifest{}, err
	}
	raw, err := dps3.GetBytes(ctx, client, registry, manifestKey(name, hash), dps3.GetOptions{})
	if err != nil {
		return backend.Manifest{}, err
	}
	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return backend.Manifest{}, toolerr.Wrap(toolerr.KindInternal, "decoding manifest for "+name, err)
	}

	b.mu.Lock()
	st.revisions[hash] = &model.PackageRevision{Registry: registry, Name: name, TopHash: hash, Entries: doc.Entries, Metadata: doc.Metadata}
	st.names[name] = struct{}{}
	b.mu.Unlock()
	return backend.Manifest{Entries: doc.Entries, Metadata: doc.Metadata}, nil
}

func (b *Backend) write(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return "", err
	}

	resolved := make([]model.ManifestEntry, len(entries))
	copy(resolved, entries)

	if copyMode == model.CopyModeAll || copyMode == model.CopyModeNew {
		for i, e := range resolved {
			alreadyInRegistry := strings.HasPrefix(e.PhysicalURI, "s3://"+registry+"/")
			if copyMode == model.CopyModeNew && alreadyInRegistry {
				continue
			}
			destKey := contentAddressedKey(e)
			if _, err := dps3.Put(ctx, client, registry, []dps3.PutItem{{Key: destKey, SourceURI: e.PhysicalURI}}); err != nil {
				return "", err
			}
			resolved[i].PhysicalURI = "s3://" + registry + "/" + destKey
		}
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].LogicalPath < resolved[j].LogicalPath })

	doc := manifestDoc{Entries: resolved, Metadata: metadata}
	topHash := canonicalHash(doc)
	manifestBytes, err := json.Marshal(doc)
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindInternal, "encoding manifest for "+name, err)
	}

	if err := b.persistRevision(ctx, client, registry, name, topHash, manifestBytes); err != nil {
		return "", err
	}

	st := b.state(registry)
	b.mu.Lock()
	st.names[name] = struct{}{}
	if st.tags[name] == nil {
		st.tags[name] = make(map[string]string)
	}
	st.tags[name]["latest"] = topHash
	st.revisions[topHash] = &model.PackageRevision{Registry: registry, Name: name, TopHash: topHash, Entries: resolved, Metadata: metadata}
	b.mu.Unlock()

	return topHash, nil
}

// persistRevision writes the content-addressed manifest object, then
// advances the "latest" entry of the tag-map object, then adds name to
// the registry's name index — the three durable objects spec §4.4.1
// step 6 requires (manifest write + tag-map update), plus the index
// package_list needs since S3 has no native "list package names"
// operation. The manifest write is naturally idempotent (same
// top_hash, same bytes); only the tag-map and name-index writes are
// read-modify-write and thus the non-atomic part of this sequence.
func (b *Backend) persistRevision(ctx context.Context, client *awss3.Client, registry, name, topHash string, manifestBytes []byte) error {
	if err := putOK(ctx, client, registry, dps3.PutItem{Key: manifestKey(name, topHash), Bytes: manifestBytes, ContentType: "application/json"}); err != nil {
		return err
	}

	tags, err := readTagsIndex(ctx, client, registry, name)
	if err != nil {
		return err
	}
	if tags == nil {
		tags = make(map[string]string)
	}
	tags["latest"] = topHash
	tagsBytes, err := json.Marshal(tags)
	if err != nil {
		return toolerr.Wrap(toolerr.KindInternal, "encoding tag map for "+name, err)
	}
	if err := putOK(ctx, client, registry, dps3.PutItem{Key: tagsIndexKey(name), Bytes: tagsBytes, ContentType: "application/json"}); err != nil {
		return err
	}

	names, err := readNamesIndex(ctx, client, registry)
	if err != nil {
		return err
	}
	if !containsString(names, name) {
		names = append(names, name)
		sort.Strings(names)
		namesBytes, err := json.Marshal(names)
		if err != nil {
			return toolerr.Wrap(toolerr.KindInternal, "encoding package-name index", err)
		}
		if err := putOK(ctx, client, registry, dps3.PutItem{Key: namesIndexKey, Bytes: namesBytes, ContentType: "application/json"}); err != nil {
			return err
		}
	}
	return nil
}

func putOK(ctx context.Context, client *awss3.Client, bucket string, item dps3.PutItem) error {
	results, err := dps3.Put(ctx, client, bucket, []dps3.PutItem{item})
	if err != nil {
		return err
	}
	if !results[0].OK {
		return results[0].Error
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func contentAddressedKey(e model.ManifestEntry) string {
	sum := sha256.Sum256([]byte(e.LogicalPath + "|" + e.PhysicalURI))
	return ".quilt/packages/" + hex.EncodeToString(sum[:16])
}

// canonicalHash computes top_hash over the canonical manifest bytes, so
// repeated writes of identical (entries, metadata, copy_mode) are
// idempotent (spec §4.4.1, §8).
func canonicalHash(doc manifestDoc) string {
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (b *Backend) PackageCreateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	return b.write(ctx, rc, registry, name, entries, metadata, copyMode)
}

func (b *Backend) PackageUpdateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	prev, err := b.PackageManifest(ctx, rc, registry, name, "")
	var merged []model.ManifestEntry
	if err == nil {
		byPath := make(map[string]model.ManifestEntry, len(prev.Entries))
		for _, e := range prev.Entries {
			byPath[e.LogicalPath] = e
		}
		for _, e := range entries {
			byPath[e.LogicalPath] = e // update-replace semantics (spec §4.4.1)
		}
		for _, e := range byPath {
			merged = append(merged, e)
		}
	} else {
		merged = entries
	}

	return b.write(ctx, rc, registry, name, merged, metadata, copyMode)
}

// revisionExists checks the cache, then falls back to a HEAD of the
// content-addressed manifest object (so tagging a revision written in
// a prior process still validates correctly).
func (b *Backend) revisionExists(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (bool, error) {
	st := b.state(registry)
	b.mu.Lock()
	_, ok := st.revisions[topHash]
	b.mu.Unlock()
	if ok {
		return true, nil
	}
	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return false, err
	}
	if _, err := dps3.Head(ctx, client, registry, manifestKey(name, topHash)); err != nil {
		return false, nil
	}
	return true, nil
}

// PackageDelete: without top_hash, removes the package's tag-map entry
// only (DESIGN.md open-question decision 2), consistent with the
// graphql backend.
func (b *Backend) PackageDelete(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) error {
	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return err
	}

	if topHash == "" {
		if err := putOK(ctx, client, registry, dps3.PutItem{Key: tagsIndexKey(name), Bytes: []byte("{}"), ContentType: "application/json"}); err != nil {
			return err
		}
		st := b.state(registry)
		b.mu.Lock()
		delete(st.tags, name)
		st.tagsFetched[name] = true
		b.mu.Unlock()
		return nil
	}

	if err := dps3.Delete(ctx, client, registry, manifestKey(name, topHash)); err != nil {
		return err
	}
	st := b.state(registry)
	b.mu.Lock()
	delete(st.revisions, topHash)
	b.mu.Unlock()
	return nil
}

func (b *Backend) TagList(ctx context.Context, rc *model.RequestContext, registry, name string) (map[string]string, error) {
	tagMap, err := b.hydrateTags(ctx, rc, registry, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tagMap))
	for k, v := range tagMap {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) TagAdd(ctx context.Context, rc *model.RequestContext, registry, name, tag, topHash string) error {
	exists, err := b.revisionExists(ctx, rc, registry, name, topHash)
	if err != nil {
		return err
	}
	if !exists {
		return toolerr.New(toolerr.KindNotFound, "revision not found")
	}

	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return err
	}
	tags, err := readTagsIndex(ctx, client, registry, name)
	if err != nil {
		return err
	}
	if tags == nil {
		tags = make(map[string]string)
	}
	tags[tag] = topHash
	tagsBytes, err := json.Marshal(tags)
	if err != nil {
		return toolerr.Wrap(toolerr.KindInternal, "encoding tag map for "+name, err)
	}
	if err := putOK(ctx, client, registry, dps3.PutItem{Key: tagsIndexKey(name), Bytes: tagsBytes, ContentType: "application/json"}); err != nil {
		return err
	}

	st := b.state(registry)
	b.mu.Lock()
	if st.tags[name] == nil {
		st.tags[name] = make(map[string]string)
	}
	st.tags[name][tag] = topHash
	b.mu.Unlock()
	return nil
}

func (b *Backend) TagDelete(ctx context.Context, rc *model.RequestContext, registry, name, tag string) error {
	client, err := b.NewS3Client(ctx, rc)
	if err != nil {
		return err
	}
	tags, err := readTagsIndex(ctx, client, registry, name)
	if err != nil {
		return err
	}
	delete(tags, tag)
	tagsBytes, err := json.Marshal(tags)
	if err != nil {
		return toolerr.Wrap(toolerr.KindInternal, "encoding tag map for "+name, err)
	}
	if err := putOK(ctx, client, registry, dps3.PutItem{Key: tagsIndexKey(name), Bytes: tagsBytes, ContentType: "application/json"}); err != nil {
		return err
	}

	st := b.state(registry)
	b.mu.Lock()
	delete(st.tags[name], tag)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Search(ctx context.Context, rc *model.RequestContext, q model.SearchQuery) ([]model.SearchHit, error) {
	if b.SearchEngine == nil {
		return nil, toolerr.New(toolerr.KindUpstreamUnavailable, "search engine not configured")
	}
	return b.SearchEngine.Search(ctx, rc, q)
}

// Admin operations are graphql-only per spec §4.4.3.
func (b *Backend) AdminAvailable(ctx context.Context, rc *model.RequestContext) bool { return false }

func adminUnavailable() error {
	return toolerr.New(toolerr.KindMethodNotFound, "admin operations require the graphql backend").
		WithFixHint("retry with --backend graphql")
}

func (b *Backend) AdminListUsers(ctx context.Context, rc *model.RequestContext) ([]backend.User, error) {
	return nil, adminUnavailable()
}
func (b *Backend) AdminListRoles(ctx context.Context, rc *model.RequestContext) ([]backend.Role, error) {
	return nil, adminUnavailable()
}
func (b *Backend) AdminListPolicies(ctx context.Context, rc *model.RequestContext) ([]backend.Policy, error) {
	return nil, adminUnavailable()
}
func (b *Backend) AdminCreatePolicy(ctx context.Context, rc *model.RequestContext, p backend.Policy) error {
	return adminUnavailable()
}
func (b *Backend) AdminDeletePolicy(ctx context.Context, rc *model.RequestContext, name string) error {
	return adminUnavailable()
}
func (b *Backend) AdminCreateRole(ctx context.Context, rc *model.RequestContext, r backend.Role) error {
	return adminUnavailable()
}
func (b *Backend) AdminAttachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error {
	return adminUnavailable()
}
func (b *Backend) AdminDetachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error {
	return adminUnavailable()
}
func (b *Backend) AdminGetSSOConfig(ctx context.Context, rc *model.RequestContext) (backend.SSOConfig, error) {
	return backend.SSOConfig{}, adminUnavailable()
}
func (b *Backend) AdminSetSSOConfig(ctx context.Context, rc *model.RequestContext, cfg backend.SSOConfig) error {
	return adminUnavailable()
}
