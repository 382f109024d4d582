// Package graphql implements backend.QuiltOps by calling the catalog's
// GraphQL endpoint (spec.md §4.4), grounded on the raw net/http
// POST-JSON pattern of
// services/anchor/internal/database/weaviate/data.go — the pack's only
// GraphQL-shaped code (see DESIGN.md stdlib justification).
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/search"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// Backend is the GraphQL-catalog QuiltOps implementation.
type Backend struct {
	HTTPClient   *http.Client
	SearchEngine *search.Engine
}

func New(httpClient *http.Client, engine *search.Engine) *Backend {
	return &Backend{HTTPClient: httpClient, SearchEngine: engine}
}

type gqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do executes one GraphQL request against rc.CatalogURL. It sends no
// Authorization header: the caller's bearer token is not forwarded to
// the catalog, since RequestContext carries only the verified claims.
func (b *Backend) do(ctx context.Context, rc *model.RequestContext, query string, variables map[string]interface{}, out interface{}) error {
	if rc.CatalogURL == "" {
		return toolerr.New(toolerr.KindConfigInvalid, "catalog-url is required for the graphql backend")
	}

	reqBody, err := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	if err != nil {
		return toolerr.Wrap(toolerr.KindInternal, "encoding graphql request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(rc.CatalogURL, "/")+"/graphql", bytes.NewReader(reqBody))
	if err != nil {
		return toolerr.Wrap(toolerr.KindInternal, "building graphql request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return toolerr.Wrap(toolerr.KindUpstreamUnavailable, "graphql request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return toolerr.Wrap(toolerr.KindUpstreamUnavailable, "reading graphql response", err)
	}
	if resp.StatusCode >= 500 {
		return toolerr.New(toolerr.KindUpstreamUnavailable, fmt.Sprintf("catalog graphql endpoint returned %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return toolerr.New(toolerr.KindPermissionDenied, "catalog rejected the request")
	}

	var env gqlEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return toolerr.Wrap(toolerr.KindUpstreamUnavailable, "malformed graphql response", err)
	}
	if len(env.Errors) > 0 {
		return toolerr.New(toolerr.KindUpstreamUnavailable, "graphql errors: "+env.Errors[0].Message)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return toolerr.Wrap(toolerr.KindUpstreamUnavailable, "decoding graphql data", err)
		}
	}
	return nil
}

func (b *Backend) AuthStatus(ctx context.Context, rc *model.RequestContext) (backend.AuthStatus, error) {
	var data struct {
		Me struct {
			Name string `json:"name"`
		} `json:"me"`
	}
	if err := b.do(ctx, rc, `query { me { name } }`, nil, &data); err != nil {
		return backend.AuthStatus{}, err
	}
	return backend.AuthStatus{
		LoggedIn: data.Me.Name != "",
		Subject:  data.Me.Name,
		Catalog:  rc.CatalogURL,
		Registry: rc.RegistryURL,
	}, nil
}

// BucketList uses the catalog's bucketConfigs query (spec §4.4); the
// catalog's canRead/canWrite flags are returned unchanged, so they can
// differ from the sdk backend's flags for the same bucket.
func (b *Backend) BucketList(ctx context.Context, rc *model.RequestContext) ([]backend.Bucket, error) {
	var data struct {
		BucketConfigs []struct {
			Name  string `json:"name"`
			Read  bool   `json:"canRead"`
			Write bool   `json:"canWrite"`
		} `json:"bucketConfigs"`
	}
	if err := b.do(ctx, rc, `query { bucketConfigs { name canRead canWrite } }`, nil, &data); err != nil {
		return nil, err
	}
	buckets := make([]backend.Bucket, 0, len(data.BucketConfigs))
	for _, bc := range data.BucketConfigs {
		buckets = append(buckets, backend.Bucket{Name: bc.Name, Read: bc.Read, Write: bc.Write})
	}
	return buckets, nil
}

func (b *Backend) PackageList(ctx context.Context, rc *model.RequestContext, registry string, filter backend.PackageListFilter, cursor string, limit int) (backend.Page[model.PackageRef], error) {
	var data struct {
		PackageList struct {
			Edges []struct {
				Node struct{ Name string } `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				EndCursor   string `json:"endCursor"`
				HasNextPage bool   `json:"hasNextPage"`
			} `json:"pageInfo"`
		} `json:"packageList"`
	}
	vars := map[string]interface{}{"registry": registry, "prefix": filter.Prefix, "after": cursor, "first": limit}
	if err := b.do(ctx, rc, `query($registry:String!,$prefix:String,$after:String,$first:Int){
		packageList(registry:$registry, filter:{prefix:$prefix}, after:$after, first:$first){
			edges{node{name}} pageInfo{endCursor hasNextPage}
		}}`, vars, &data); err != nil {
		return backend.Page[model.PackageRef]{}, err
	}

	refs := make([]model.PackageRef, 0, len(data.PackageList.Edges))
	for _, e := range data.PackageList.Edges {
		refs = append(refs, model.PackageRef{Registry: registry, Name: e.Node.Name})
	}
	return backend.Page[model.PackageRef]{
		Items:      refs,
		NextCursor: data.PackageList.PageInfo.EndCursor,
		HasMore:    data.PackageList.PageInfo.HasNextPage,
	}, nil
}

func (b *Backend) PackageBrowse(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (backend.Manifest, error) {
	return b.PackageManifest(ctx, rc, registry, name, topHash)
}

func (b *Backend) PackageVersionsList(ctx context.Context, rc *model.RequestContext, registry, name string, limit int, withTags bool) ([]backend.PackageVersion, error) {
	var data struct {
		Package struct {
			Revisions []struct {
				TopHash string   `json:"topHash"`
				Ts      int64    `json:"ts"`
				Message string   `json:"message"`
				Tags    []string `json:"tags"`
			} `json:"revisions"`
		} `json:"package"`
	}
	vars := map[string]interface{}{"registry": registry, "name": name, "limit": limit}
	if err := b.do(ctx, rc, `query($registry:String!,$name:String!,$limit:Int){
		package(registry:$registry, name:$name){ revisions(limit:$limit){ topHash ts message tags } }
	}`, vars, &data); err != nil {
		return nil, err
	}
	out := make([]backend.PackageVersion, 0, len(data.Package.Revisions))
	for _, r := range data.Package.Revisions {
		v := backend.PackageVersion{TopHash: r.TopHash, Ts: r.Ts, Message: r.Message}
		if withTags {
			v.Tags = r.Tags
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *Backend) PackageManifest(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (backend.Manifest, error) {
	var data struct {
		Package struct {
			Manifest struct {
				Entries []struct {
					LogicalPath string `json:"logicalPath"`
					PhysicalURI string `json:"physicalUri"`
					Size        int64  `json:"size"`
					Hash        string `json:"hash"`
				} `json:"entries"`
				Metadata json.RawMessage `json:"metadata"`
			} `json:"manifest"`
		} `json:"package"`
	}
	vars := map[string]interface{}{"registry": registry, "name": name, "topHash": topHash}
	if err := b.do(ctx, rc, `query($registry:String!,$name:String!,$topHash:String){
		package(registry:$registry, name:$name){ manifest(topHash:$topHash){ entries{logicalPath physicalUri size hash} metadata } }
	}`, vars, &data); err != nil {
		return backend.Manifest{}, err
	}

	entries := make([]model.ManifestEntry, 0, len(data.Package.Manifest.Entries))
	for _, e := range data.Package.Manifest.Entries {
		entries = append(entries, model.ManifestEntry{LogicalPath: e.LogicalPath, PhysicalURI: e.PhysicalURI, Size: e.Size, Hash: e.Hash})
	}
	var metadata map[string]interface{}
	_ = json.Unmarshal(data.Package.Manifest.Metadata, &metadata)
	return backend.Manifest{Entries: entries, Metadata: metadata}, nil
}

// PackageCreateRevision issues the packageConstruct mutation per spec §4.4.1 step 6.
func (b *Backend) PackageCreateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	return b.construct(ctx, rc, registry, name, entries, metadata, copyMode)
}

func (b *Backend) PackageUpdateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	return b.construct(ctx, rc, registry, name, entries, metadata, copyMode)
}

func (b *Backend) construct(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	var data struct {
		PackageConstruct struct {
			TypeName string `json:"__typename"`
			TopHash  string `json:"topHash"`
			Message  string `json:"message"`
		} `json:"packageConstruct"`
	}
	vars := map[string]interface{}{
		"registry": registry, "name": name, "entries": entries, "metadata": metadata, "copyMode": copyMode,
	}
	if err := b.do(ctx, rc, `mutation($registry:String!,$name:String!,$entries:[EntryInput!]!,$metadata:JSON,$copyMode:CopyMode!){
		packageConstruct(registry:$registry, name:$name, entries:$entries, metadata:$metadata, copyMode:$copyMode){
			__typename
			... on PackageConstructSuccess { topHash }
			... on OperationError { message }
		}
	}`, vars, &data); err != nil {
		return "", err
	}

	switch data.PackageConstruct.TypeName {
	case "PackageConstructSuccess", "":
		if data.PackageConstruct.TopHash == "" {
			return "", toolerr.New(toolerr.KindUpstreamUnavailable, "catalog did not return a top_hash")
		}
		return data.PackageConstruct.TopHash, nil
	case "InvalidInput":
		return "", toolerr.New(toolerr.KindValidationFailed, data.PackageConstruct.Message)
	default:
		return "", toolerr.New(toolerr.KindUpstreamUnavailable, data.PackageConstruct.Message)
	}
}

// PackageDelete: without top_hash, removes the tag-map entry only
// (DESIGN.md open-question decision 2), consistent with the sdk backend.
func (b *Backend) PackageDelete(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) error {
	var data struct {
		PackageDelete struct {
			TypeName string `json:"__typename"`
			Message  string `json:"message"`
		} `json:"packageDelete"`
	}
	vars := map[string]interface{}{"registry": registry, "name": name, "topHash": topHash}
	if err := b.do(ctx, rc, `mutation($registry:String!,$name:String!,$topHash:String){
		packageDelete(registry:$registry, name:$name, topHash:$topHash){ __typename ... on OperationError { message } }
	}`, vars, &data); err != nil {
		return err
	}
	if data.PackageDelete.TypeName == "OperationError" {
		return toolerr.New(toolerr.KindUpstreamUnavailable, data.PackageDelete.Message)
	}
	return nil
}

func (b *Backend) TagList(ctx context.Context, rc *model.RequestContext, registry, name string) (map[string]string, error) {
	var data struct {
		Package struct {
			Tags map[string]string `json:"tags"`
		} `json:"package"`
	}
	vars := map[string]interface{}{"registry": registry, "name": name}
	if err := b.do(ctx, rc, `query($registry:String!,$name:String!){ package(registry:$registry, name:$name){ tags } }`, vars, &data); err != nil {
		return nil, err
	}
	return data.Package.Tags, nil
}

func (b *Backend) TagAdd(ctx context.Context, rc *model.RequestContext, registry, name, tag, topHash string) error {
	vars := map[string]interface{}{"registry": registry, "name": name, "tag": tag, "topHash": topHash}
	return b.do(ctx, rc, `mutation($registry:String!,$name:String!,$tag:String!,$topHash:String!){
		tagAdd(registry:$registry, name:$name, tag:$tag, topHash:$topHash){ __typename }
	}`, vars, nil)
}

func (b *Backend) TagDelete(ctx context.Context, rc *model.RequestContext, registry, name, tag string) error {
	vars := map[string]interface{}{"registry": registry, "name": name, "tag": tag}
	return b.do(ctx, rc, `mutation($registry:String!,$name:String!,$tag:String!){
		tagDelete(registry:$registry, name:$name, tag:$tag){ __typename }
	}`, vars, nil)
}

func (b *Backend) Search(ctx context.Context, rc *model.RequestContext, q model.SearchQuery) ([]model.SearchHit, error) {
	if b.SearchEngine == nil {
		return nil, toolerr.New(toolerr.KindUpstreamUnavailable, "search engine not configured")
	}
	return b.SearchEngine.Search(ctx, rc, q)
}

func (b *Backend) AdminAvailable(ctx context.Context, rc *model.RequestContext) bool { return true }

func (b *Backend) AdminListUsers(ctx context.Context, rc *model.RequestContext) ([]backend.User, error) {
	var data struct {
		Admin struct {
			Users []struct {
				Name  string   `json:"name"`
				Email string   `json:"email"`
				Roles []string `json:"roles"`
			} `json:"users"`
		} `json:"admin"`
	}
	if err := b.do(ctx, rc, `query { admin { users { name email roles } } }`, nil, &data); err != nil {
		return nil, err
	}
	out := make([]backend.User, 0, len(data.Admin.Users))
	for _, u := range data.Admin.Users {
		out = append(out, backend.User{Name: u.Name, Email: u.Email, Roles: u.Roles})
	}
	return out, nil
}

func (b *Backend) AdminListRoles(ctx context.Context, rc *model.RequestContext) ([]backend.Role, error) {
	var data struct {
		Admin struct {
			Roles []struct {
				Name     string   `json:"name"`
				Managed  bool     `json:"managed"`
				Policies []string `json:"policies"`
				IAMArn   string   `json:"iamArn"`
			} `json:"roles"`
		} `json:"admin"`
	}
	if err := b.do(ctx, rc, `query { admin { roles { name managed policies iamArn } } }`, nil, &data); err != nil {
		return nil, err
	}
	out := make([]backend.Role, 0, len(data.Admin.Roles))
	for _, r := range data.Admin.Roles {
		out = append(out, backend.Role{Name: r.Name, Managed: r.Managed, Policies: r.Policies, IAMArn: r.IAMArn})
	}
	return out, nil
}

func (b *Backend) AdminListPolicies(ctx context.Context, rc *model.RequestContext) ([]backend.Policy, error) {
	var data struct {
		Admin struct {
			Policies []struct {
				Name        string `json:"name"`
				Managed     bool   `json:"managed"`
				Permissions []struct {
					Bucket string `json:"bucket"`
					Level  string `json:"level"`
				} `json:"permissions"`
				IAMArn string `json:"iamArn"`
			} `json:"policies"`
		} `json:"admin"`
	}
	if err := b.do(ctx, rc, `query { admin { policies { name managed permissions{bucket level} iamArn } } }`, nil, &data); err != nil {
		return nil, err
	}
	out := make([]backend.Policy, 0, len(data.Admin.Policies))
	for _, p := range data.Admin.Policies {
		perms := make([]backend.PolicyBucketPermission, 0, len(p.Permissions))
		for _, perm := range p.Permissions {
			perms = append(perms, backend.PolicyBucketPermission{Bucket: perm.Bucket, Level: perm.Level})
		}
		out = append(out, backend.Policy{Name: p.Name, Managed: p.Managed, Permissions: perms, IAMArn: p.IAMArn})
	}
	return out, nil
}

func (b *Backend) AdminCreatePolicy(ctx context.Context, rc *model.RequestContext, p backend.Policy) error {
	vars := map[string]interface{}{"name": p.Name, "permissions": p.Permissions, "iamArn": p.IAMArn, "managed": p.Managed}
	var data struct {
		PolicyCreate struct {
			TypeName string `json:"__typename"`
			Message  string `json:"message"`
		} `json:"policyCreate"`
	}
	if err := b.do(ctx, rc, `mutation($name:String!,$permissions:[BucketPermissionInput!],$iamArn:String,$managed:Boolean!){
		policyCreate(name:$name, permissions:$permissions, iamArn:$iamArn, managed:$managed){ __typename ... on OperationError { message } }
	}`, vars, &data); err != nil {
		return err
	}
	if data.PolicyCreate.TypeName == "OperationError" || data.PolicyCreate.TypeName == "InvalidInput" {
		return toolerr.New(toolerr.KindValidationFailed, data.PolicyCreate.Message)
	}
	return nil
}

// AdminDeletePolicy is refused with IN_USE when the policy is attached
// to any role, per spec §4.4.3.
func (b *Backend) AdminDeletePolicy(ctx context.Context, rc *model.RequestContext, name string) error {
	var data struct {
		PolicyDelete struct {
			TypeName string `json:"__typename"`
			Message  string `json:"message"`
		} `json:"policyDelete"`
	}
	vars := map[string]interface{}{"name": name}
	if err := b.do(ctx, rc, `mutation($name:String!){ policyDelete(name:$name){ __typename ... on OperationError { message } } }`, vars, &data); err != nil {
		return err
	}
	if data.PolicyDelete.TypeName == "OperationError" {
		if strings.Contains(strings.ToLower(data.PolicyDelete.Message), "attached") || strings.Contains(strings.ToLower(data.PolicyDelete.Message), "in use") {
			return toolerr.New(toolerr.KindInUse, "policy is attached to a role")
		}
		return toolerr.New(toolerr.KindUpstreamUnavailable, data.PolicyDelete.Message)
	}
	return nil
}

func (b *Backend) AdminCreateRole(ctx context.Context, rc *model.RequestContext, r backend.Role) error {
	vars := map[string]interface{}{"name": r.Name, "policies": r.Policies, "iamArn": r.IAMArn, "managed": r.Managed}
	return b.do(ctx, rc, `mutation($name:String!,$policies:[String!],$iamArn:String,$managed:Boolean!){
		roleCreate(name:$name, policies:$policies, iamArn:$iamArn, managed:$managed){ __typename }
	}`, vars, nil)
}

func (b *Backend) AdminAttachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error {
	vars := map[string]interface{}{"role": role, "policy": policy}
	return b.do(ctx, rc, `mutation($role:String!,$policy:String!){ roleAttachPolicy(role:$role, policy:$policy){ __typename } }`, vars, nil)
}

func (b *Backend) AdminDetachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error {
	vars := map[string]interface{}{"role": role, "policy": policy}
	return b.do(ctx, rc, `mutation($role:String!,$policy:String!){ roleDetachPolicy(role:$role, policy:$policy){ __typename } }`, vars, nil)
}

func (b *Backend) AdminGetSSOConfig(ctx context.Context, rc *model.RequestContext) (backend.SSOConfig, error) {
	var data struct {
		Admin struct {
			SSOConfig struct {
				Text string `json:"text"`
			} `json:"ssoConfig"`
		} `json:"admin"`
	}
	if err := b.do(ctx, rc, `query { admin { ssoConfig { text } } }`, nil, &data); err != nil {
		return backend.SSOConfig{}, err
	}
	return backend.SSOConfig{Text: data.Admin.SSOConfig.Text}, nil
}

func (b *Backend) AdminSetSSOConfig(ctx context.Context, rc *model.RequestContext, cfg backend.SSOConfig) error {
	vars := map[string]interface{}{"text": cfg.Text}
	return b.do(ctx, rc, `mutation($text:String!){ ssoConfigSet(config:$text){ __typename } }`, vars, nil)
}
