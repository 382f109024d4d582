// Package backend defines the QuiltOps contract (C4): a flat capability
// set implemented by two tagged variants, sdk and graphql, selected per
// request by the factory. No inheritance tree — see spec.md §9.
package backend

import (
	"context"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

// AuthStatus is the composite read spec §4.4 names as auth_status().
type AuthStatus struct {
	LoggedIn bool
	Subject  string
	Catalog  string
	Registry string
}

// Bucket is one entry of bucket_list().
type Bucket struct {
	Name  string
	Read  bool
	Write bool
}

// Page carries a restart token alongside a page of items — bucket_list
// and package_list are lazy, finite, restartable sequences (spec §9).
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// PackageListFilter narrows package_list.
type PackageListFilter struct {
	Prefix string
}

// PackageVersion is one entry of package_versions_list.
type PackageVersion struct {
	TopHash string
	Ts      int64
	Message string
	Tags    []string
}

// Manifest is the result of package_browse / package_manifest.
type Manifest struct {
	Entries  []model.ManifestEntry
	Metadata map[string]interface{}
}

// PolicyBucketPermission is one entry of a managed policy.
type PolicyBucketPermission struct {
	Bucket string
	Level  string // READ | READ_WRITE
}

// Policy is either managed (Permissions set) or unmanaged (IAMArn set).
type Policy struct {
	Name        string
	Managed     bool
	Permissions []PolicyBucketPermission
	IAMArn      string
}

// Role is either managed (Policies set) or unmanaged (IAMArn set).
type Role struct {
	Name     string
	Managed  bool
	Policies []string
	IAMArn   string
}

// User is one admin-surface user record.
type User struct {
	Name  string
	Email string
	Roles []string
}

// SSOConfig is the catalog's single-sign-on configuration document.
type SSOConfig struct {
	Text string
}

// QuiltOps is the capability set every tool module routes through.
// Implementations: internal/backend/sdk (direct) and
// internal/backend/graphql (graphql). Every method returns a
// *toolerr.Error on failure, never a bare error and never a panic
// (spec §4.4 "no operation may throw").
type QuiltOps interface {
	AuthStatus(ctx context.Context, rc *model.RequestContext) (AuthStatus, error)

	BucketList(ctx context.Context, rc *model.RequestContext) ([]Bucket, error)

	PackageList(ctx context.Context, rc *model.RequestContext, registry string, filter PackageListFilter, cursor string, limit int) (Page[model.PackageRef], error)
	PackageBrowse(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (Manifest, error)
	PackageVersionsList(ctx context.Context, rc *model.RequestContext, registry, name string, limit int, withTags bool) ([]PackageVersion, error)
	PackageManifest(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (Manifest, error)
	PackageCreateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error)
	PackageUpdateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error)
	PackageDelete(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) error

	TagList(ctx context.Context, rc *model.RequestContext, registry, name string) (map[string]string, error)
	TagAdd(ctx context.Context, rc *model.RequestContext, registry, name, tag, topHash string) error
	TagDelete(ctx context.Context, rc *model.RequestContext, registry, name, tag string) error

	Search(ctx context.Context, rc *model.RequestContext, q model.SearchQuery) ([]model.SearchHit, error)

	AdminAvailable(ctx context.Context, rc *model.RequestContext) bool
	AdminListUsers(ctx context.Context, rc *model.RequestContext) ([]User, error)
	AdminListRoles(ctx context.Context, rc *model.RequestContext) ([]Role, error)
	AdminListPolicies(ctx context.Context, rc *model.RequestContext) ([]Policy, error)
	AdminCreatePolicy(ctx context.Context, rc *model.RequestContext, p Policy) error
	AdminDeletePolicy(ctx context.Context, rc *model.RequestContext, name string) error
	AdminCreateRole(ctx context.Context, rc *model.RequestContext, r Role) error
	AdminAttachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error
	AdminDetachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error
	AdminGetSSOConfig(ctx context.Context, rc *model.RequestContext) (SSOConfig, error)
	AdminSetSSOConfig(ctx context.Context, rc *model.RequestContext, cfg SSOConfig) error
}
