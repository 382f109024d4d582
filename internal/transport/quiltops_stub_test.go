package transport

import (
	"context"

	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

// noopOps is a minimal backend.QuiltOps used only to wire a Handler for
// transport-layer tests; the methods below are never exercised by them.
type noopOps struct{}

func (noopOps) AuthStatus(ctx context.Context, rc *model.RequestContext) (backend.AuthStatus, error) {
	return backend.AuthStatus{}, nil
}
func (noopOps) BucketList(ctx context.Context, rc *model.RequestContext) ([]backend.Bucket, error) {
	return nil, nil
}
func (noopOps) PackageList(ctx context.Context, rc *model.RequestContext, registry string, filter backend.PackageListFilter, cursor string, limit int) (backend.Page[model.PackageRef], error) {
	return backend.Page[model.PackageRef]{}, nil
}
func (noopOps) PackageBrowse(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (backend.Manifest, error) {
	return backend.Manifest{}, nil
}
func (noopOps) PackageVersionsList(ctx context.Context, rc *model.RequestContext, registry, name string, limit int, withTags bool) ([]backend.PackageVersion, error) {
	return nil, nil
}
func (noopOps) PackageManifest(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) (backend.Manifest, error) {
	return backend.Manifest{}, nil
}
func (noopOps) PackageCreateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	return "", nil
}
func (noopOps) PackageUpdateRevision(ctx context.Context, rc *model.RequestContext, registry, name string, entries []model.ManifestEntry, metadata map[string]interface{}, copyMode model.CopyMode) (string, error) {
	return "", nil
}
func (noopOps) PackageDelete(ctx context.Context, rc *model.RequestContext, registry, name, topHash string) error {
	return nil
}
func (noopOps) TagList(ctx context.Context, rc *model.RequestContext, registry, name string) (map[string]string, error) {
	return nil, nil
}
func (noopOps) TagAdd(ctx context.Context, rc *model.RequestContext, registry, name, tag, topHash string) error {
	return nil
}
func (noopOps) TagDelete(ctx context.Context, rc *model.RequestContext, registry, name, tag string) error {
	return nil
}
func (noopOps) Search(ctx context.Context, rc *model.RequestContext, q model.SearchQuery) ([]model.SearchHit, error) {
	return nil, nil
}
func (noopOps) AdminAvailable(ctx context.Context, rc *model.RequestContext) bool { return false }
func (noopOps) AdminListUsers(ctx context.Context, rc *model.RequestContext) ([]backend.User, error) {
	return nil, nil
}
func (noopOps) AdminListRoles(ctx context.Context, rc *model.RequestContext) ([]backend.Role, error) {
	return nil, nil
}
func (noopOps) AdminListPolicies(ctx context.Context, rc *model.RequestContext) ([]backend.Policy, error) {
	return nil, nil
}
func (noopOps) AdminCreatePolicy(ctx context.Context, rc *model.RequestContext, p backend.Policy) error {
	return nil
}
func (noopOps) AdminDeletePolicy(ctx context.Context, rc *model.RequestContext, name string) error {
	return nil
}
func (noopOps) AdminCreateRole(ctx context.Context, rc *model.RequestContext, r backend.Role) error {
	return nil
}
func (noopOps) AdminAttachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error {
	return nil
}
func (noopOps) AdminDetachPolicy(ctx context.Context, rc *model.RequestContext, role, policy string) error {
	return nil
}
func (noopOps) AdminGetSSOConfig(ctx context.Context, rc *model.RequestContext) (backend.SSOConfig, error) {
	return backend.SSOConfig{}, nil
}
func (noopOps) AdminSetSSOConfig(ctx context.Context, rc *model.RequestContext, cfg backend.SSOConfig) error {
	return nil
}
