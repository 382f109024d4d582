// Package model holds the entities shared across the auth plane, backend
// contract, data-plane helpers, and tool-module surface: DeploymentMode,
// RequestContext, JWTClaims, AWSCredentialBundle, PackageRevision,
// PackageRef, CopyMode, SearchQuery, AthenaQuery, ToolDescriptor, and
// WorkflowRecord (spec.md §3).
package model

import (
	"context"
	"time"
)

// Backend identifies which QuiltOps implementation a request is routed to.
type Backend string

const (
	BackendDirect  Backend = "direct"
	BackendGraphQL Backend = "graphql"
)

// Transport identifies the session-loop framing in use.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Deployment is one of the three presets; it expands into a
// (Backend, Transport) pair unless overridden.
type Deployment string

const (
	DeploymentRemote Deployment = "remote"
	DeploymentLocal  Deployment = "local"
	DeploymentLegacy Deployment = "legacy"
)

// Preset returns the default (backend, transport) pair for a deployment.
func (d Deployment) Preset() (Backend, Transport) {
	switch d {
	case DeploymentRemote:
		return BackendGraphQL, TransportHTTP
	case DeploymentLegacy:
		return BackendDirect, TransportStdio
	case DeploymentLocal:
		fallthrough
	default:
		return BackendGraphQL, TransportStdio
	}
}

// JWTClaims is the decoded, verified content of a bearer token.
type JWTClaims struct {
	Subject     string
	Issuer      string
	Audience    string
	Expiry      time.Time
	KeyID       string
	Roles       []string
	Buckets     []string
	Permissions []string
	// EmbeddedCredentials, when present, lets the credential-exchange
	// pipeline's first probe short-circuit (spec §4.3 step 1).
	EmbeddedCredentials *AWSCredentialBundle
}

// Redacted returns a diagnostics-safe rendering: kid, subject, and the
// first/last four characters of the raw token only (spec §4.3 invariant).
func Redacted(rawToken string) string {
	if len(rawToken) <= 8 {
		return "****"
	}
	return rawToken[:4] + "..." + rawToken[len(rawToken)-4:]
}

// AWSCredentialBundle is a short-lived AWS credential set, cached by
// (catalog, subject, token-hash).
type AWSCredentialBundle struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Expired reports whether the bundle expires within buffer from now.
func (b AWSCredentialBundle) Expired(buffer time.Duration) bool {
	return time.Now().Add(buffer).After(b.Expiration)
}

// RequestContext is per-request, immutable after construction. Created
// by the transport loop (C1), consumed by auth/backend/tools, and
// destroyed on response emission.
type RequestContext struct {
	ctx context.Context

	RequestID   string
	Deployment  Deployment
	Backend     Backend
	Claims      *JWTClaims
	Credentials *AWSCredentialBundle
	CatalogURL  string
	RegistryURL string
}

// NewRequestContext builds an immutable RequestContext bound to ctx's
// cancellation.
func NewRequestContext(ctx context.Context, requestID string, deployment Deployment, backend Backend, catalogURL, registryURL string) *RequestContext {
	return &RequestContext{
		ctx:         ctx,
		RequestID:   requestID,
		Deployment:  deployment,
		Backend:     backend,
		CatalogURL:  catalogURL,
		RegistryURL: registryURL,
	}
}

// WithClaims returns a shallow copy carrying claims — used once, by the
// auth plane, before the context reaches C4/C9; RequestContext itself
// stays otherwise immutable.
func (rc *RequestContext) WithClaims(claims *JWTClaims) *RequestContext {
	c := *rc
	c.Claims = claims
	return &c
}

// WithCredentials returns a shallow copy carrying a resolved credential bundle.
func (rc *RequestContext) WithCredentials(bundle *AWSCredentialBundle) *RequestContext {
	c := *rc
	c.Credentials = bundle
	return &c
}

// Context returns the underlying cancellation context.
func (rc *RequestContext) Context() context.Context { return rc.ctx }

// CopyMode governs whether referenced physical objects are copied into
// the registry bucket during a revision write.
type CopyMode string

const (
	CopyModeNone CopyMode = "none"
	CopyModeNew  CopyMode = "new"
	CopyModeAll  CopyMode = "all"
)

// ManifestEntry is one (logical_path, physical_uri, size, hash) record.
type ManifestEntry struct {
	LogicalPath string `json:"logical_path"`
	PhysicalURI string `json:"physical_uri"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
}

// PackageRevision is identified by (registry, name, top_hash) and is
// immutable once written.
type PackageRevision struct {
	Registry string
	Name     string
	TopHash  string
	Entries  []ManifestEntry
	Metadata map[string]interface{}
}

// PackageRef resolves (registry, name) via a tag to a top_hash.
type PackageRef struct {
	Registry string `json:"registry"`
	Name     string `json:"name"`
	TopHash  string `json:"top_hash,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// SearchScope constrains a SearchQuery to a bucket, a package, or global.
type SearchScope string

const (
	SearchScopeBucket  SearchScope = "bucket"
	SearchScopePackage SearchScope = "package"
	SearchScopeGlobal  SearchScope = "global"
)

// SearchResultType selects what kinds of hits a SearchQuery returns.
type SearchResultType string

const (
	SearchTypePackages SearchResultType = "packages"
	SearchTypeObjects  SearchResultType = "objects"
	SearchTypeBoth     SearchResultType = "both"
)

// SearchQuery is the normalized request shape consumed by internal/search.
type SearchQuery struct {
	Text    string
	Scope   SearchScope
	Buckets []string // normalized from bucket|buckets (spec §4.6)
	Type    SearchResultType
	Limit   int
}

// SearchHitKind distinguishes a package hit from an object hit.
type SearchHitKind string

const (
	SearchHitPackage SearchHitKind = "package"
	SearchHitObject  SearchHitKind = "object"
)

// SearchHit is the tagged-union result of a unified search.
type SearchHit struct {
	Kind        SearchHitKind
	Score       float64
	Backend     string
	Bucket      string
	PhysicalURI string
	Registry    string
	Name        string
	TopHash     string
	MatchedKeys []string // up to 100, PackageHit only

	// LastModified is populated by the S3 fallback backend only; it
	// drives the empty-text/bucket-scope "most recent first" ordering
	// of spec §8, which the score-based rank otherwise ignores.
	LastModified time.Time
}

// AthenaQueryState is one of the terminal/non-terminal Athena states.
type AthenaQueryState string

const (
	AthenaStateQueued    AthenaQueryState = "queued"
	AthenaStateRunning   AthenaQueryState = "running"
	AthenaStateSucceeded AthenaQueryState = "succeeded"
	AthenaStateFailed    AthenaQueryState = "failed"
	AthenaStateCancelled AthenaQueryState = "cancelled"
)

func (s AthenaQueryState) Terminal() bool {
	switch s {
	case AthenaStateSucceeded, AthenaStateFailed, AthenaStateCancelled:
		return true
	default:
		return false
	}
}

// AthenaQuery is the (sql, workgroup, catalog, schema) request plus its
// execution id once submitted.
type AthenaQuery struct {
	SQL         string
	Workgroup   string
	Catalog     string
	Schema      string
	ExecutionID string
}

// ToolEffect classifies the mutating impact of a tool action.
type ToolEffect string

const (
	EffectRead   ToolEffect = "read"
	EffectCreate ToolEffect = "create"
	EffectUpdate ToolEffect = "update"
	EffectRemove ToolEffect = "remove"
	EffectAdmin  ToolEffect = "admin"
)

// ToolDescriptor is registered at startup; module_action naming.
type ToolDescriptor struct {
	Module       string
	Action       string
	Description  string
	Schema       interface{}
	Effect       ToolEffect
	RequireJWT   bool
	Advanced     bool // [ADVANCED]/[INTERNAL] — accepted, not advertised
	Disabled     bool
}

// Name returns the wire tool name "module_action".
func (d ToolDescriptor) Name() string { return d.Module + "_" + d.Action }

// WorkflowStatus tracks a legacy-mode, in-memory-only workflow.
type WorkflowStatus string

const (
	WorkflowQueued    WorkflowStatus = "queued"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowRecord exists only for the lifetime of the process in legacy
// mode; no durability guarantee (spec §3, §9 open question 3).
type WorkflowRecord struct {
	ID     string
	Name   string
	Steps  []string
	Status WorkflowStatus
}
