// Package config resolves the deployment preset and per-option
// overrides into a Resolved configuration (spec.md §4.2). Precedence,
// highest first: explicit CLI flags, environment variables, deployment
// preset, built-in defaults.
package config

import (
	"os"
	"strconv"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
	baseconfig "github.com/quiltdata/quilt-mcp-server/pkg/config"
)

// Flags carries the CLI-flag values as parsed by cmd/quilt-mcp-server;
// an empty string/false/zero means "not set on the command line" so the
// resolver can fall through to env vars and the preset.
type Flags struct {
	Deployment      string
	Backend         string
	Transport       string
	CatalogURL      string
	RegistryURL     string
	RequireJWT      bool
	RequireJWTSet   bool
	JWTSecret       string
	JWTSecretParam  string
	ServiceTimeout  int
	SkipBanner      bool
}

// Resolved is the fully merged, validated configuration C1 and the
// backend factory (C4) consume for the life of the process.
type Resolved struct {
	Deployment     model.Deployment
	Backend        model.Backend
	Transport      model.Transport
	CatalogURL     string
	RegistryURL    string
	RequireJWT     bool
	JWTSecret      string
	JWTSecretParam string
	ServiceTimeout int // seconds
	SkipBanner     bool

	Runtime *baseconfig.Config
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Resolve merges flags, environment, and the deployment preset, and
// validates the combination, returning CONFIG_INVALID on any offending
// field per spec §4.2.
func Resolve(f Flags) (*Resolved, error) {
	deployment := f.Deployment
	if deployment == "" {
		deployment = envOr("QUILT_DEPLOYMENT", string(model.DeploymentLocal))
	}
	dep := model.Deployment(deployment)
	switch dep {
	case model.DeploymentRemote, model.DeploymentLocal, model.DeploymentLegacy:
	default:
		return nil, toolerr.New(toolerr.KindConfigInvalid, "unknown deployment preset: "+deployment).
			WithFixHint("deployment must be one of remote, local, legacy")
	}

	presetBackend, presetTransport := dep.Preset()

	backend := f.Backend
	backendExplicit := backend != ""
	if !backendExplicit {
		backend = os.Getenv("QUILT_BACKEND")
		backendExplicit = backend != ""
	}
	be := presetBackend
	if backendExplicit {
		be = model.Backend(backend)
	}
	switch be {
	case model.BackendDirect, model.BackendGraphQL:
	default:
		return nil, toolerr.New(toolerr.KindConfigInvalid, "unknown backend: "+string(be)).
			WithFixHint("backend must be one of direct, graphql")
	}

	transport := f.Transport
	transportExplicit := transport != ""
	if !transportExplicit {
		transport = os.Getenv("QUILT_TRANSPORT")
		transportExplicit = transport != ""
	}
	tr := presetTransport
	if transportExplicit {
		tr = model.Transport(transport)
	}
	switch tr {
	case model.TransportStdio, model.TransportHTTP:
	default:
		return nil, toolerr.New(toolerr.KindConfigInvalid, "unknown transport: "+string(tr)).
			WithFixHint("transport must be one of stdio, http")
	}

	if dep == model.DeploymentRemote && tr == model.TransportStdio {
		return nil, toolerr.New(toolerr.KindConfigInvalid, "remote deployment requires the http transport").
			WithFixHint("pass --transport http, or choose a different deployment preset")
	}

	catalogURL := f.CatalogURL
	if catalogURL == "" {
		catalogURL = os.Getenv("QUILT_CATALOG_URL")
	}
	registryURL := f.RegistryURL
	if registryURL == "" {
		registryURL = os.Getenv("QUILT_REGISTRY_URL")
	}
	if be == model.BackendGraphQL && catalogURL == "" {
		return nil, toolerr.New(toolerr.KindConfigInvalid, "catalog-url is required for the graphql backend").
			WithFixHint("set --catalog-url or QUILT_CATALOG_URL")
	}

	requireJWT := f.RequireJWT
	if !f.RequireJWTSet {
		if v, err := strconv.ParseBool(os.Getenv("MCP_REQUIRE_JWT")); err == nil {
			requireJWT = v
		}
	}

	jwtSecret := f.JWTSecret
	if jwtSecret == "" {
		jwtSecret = os.Getenv("MCP_JWT_SECRET")
	}
	jwtSecretParam := f.JWTSecretParam
	if jwtSecretParam == "" {
		jwtSecretParam = os.Getenv("MCP_JWT_SECRET_PARAMETER")
	}

	serviceTimeout := f.ServiceTimeout
	if serviceTimeout == 0 {
		serviceTimeout = 60
		if v, err := strconv.Atoi(os.Getenv("SERVICE_TIMEOUT")); err == nil && v > 0 {
			serviceTimeout = v
		}
	}

	runtime := baseconfig.New()
	runtime.Update(map[string]string{
		"deployment":   string(dep),
		"backend":      string(be),
		"transport":    string(tr),
		"catalog_url":  catalogURL,
		"registry_url": registryURL,
	})

	return &Resolved{
		Deployment:     dep,
		Backend:        be,
		Transport:      tr,
		CatalogURL:     catalogURL,
		RegistryURL:    registryURL,
		RequireJWT:     requireJWT,
		JWTSecret:      jwtSecret,
		JWTSecretParam: jwtSecretParam,
		ServiceTimeout: serviceTimeout,
		SkipBanner:     f.SkipBanner,
		Runtime:        runtime,
	}, nil
}
