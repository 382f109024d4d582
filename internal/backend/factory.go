package backend

import (
	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// Factory builds the per-request QuiltOps implementation for the
// resolved deployment mode (spec §4.4). It holds no per-request state
// itself — grounded on the flat, capability-set pattern of
// pkg/anchor/adapter, generalized from a name-keyed registry (dozens of
// database types) down to the two variants this domain has.
type Factory struct {
	direct  QuiltOps
	graphql QuiltOps
}

func NewFactory(direct, graphql QuiltOps) *Factory {
	return &Factory{direct: direct, graphql: graphql}
}

// For returns the QuiltOps implementation for rc.Backend.
func (f *Factory) For(rc *model.RequestContext) (QuiltOps, error) {
	switch rc.Backend {
	case model.BackendDirect:
		if f.direct == nil {
			return nil, toolerr.New(toolerr.KindConfigInvalid, "direct backend is not configured")
		}
		return f.direct, nil
	case model.BackendGraphQL:
		if f.graphql == nil {
			return nil, toolerr.New(toolerr.KindConfigInvalid, "graphql backend is not configured")
		}
		return f.graphql, nil
	default:
		return nil, toolerr.New(toolerr.KindConfigInvalid, "unknown backend kind: "+string(rc.Backend))
	}
}
