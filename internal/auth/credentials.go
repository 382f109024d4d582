package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
	"github.com/quiltdata/quilt-mcp-server/pkg/keyring"
	"github.com/quiltdata/quilt-mcp-server/pkg/logger"
)

// probeResult is the outcome of one link in the credential-exchange
// pipeline: exactly one of ok/skip/err holds (spec §9 "pipeline of
// probes", not a fallback tower of try/catch).
type probeResult struct {
	bundle *model.AWSCredentialBundle
	skip   bool
	err    error
}

// probe is one step of the credential-exchange chain.
type probe func(ctx context.Context, rc *model.RequestContext, rawToken string) probeResult

// CredentialExchanger runs the four-step chain of spec §4.3 and caches
// the result by (catalog, subject, token-hash) with single-flight
// collapsing of concurrent refreshes for the same key.
type CredentialExchanger struct {
	httpClient *http.Client
	log        *logger.Logger
	requireJWT bool

	// localKeyring is consulted read-only by localFileProbe in
	// local/legacy deployments (spec §6 "persisted state"). Nil in
	// remote deployments, where this server never reads local state.
	localKeyring *keyring.KeyringManager

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]*model.AWSCredentialBundle
}

func NewCredentialExchanger(httpClient *http.Client, log *logger.Logger, requireJWT bool) *CredentialExchanger {
	return &CredentialExchanger{
		httpClient: httpClient,
		log:        log,
		requireJWT: requireJWT,
		cache:      make(map[string]*model.AWSCredentialBundle),
	}
}

// WithLocalKeyring enables the local/legacy read-only credential-file
// probe. Remote deployments never call this — there is no per-user
// home directory to consult.
func (ce *CredentialExchanger) WithLocalKeyring(km *keyring.KeyringManager) *CredentialExchanger {
	ce.localKeyring = km
	return ce
}

func cacheKey(catalogURL, subject, rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return catalogURL + "|" + subject + "|" + hex.EncodeToString(sum[:8])
}

// Exchange returns a usable AWSCredentialBundle for rc, running the
// pipeline and caching/coalescing as required. rawToken may be empty
// (no bearer presented); that's only fatal in strict mode.
func (ce *CredentialExchanger) Exchange(ctx context.Context, rc *model.RequestContext, rawToken string) (*model.AWSCredentialBundle, error) {
	subject := "anonymous"
	if rc.Claims != nil {
		subject = rc.Claims.Subject
	}
	key := cacheKey(rc.CatalogURL, subject, rawToken)

	if cached := ce.lookup(key); cached != nil {
		return cached, nil
	}

	v, err, _ := ce.group.Do(key, func() (interface{}, error) {
		if cached := ce.lookup(key); cached != nil {
			return cached, nil
		}
		bundle, err := ce.runPipeline(ctx, rc, rawToken)
		if err != nil {
			return nil, err
		}
		ce.store(key, bundle)
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.AWSCredentialBundle), nil
}

func (ce *CredentialExchanger) lookup(key string) *model.AWSCredentialBundle {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	b, ok := ce.cache[key]
	if !ok {
		return nil
	}
	if b.Expired(5 * time.Minute) {
		delete(ce.cache, key)
		return nil
	}
	return b
}

func (ce *CredentialExchanger) store(key string, b *model.AWSCredentialBundle) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.cache[key] = b
}

// Logout evicts every cache entry (spec §4.3 "evicted ... on explicit logout").
func (ce *CredentialExchanger) Logout() {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.cache = make(map[string]*model.AWSCredentialBundle)
}

func (ce *CredentialExchanger) runPipeline(ctx context.Context, rc *model.RequestContext, rawToken string) (*model.AWSCredentialBundle, error) {
	probes := []probe{
		ce.embeddedClaimProbe,
		ce.localFileProbe,
		ce.catalogExchangeProbe(rawToken),
		ce.ambientProbe,
	}
	for _, p := range probes {
		res := p(ctx, rc, rawToken)
		if res.err != nil {
			return nil, res.err
		}
		if res.skip {
			continue
		}
		if res.bundle != nil {
			return res.bundle, nil
		}
	}
	return nil, toolerr.New(toolerr.KindAuthNoCredentials, "no usable AWS credentials for this request").
		WithFixHint("configure a JWT-embedded credential bundle, a reachable catalog credential-exchange endpoint, or disable require-jwt")
}

// embeddedClaimProbe: step 1.
func (ce *CredentialExchanger) embeddedClaimProbe(_ context.Context, rc *model.RequestContext, _ string) probeResult {
	if rc.Claims != nil && rc.Claims.EmbeddedCredentials != nil {
		return probeResult{bundle: rc.Claims.EmbeddedCredentials}
	}
	return probeResult{skip: true}
}

// localFileProbe: step 2, local/legacy only. Consults the per-user
// credential cache read-only (spec §6 "may be consulted read-only by
// the direct backend — writing to it is not a responsibility of this
// server"). A miss or decode failure just skips to the next probe;
// this is a convenience for repeated local runs, never a hard
// dependency.
func (ce *CredentialExchanger) localFileProbe(_ context.Context, rc *model.RequestContext, _ string) probeResult {
	if ce.localKeyring == nil {
		return probeResult{skip: true}
	}
	if rc.Deployment != model.DeploymentLocal && rc.Deployment != model.DeploymentLegacy {
		return probeResult{skip: true}
	}
	subject := "anonymous"
	if rc.Claims != nil {
		subject = rc.Claims.Subject
	}
	raw, err := ce.localKeyring.Get("quilt-mcp/"+rc.CatalogURL, subject)
	if err != nil || raw == "" {
		return probeResult{skip: true}
	}
	var bundle model.AWSCredentialBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		if ce.log != nil {
			ce.log.Warnf("local credential file entry for %s unreadable, ignoring: %v", subject, err)
		}
		return probeResult{skip: true}
	}
	if bundle.Expired(5 * time.Minute) {
		return probeResult{skip: true}
	}
	return probeResult{bundle: &bundle}
}

// catalogExchangeProbe: step 3.
func (ce *CredentialExchanger) catalogExchangeProbe(rawToken string) probe {
	return func(ctx context.Context, rc *model.RequestContext, _ string) probeResult {
		if rawToken == "" || rc.CatalogURL == "" {
			return probeResult{skip: true}
		}
		url := rc.CatalogURL + "/api/auth/get_credentials"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return probeResult{err: toolerr.Wrap(toolerr.KindInternal, "building credential-exchange request", err)}
		}
		req.Header.Set("Authorization", "Bearer "+rawToken)

		resp, err := ce.httpClient.Do(req)
		if err != nil {
			return probeResult{err: toolerr.Wrap(toolerr.KindUpstreamUnavailable, "catalog credential exchange unreachable", err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return probeResult{skip: true}
		}
		if resp.StatusCode >= 500 {
			return probeResult{err: toolerr.New(toolerr.KindUpstreamUnavailable, fmt.Sprintf("catalog credential exchange returned %d", resp.StatusCode))}
		}
		if resp.StatusCode != http.StatusOK {
			return probeResult{skip: true}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return probeResult{err: toolerr.Wrap(toolerr.KindUpstreamUnavailable, "reading credential-exchange response", err)}
		}

		var wire struct {
			AccessKeyID     string `json:"AccessKeyId"`
			SecretAccessKey string `json:"SecretAccessKey"`
			SessionToken    string `json:"SessionToken"`
			Expiration      string `json:"Expiration"`
		}
		if err := json.Unmarshal(body, &wire); err != nil || wire.AccessKeyID == "" {
			return probeResult{skip: true}
		}
		exp, err := time.Parse(time.RFC3339, wire.Expiration)
		if err != nil {
			exp = time.Now().Add(15 * time.Minute)
		}
		return probeResult{bundle: &model.AWSCredentialBundle{
			AccessKeyID:     wire.AccessKeyID,
			SecretAccessKey: wire.SecretAccessKey,
			SessionToken:    wire.SessionToken,
			Expiration:      exp,
		}}
	}
}

// ambientProbe: step 4, only reachable when require-jwt is false.
func (ce *CredentialExchanger) ambientProbe(_ context.Context, _ *model.RequestContext, _ string) probeResult {
	if ce.requireJWT {
		return probeResult{skip: true}
	}
	// Ambient credentials (env, container role, instance profile) are
	// resolved lazily by the AWS SDK's default provider chain at the
	// point of use in internal/dataplane/s3 and internal/dataplane/athena
	// — returning an empty bundle (no access key) here signals "use the
	// default chain" rather than a concrete bundle, since the ambient
	// chain refreshes itself.
	return probeResult{bundle: &model.AWSCredentialBundle{}}
}
