package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
	"github.com/quiltdata/quilt-mcp-server/pkg/keyring"
	"github.com/quiltdata/quilt-mcp-server/pkg/logger"
)

func newTestExchanger(requireJWT bool) *CredentialExchanger {
	return NewCredentialExchanger(http.DefaultClient, logger.New("auth-test", "0.0.0"), requireJWT)
}

func TestExchangeUsesEmbeddedCredentials(t *testing.T) {
	ce := newTestExchanger(true)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentLocal, model.BackendGraphQL, "", "")
	rc = rc.WithClaims(&model.JWTClaims{
		Subject: "alice",
		EmbeddedCredentials: &model.AWSCredentialBundle{
			AccessKeyID:     "AKIAEMBEDDED",
			SecretAccessKey: "secret",
			Expiration:      time.Now().Add(time.Hour),
		},
	})

	bundle, err := ce.Exchange(context.Background(), rc, "raw-token")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if bundle.AccessKeyID != "AKIAEMBEDDED" {
		t.Errorf("AccessKeyID = %q, want the embedded bundle's key", bundle.AccessKeyID)
	}
}

func TestExchangeCatalogProbeAndCache(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer token-123" {
			t.Errorf("expected bearer token forwarded to the catalog, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"AccessKeyId":"AKIACATALOG","SecretAccessKey":"s3cr3t","SessionToken":"tok","Expiration":"` + time.Now().Add(time.Hour).Format(time.RFC3339) + `"}`))
	}))
	defer srv.Close()

	ce := newTestExchanger(true)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentLocal, model.BackendGraphQL, srv.URL, "")
	rc = rc.WithClaims(&model.JWTClaims{Subject: "alice"})

	bundle, err := ce.Exchange(context.Background(), rc, "token-123")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if bundle.AccessKeyID != "AKIACATALOG" {
		t.Errorf("AccessKeyID = %q, want AKIACATALOG", bundle.AccessKeyID)
	}

	// Second call with the same (catalog, subject, token) must hit the cache.
	if _, err := ce.Exchange(context.Background(), rc, "token-123"); err != nil {
		t.Fatalf("Exchange (cached): %v", err)
	}
	if calls != 1 {
		t.Errorf("catalog endpoint called %d times, want 1 (second call should be served from cache)", calls)
	}
}

func TestExchangeFailsWithoutAnyUsableProbe(t *testing.T) {
	ce := newTestExchanger(true)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentLocal, model.BackendGraphQL, "", "")
	rc = rc.WithClaims(&model.JWTClaims{Subject: "alice"})

	_, err := ce.Exchange(context.Background(), rc, "")
	if err == nil {
		t.Fatalf("expected an error when no probe can resolve credentials under require-jwt")
	}
	te := toolerr.AsToolError(err)
	if te.Kind != toolerr.KindAuthNoCredentials {
		t.Errorf("Kind = %s, want AUTH_NO_CREDENTIALS", te.Kind)
	}
}

func TestExchangeAmbientProbeOnlyWhenNotRequireJWT(t *testing.T) {
	strict := newTestExchanger(true)
	lenient := newTestExchanger(false)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentLocal, model.BackendGraphQL, "", "")

	if _, err := strict.Exchange(context.Background(), rc, ""); err == nil {
		t.Errorf("strict exchanger should fail with no credentials and no catalog")
	}
	// With require-jwt off, the ambient probe hands back an empty bundle
	// signaling "defer to the AWS SDK's default provider chain" rather
	// than failing outright.
	bundle, err := lenient.Exchange(context.Background(), rc, "")
	if err != nil {
		t.Fatalf("lenient exchanger should defer to the ambient chain instead of erroring: %v", err)
	}
	if bundle == nil {
		t.Fatalf("expected a non-nil (possibly empty) bundle from the ambient probe")
	}
}

func TestExchangeLocalFileProbeInLocalMode(t *testing.T) {
	km := keyring.NewFileKeyring(filepath.Join(t.TempDir(), "keyring.json"), "test-password")

	bundle := model.AWSCredentialBundle{
		AccessKeyID:     "AKIALOCAL",
		SecretAccessKey: "s3cr3t",
		Expiration:      time.Now().Add(time.Hour),
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}
	if err := km.Set("quilt-mcp/https://catalog.example.com", "alice", string(raw)); err != nil {
		t.Fatalf("seeding file keyring: %v", err)
	}

	ce := newTestExchanger(true)
	ce.localKeyring = keyring.NewKeyringManagerForFile(km)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentLocal, model.BackendGraphQL, "https://catalog.example.com", "")
	rc = rc.WithClaims(&model.JWTClaims{Subject: "alice"})

	got, err := ce.Exchange(context.Background(), rc, "")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if got.AccessKeyID != "AKIALOCAL" {
		t.Errorf("AccessKeyID = %q, want AKIALOCAL", got.AccessKeyID)
	}
}

func TestExchangeLocalFileProbeSkippedInRemoteMode(t *testing.T) {
	km := keyring.NewFileKeyring(filepath.Join(t.TempDir(), "keyring.json"), "test-password")
	bundle := model.AWSCredentialBundle{AccessKeyID: "AKIALOCAL", Expiration: time.Now().Add(time.Hour)}
	raw, _ := json.Marshal(bundle)
	km.Set("quilt-mcp/https://catalog.example.com", "alice", string(raw))

	ce := newTestExchanger(false)
	ce.localKeyring = keyring.NewKeyringManagerForFile(km)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentRemote, model.BackendGraphQL, "https://catalog.example.com", "")
	rc = rc.WithClaims(&model.JWTClaims{Subject: "alice"})

	got, err := ce.Exchange(context.Background(), rc, "")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if got.AccessKeyID == "AKIALOCAL" {
		t.Errorf("remote deployment must not consult the local credential file")
	}
}

func TestLogoutClearsCache(t *testing.T) {
	ce := newTestExchanger(true)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentLocal, model.BackendGraphQL, "", "")
	rc = rc.WithClaims(&model.JWTClaims{
		Subject:             "alice",
		EmbeddedCredentials: &model.AWSCredentialBundle{AccessKeyID: "AKIA1", Expiration: time.Now().Add(time.Hour)},
	})
	if _, err := ce.Exchange(context.Background(), rc, "tok"); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	ce.Logout()
	ce.mu.Lock()
	n := len(ce.cache)
	ce.mu.Unlock()
	if n != 0 {
		t.Errorf("cache should be empty after Logout, has %d entries", n)
	}
}
