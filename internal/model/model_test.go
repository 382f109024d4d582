package model

import (
	"context"
	"testing"
	"time"
)

func TestDeploymentPreset(t *testing.T) {
	tests := []struct {
		deployment  Deployment
		wantBackend Backend
		wantTransport Transport
	}{
		{DeploymentRemote, BackendGraphQL, TransportHTTP},
		{DeploymentLegacy, BackendDirect, TransportStdio},
		{DeploymentLocal, BackendGraphQL, TransportStdio},
		{Deployment("unknown"), BackendGraphQL, TransportStdio},
	}
	for _, tt := range tests {
		be, tr := tt.deployment.Preset()
		if be != tt.wantBackend || tr != tt.wantTransport {
			t.Errorf("Deployment(%s).Preset() = (%s, %s), want (%s, %s)", tt.deployment, be, tr, tt.wantBackend, tt.wantTransport)
		}
	}
}

func TestRedacted(t *testing.T) {
	if got := Redacted("short"); got != "****" {
		t.Errorf("Redacted(short) = %q, want ****", got)
	}
	long := "eyJhbGciOiJIUzI1NiJ9.payload.signature"
	got := Redacted(long)
	if got != long[:4]+"..."+long[len(long)-4:] {
		t.Errorf("Redacted(long) = %q", got)
	}
}

func TestAWSCredentialBundleExpired(t *testing.T) {
	bundle := AWSCredentialBundle{Expiration: time.Now().Add(1 * time.Minute)}
	if bundle.Expired(0) {
		t.Errorf("bundle expiring in 1m should not be expired with no buffer")
	}
	if !bundle.Expired(2 * time.Minute) {
		t.Errorf("bundle expiring in 1m should be expired with a 2m buffer")
	}
}

func TestRequestContextImmutability(t *testing.T) {
	ctx := context.Background()
	rc := NewRequestContext(ctx, "req-1", DeploymentLocal, BackendGraphQL, "https://example.com", "s3://registry")

	claims := &JWTClaims{Subject: "alice"}
	withClaims := rc.WithClaims(claims)
	if rc.Claims != nil {
		t.Errorf("original RequestContext must not be mutated by WithClaims")
	}
	if withClaims.Claims != claims {
		t.Errorf("WithClaims did not attach claims to the copy")
	}

	bundle := &AWSCredentialBundle{AccessKeyID: "AKIA..."}
	withCreds := withClaims.WithCredentials(bundle)
	if withClaims.Credentials != nil {
		t.Errorf("WithCredentials must not mutate its receiver")
	}
	if withCreds.Claims != claims {
		t.Errorf("WithCredentials must preserve previously attached claims")
	}
	if withCreds.Context() != ctx {
		t.Errorf("Context() should return the context the RequestContext was built with")
	}
}

func TestToolDescriptorName(t *testing.T) {
	d := ToolDescriptor{Module: "buckets", Action: "list"}
	if d.Name() != "buckets_list" {
		t.Errorf("Name() = %q, want buckets_list", d.Name())
	}
}

func TestAthenaQueryStateTerminal(t *testing.T) {
	terminal := []AthenaQueryState{AthenaStateSucceeded, AthenaStateFailed, AthenaStateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []AthenaQueryState{AthenaStateQueued, AthenaStateRunning}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
