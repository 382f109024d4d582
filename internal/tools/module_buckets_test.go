package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	dps3 "github.com/quiltdata/quilt-mcp-server/internal/dataplane/s3"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

func TestCallBucketsListDelegatesToOps(t *testing.T) {
	h, rc := newTestHandler(&fakeOps{})
	text, err := h.callBuckets(context.Background(), rc, "list", nil)
	if err != nil {
		t.Fatalf("callBuckets(list): %v", err)
	}
	if text != "null" {
		t.Errorf("text = %q, want the JSON encoding of a nil bucket slice", text)
	}
}

func TestCallBucketsObjectsListUsesProxyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <IsTruncated>false</IsTruncated>
</ListBucketResult>`))
	}))
	defer srv.Close()

	h, rc := newTestHandler(&fakeOps{})
	rc = rc.WithCredentials(&model.AWSCredentialBundle{AccessKeyID: "AKID", SecretAccessKey: "SECRET"})
	h.S3Options = dps3.ClientOptions{ProxyURL: srv.URL}

	text, err := h.callBuckets(context.Background(), rc, "objects_list", map[string]interface{}{"bucket": "b1"})
	if err != nil {
		t.Fatalf("callBuckets(objects_list): %v", err)
	}
	if text == "" {
		t.Fatalf("expected a non-empty listing result")
	}
}

func TestCallBucketsUnknownActionRejected(t *testing.T) {
	h, rc := newTestHandler(&fakeOps{})
	_, err := h.callBuckets(context.Background(), rc, "bogus", nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown buckets action")
	}
}
