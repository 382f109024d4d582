package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	"github.com/quiltdata/quilt-mcp-server/internal/backend/sdk"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

// newFakePackagingS3Server is an in-memory S3 object store served over
// HTTP, so the durable manifest/tags/names-index writes in sdk.go exercise
// a real *s3.Client instead of a nil client that never actually reaches S3
// (see internal/backend/sdk/sdk_test.go's newFakeS3Server for the same
// pattern).
func newFakePackagingS3Server() *httptest.Server {
	var mu sync.Mutex
	objs := make(map[string][]byte)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
		var key string
		if len(parts) > 1 {
			key = parts[1]
		}

		switch r.Method {
		case http.MethodHead:
			mu.Lock()
			_, ok := objs[key]
			mu.Unlock()
			if key == "" || ok {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodGet:
			mu.Lock()
			data, ok := objs[key]
			mu.Unlock()
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`))
				return
			}
			w.Write(data)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			objs[key] = body
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			mu.Lock()
			delete(objs, key)
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
}

func newPackagingHandler() (*Handler, *model.RequestContext) {
	srv := newFakePackagingS3Server()
	client := awss3.New(awss3.Options{
		Region:       "us-east-1",
		Credentials:  awscreds.NewStaticCredentialsProvider("AKID", "SECRET", ""),
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
	})
	direct := sdk.New(func(ctx context.Context, rc *model.RequestContext) (*awss3.Client, error) { return client, nil }, "", "us-east-1", nil)
	factory := backend.NewFactory(direct, direct)
	h := NewHandler(NewRegistry(), factory, nil, nil, "", 5*time.Second, nil, false)
	rc := model.NewRequestContext(context.Background(), "req-1", model.DeploymentLegacy, model.BackendDirect, "", "reg")
	return h, rc
}

func TestCallPackagingCreateThenBrowse(t *testing.T) {
	h, rc := newPackagingHandler()

	createArgs := map[string]interface{}{
		"registry": "reg",
		"name":     "team/pkg",
		"entries": []interface{}{
			map[string]interface{}{"logical_path": "a.csv", "physical_uri": "s3://reg/a.csv", "size": float64(10), "hash": "h"},
		},
	}
	text, err := h.callPackaging(context.Background(), rc, "create", createArgs)
	if err != nil {
		t.Fatalf("callPackaging(create): %v", err)
	}
	var created struct {
		TopHash string `json:"top_hash"`
	}
	if err := json.Unmarshal([]byte(text), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.TopHash == "" {
		t.Fatalf("expected a non-empty top_hash")
	}

	browseText, err := h.callPackaging(context.Background(), rc, "browse", map[string]interface{}{"registry": "reg", "name": "team/pkg"})
	if err != nil {
		t.Fatalf("callPackaging(browse): %v", err)
	}
	if browseText == "" {
		t.Fatalf("expected a non-empty manifest")
	}
}

func TestCallPackagingUnknownActionRejected(t *testing.T) {
	h, rc := newPackagingHandler()
	_, err := h.callPackaging(context.Background(), rc, "bogus", nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown packaging action")
	}
}

func TestCallPackagingTagsAddAndList(t *testing.T) {
	h, rc := newPackagingHandler()
	createArgs := map[string]interface{}{
		"registry": "reg",
		"name":     "team/pkg",
		"entries": []interface{}{
			map[string]interface{}{"logical_path": "a.csv", "physical_uri": "s3://reg/a.csv", "size": float64(10), "hash": "h"},
		},
	}
	text, err := h.callPackaging(context.Background(), rc, "create", createArgs)
	if err != nil {
		t.Fatalf("callPackaging(create): %v", err)
	}
	var created struct {
		TopHash string `json:"top_hash"`
	}
	json.Unmarshal([]byte(text), &created)

	_, err = h.callPackaging(context.Background(), rc, "tags_add", map[string]interface{}{
		"registry": "reg", "name": "team/pkg", "tag": "release", "top_hash": created.TopHash,
	})
	if err != nil {
		t.Fatalf("callPackaging(tags_add): %v", err)
	}

	tagsText, err := h.callPackaging(context.Background(), rc, "tags_list", map[string]interface{}{"registry": "reg", "name": "team/pkg"})
	if err != nil {
		t.Fatalf("callPackaging(tags_list): %v", err)
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(tagsText), &tags); err != nil {
		t.Fatalf("unmarshal tags: %v", err)
	}
	if tags["release"] != created.TopHash {
		t.Errorf("tags = %v", tags)
	}
}
