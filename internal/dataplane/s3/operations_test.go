package s3

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// newTestClient points an s3.Client at an httptest server using path-style
// addressing, so canned XML/error responses exercise the real SDK request
// and response parsing without ever touching AWS.
func newTestClient(srv *httptest.Server) *s3.Client {
	return s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  awscreds.NewStaticCredentialsProvider("AKID", "SECRET", ""),
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
	})
}

func TestListParsesObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>data/a.csv</Key>
    <Size>123</Size>
    <ETag>"abc"</ETag>
    <StorageClass>STANDARD</StorageClass>
    <LastModified>2024-01-02T03:04:05.000Z</LastModified>
  </Contents>
</ListBucketResult>`))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	result, err := List(context.Background(), client, "bucket", "data/", "", 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.IsTruncated {
		t.Errorf("IsTruncated = true, want false")
	}
	if len(result.Objects) != 1 || result.Objects[0].Key != "data/a.csv" || result.Objects[0].Size != 123 {
		t.Fatalf("Objects = %+v", result.Objects)
	}
}

func TestListPropagatesContinuationToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>tok-2</NextContinuationToken>
</ListBucketResult>`))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	result, err := List(context.Background(), client, "bucket", "", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !result.IsTruncated || result.NextContinuation != "tok-2" {
		t.Errorf("result = %+v", result)
	}
}

func TestGetBytesMapsNoSuchKeyToNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	_, err := GetBytes(context.Background(), client, "bucket", "missing.csv", GetOptions{})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if toolerr.AsToolError(err).Kind != toolerr.KindNotFound {
		t.Errorf("Kind = %s, want NOT_FOUND", toolerr.AsToolError(err).Kind)
	}
}

func TestGetBytesMapsAccessDeniedToPermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	_, err := GetBytes(context.Background(), client, "bucket", "secret.csv", GetOptions{})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if toolerr.AsToolError(err).Kind != toolerr.KindPermissionDenied {
		t.Errorf("Kind = %s, want PERMISSION_DENIED", toolerr.AsToolError(err).Kind)
	}
}

func TestGetTextDecodesBodyAsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello, quilt"))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	text, err := GetText(context.Background(), client, "bucket", "readme.txt", GetOptions{})
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if text != "hello, quilt" {
		t.Errorf("text = %q", text)
	}
}

func TestPutFailsFastWhenBucketMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv)
	_, err := Put(context.Background(), client, "missing-bucket", []PutItem{{Key: "a", Text: "b"}})
	if err == nil {
		t.Fatalf("expected an error when HeadBucket fails")
	}
}

func TestPutWritesTextItem(t *testing.T) {
	var sawPut bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method == http.MethodPut {
			sawPut = true
			w.WriteHeader(http.StatusOK)
			return
		}
	}))
	defer srv.Close()

	client := newTestClient(srv)
	results, err := Put(context.Background(), client, "bucket", []PutItem{{Key: "a.txt", Text: "hello"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !sawPut {
		t.Errorf("expected a PUT request to reach the server")
	}
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v", results)
	}
}

func TestPresignRejectsUnknownMethod(t *testing.T) {
	client := newTestClient(httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	_, err := Presign(context.Background(), client, "bucket", "key", "DELETE", 60)
	if err == nil {
		t.Fatalf("expected VALIDATION_FAILED for an unsupported presign method")
	}
	if toolerr.AsToolError(err).Kind != toolerr.KindValidationFailed {
		t.Errorf("Kind = %s, want VALIDATION_FAILED", toolerr.AsToolError(err).Kind)
	}
}

func TestPresignBuildsGetURL(t *testing.T) {
	client := newTestClient(httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	url, err := Presign(context.Background(), client, "bucket", "key.csv", "GET", 900)
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	if url == "" {
		t.Errorf("expected a non-empty presigned URL")
	}
}
