package s3

import (
	"bytes"
	"errors"
	"io"
	"time"

	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// ObjectSummary is one entry returned by List.
type ObjectSummary struct {
	Key          string
	Size         int64
	LastModified string
	ETag         string
	StorageClass string
}

// ListResult is a single page of a paginated listing (spec §4.5 list()).
type ListResult struct {
	Objects           []ObjectSummary
	NextContinuation  string
	IsTruncated       bool
}

// List enumerates objects under prefix, honoring an opaque continuation
// token and a max-keys cap.
func List(ctx context.Context, client *s3.Client, bucket, prefix, continuation string, maxKeys int32) (ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxKeys),
	}
	if continuation != "" {
		input.ContinuationToken = aws.String(continuation)
	}

	out, err := client.ListObjectsV2(ctx, input)
	if err != nil {
		return ListResult{}, mapError(err, bucket, prefix)
	}

	result := ListResult{IsTruncated: aws.ToBool(out.IsTruncated)}
	if out.NextContinuationToken != nil {
		result.NextContinuation = *out.NextContinuationToken
	}
	for _, obj := range out.Contents {
		result.Objects = append(result.Objects, ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: formatTime(obj),
			ETag:         aws.ToString(obj.ETag),
			StorageClass: string(obj.StorageClass),
		})
	}
	return result, nil
}

func formatTime(obj types.Object) string {
	if obj.LastModified == nil {
		return ""
	}
	return obj.LastModified.UTC().Format("2006-01-02T15:04:05Z")
}

// Head reports object metadata without a body.
func Head(ctx context.Context, client *s3.Client, bucket, key string) (ObjectSummary, error) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return ObjectSummary{}, mapError(err, bucket, key)
	}
	return ObjectSummary{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		StorageClass: string(out.StorageClass),
	}, nil
}

// GetOptions carries the optional version_id and byte-range query
// parameters spec §4.5 requires be distinguished in the result envelope.
type GetOptions struct {
	VersionID string
	Range     string // e.g. "bytes=0-1023"
}

// GetBytes retrieves an object's raw content.
func GetBytes(ctx context.Context, client *s3.Client, bucket, key string, opts GetOptions) ([]byte, error) {
	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if opts.VersionID != "" {
		input.VersionId = aws.String(opts.VersionID)
	}
	if opts.Range != "" {
		input.Range = aws.String(opts.Range)
	}

	out, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, mapError(err, bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindUpstreamUnavailable, "reading object body", err)
	}
	return data, nil
}

// GetText retrieves an object's content decoded as UTF-8 text.
func GetText(ctx context.Context, client *s3.Client, bucket, key string, opts GetOptions) (string, error) {
	data, err := GetBytes(ctx, client, bucket, key, opts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PutItem is one entry of a batch Put; exactly one content source is set.
type PutItem struct {
	Key       string
	Text      string
	Bytes     []byte
	SourceURI string // s3://bucket/key form, copied server-side
	ContentType string
}

// PutItemResult is the per-item outcome of a batch Put (spec §4.5:
// "not atomic; per-item results are reported").
type PutItemResult struct {
	Key   string
	OK    bool
	Error *toolerr.Error
}

// Put writes a batch of items to bucket. A global failure (auth, bucket
// missing) short-circuits the whole batch and is returned as the error;
// otherwise every item gets its own PutItemResult.
func Put(ctx context.Context, client *s3.Client, bucket string, items []PutItem) ([]PutItemResult, error) {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, mapError(err, bucket, "")
	}

	results := make([]PutItemResult, 0, len(items))
	for _, item := range items {
		results = append(results, putOne(ctx, client, bucket, item))
	}
	return results, nil
}

func putOne(ctx context.Context, client *s3.Client, bucket string, item PutItem) PutItemResult {
	var body io.Reader
	switch {
	case item.SourceURI != "":
		srcBucket, srcKey, err := parseS3URI(item.SourceURI)
		if err != nil {
			return PutItemResult{Key: item.Key, Error: toolerr.Wrap(toolerr.KindValidationFailed, "invalid source_uri", err)}
		}
		_, err = client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(item.Key),
			CopySource: aws.String(srcBucket + "/" + srcKey),
		})
		if err != nil {
			return PutItemResult{Key: item.Key, Error: mapErrorAsTool(err)}
		}
		return PutItemResult{Key: item.Key, OK: true}
	case item.Text != "":
		body = bytes.NewReader([]byte(item.Text))
	default:
		body = bytes.NewReader(item.Bytes)
	}

	input := &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(item.Key), Body: body}
	if item.ContentType != "" {
		input.ContentType = aws.String(item.ContentType)
	}
	if _, err := client.PutObject(ctx, input); err != nil {
		return PutItemResult{Key: item.Key, Error: mapErrorAsTool(err)}
	}
	return PutItemResult{Key: item.Key, OK: true}
}

func parseS3URI(uri string) (bucket, key string, err error) {
	const prefix = "s3://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", "", errors.New("not an s3:// uri")
	}
	rest := uri[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return rest, "", nil
}

// Delete removes a single object. Used by package unpublish/delete
// paths, not exposed as its own bucket_objects tool action (spec §4.5
// names list/head/get/put/presign only).
func Delete(ctx context.Context, client *s3.Client, bucket, key string) error {
	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return mapError(err, bucket, key)
	}
	return nil
}

// Presign builds a presigned URL for get/put (method) valid for ttl.
func Presign(ctx context.Context, client *s3.Client, bucket, key, method string, ttlSeconds int64) (string, error) {
	presignClient := s3.NewPresignClient(client)
	ttl := time.Duration(ttlSeconds) * time.Second
	switch method {
	case "GET":
		req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
			s3.WithPresignExpires(ttl))
		if err != nil {
			return "", mapError(err, bucket, key)
		}
		return req.URL, nil
	case "PUT":
		req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
			s3.WithPresignExpires(ttl))
		if err != nil {
			return "", mapError(err, bucket, key)
		}
		return req.URL, nil
	default:
		return "", toolerr.New(toolerr.KindValidationFailed, "presign method must be GET or PUT")
	}
}

// mapError distinguishes InvalidVersionId/NoSuchVersion/AccessDenied and
// NotFound per spec §4.5, rather than collapsing everything to a generic
// upstream failure.
func mapError(err error, bucket, key string) error {
	return mapErrorAsTool(err)
}

func mapErrorAsTool(err error) *toolerr.Error {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return toolerr.Wrap(toolerr.KindNotFound, "object or bucket not found", err)
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 404:
			return toolerr.Wrap(toolerr.KindNotFound, "object not found", err)
		case 403:
			return toolerr.Wrap(toolerr.KindPermissionDenied, "access denied", err)
		default:
			if code := errorCodeOf(err); code == "InvalidVersionId" || code == "NoSuchVersion" {
				return toolerr.Wrap(toolerr.KindNotFound, "version not found", err)
			}
			if respErr.HTTPStatusCode() >= 500 {
				return toolerr.Wrap(toolerr.KindUpstreamUnavailable, "s3 service error", err)
			}
		}
	}
	return toolerr.Wrap(toolerr.KindUpstreamUnavailable, "s3 request failed", err)
}

func errorCodeOf(err error) string {
	type apiError interface{ ErrorCode() string }
	var ae apiError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
