package tools

import (
	"context"

	dps3 "github.com/quiltdata/quilt-mcp-server/internal/dataplane/s3"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

func (h *Handler) callBuckets(ctx context.Context, rc *model.RequestContext, action string, args map[string]interface{}) (string, error) {
	switch action {
	case "list":
		ops, err := h.ops(rc)
		if err != nil {
			return "", err
		}
		buckets, err := ops.BucketList(ctx, rc)
		if err != nil {
			return "", err
		}
		return jsonText(buckets)

	case "objects_list":
		client, err := h.s3Client(ctx, rc)
		if err != nil {
			return "", err
		}
		maxKeys := int32(intArg(args, "max_keys", 1000))
		result, err := dps3.List(ctx, client, stringArg(args, "bucket"), stringArg(args, "prefix"), stringArg(args, "continuation_token"), maxKeys)
		if err != nil {
			return "", err
		}
		return jsonText(result)

	case "objects_get":
		client, err := h.s3Client(ctx, rc)
		if err != nil {
			return "", err
		}
		opts := dps3.GetOptions{VersionID: stringArg(args, "version_id")}
		bucket, key := stringArg(args, "bucket"), stringArg(args, "key")
		if boolArg(args, "as_text") {
			text, err := dps3.GetText(ctx, client, bucket, key, opts)
			if err != nil {
				return "", err
			}
			return jsonText(map[string]string{"bucket": bucket, "key": key, "text": text})
		}
		data, err := dps3.GetBytes(ctx, client, bucket, key, opts)
		if err != nil {
			return "", err
		}
		return jsonText(map[string]interface{}{"bucket": bucket, "key": key, "size": len(data)})

	case "objects_put":
		client, err := h.s3Client(ctx, rc)
		if err != nil {
			return "", err
		}
		bucket := stringArg(args, "bucket")
		rawItems, _ := args["items"].([]interface{})
		items := make([]dps3.PutItem, 0, len(rawItems))
		for _, raw := range rawItems {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			items = append(items, dps3.PutItem{
				Key:         stringArg(m, "key"),
				Text:        stringArg(m, "text"),
				SourceURI:   stringArg(m, "source_uri"),
				ContentType: stringArg(m, "content_type"),
			})
		}
		results, err := dps3.Put(ctx, client, bucket, items)
		if err != nil {
			return "", err
		}
		return jsonText(results)

	case "objects_presign":
		client, err := h.s3Client(ctx, rc)
		if err != nil {
			return "", err
		}
		ttl := int64(intArg(args, "ttl_seconds", 3600))
		url, err := dps3.Presign(ctx, client, stringArg(args, "bucket"), stringArg(args, "key"), stringArg(args, "method"), ttl)
		if err != nil {
			return "", err
		}
		return jsonText(map[string]string{"url": url})

	default:
		return "", unknownAction("buckets", action)
	}
}
