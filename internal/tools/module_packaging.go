package tools

import (
	"context"

	"github.com/quiltdata/quilt-mcp-server/internal/backend"
	"github.com/quiltdata/quilt-mcp-server/internal/model"
)

func pkgListFilter(args map[string]interface{}) backend.PackageListFilter {
	return backend.PackageListFilter{Prefix: stringArg(args, "prefix")}
}

func toManifestEntries(raw []manifestEntryArg) []model.ManifestEntry {
	out := make([]model.ManifestEntry, 0, len(raw))
	for _, e := range raw {
		out = append(out, model.ManifestEntry{LogicalPath: e.LogicalPath, PhysicalURI: e.PhysicalURI, Size: e.Size, Hash: e.Hash})
	}
	return out
}

func copyModeArg(args map[string]interface{}) model.CopyMode {
	switch stringArg(args, "copy_mode") {
	case "new":
		return model.CopyModeNew
	case "all":
		return model.CopyModeAll
	default:
		return model.CopyModeNone
	}
}

func (h *Handler) callPackaging(ctx context.Context, rc *model.RequestContext, action string, args map[string]interface{}) (string, error) {
	ops, err := h.ops(rc)
	if err != nil {
		return "", err
	}

	switch action {
	case "list":
		page, err := ops.PackageList(ctx, rc, stringArg(args, "registry"),
			pkgListFilter(args), stringArg(args, "cursor"), intArg(args, "limit", 100))
		if err != nil {
			return "", err
		}
		return jsonText(page)

	case "browse":
		manifest, err := ops.PackageBrowse(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"), stringArg(args, "top_hash"))
		if err != nil {
			return "", err
		}
		return jsonText(manifest)

	case "versions_list":
		versions, err := ops.PackageVersionsList(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"),
			intArg(args, "limit", 50), boolArg(args, "with_tags"))
		if err != nil {
			return "", err
		}
		return jsonText(versions)

	case "manifest":
		manifest, err := ops.PackageManifest(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"), stringArg(args, "top_hash"))
		if err != nil {
			return "", err
		}
		return jsonText(manifest)

	case "create":
		topHash, err := ops.PackageCreateRevision(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"),
			toManifestEntries(entriesArg(args, "entries")), mapArg(args, "metadata"), copyModeArg(args))
		if err != nil {
			return "", err
		}
		return jsonText(map[string]string{"top_hash": topHash})

	case "update":
		topHash, err := ops.PackageUpdateRevision(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"),
			toManifestEntries(entriesArg(args, "entries")), mapArg(args, "metadata"), copyModeArg(args))
		if err != nil {
			return "", err
		}
		return jsonText(map[string]string{"top_hash": topHash})

	case "delete":
		if err := ops.PackageDelete(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"), stringArg(args, "top_hash")); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	case "tags_list":
		tags, err := ops.TagList(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"))
		if err != nil {
			return "", err
		}
		return jsonText(tags)

	case "tags_add":
		if err := ops.TagAdd(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"), stringArg(args, "tag"), stringArg(args, "top_hash")); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	case "tags_delete":
		if err := ops.TagDelete(ctx, rc, stringArg(args, "registry"), stringArg(args, "name"), stringArg(args, "tag")); err != nil {
			return "", err
		}
		return jsonText(map[string]bool{"ok": true})

	default:
		return "", unknownAction("packaging", action)
	}
}
