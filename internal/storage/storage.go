package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage captures the S3-compatible operations used for the export archive
// and for pulling feed exports.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	UploadObject(ctx context.Context, key string, data []byte, contentType string) error
}

// ResolveObjectKey turns a reference into an object key. A reference ending in "/"
// is a prefix and resolves to its lexically last object with one of the given
// extensions, which for date-stamped exports is the newest one.
func ResolveObjectKey(ctx context.Context, objects ObjectStorage, ref string, exts ...string) (string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "/")
	if ref == "" {
		return "", fmt.Errorf("object reference is empty")
	}
	if !strings.HasSuffix(ref, "/") {
		return ref, nil
	}

	listed, err := objects.ListObjects(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("list objects for prefix %s: %w", ref, err)
	}

	var keys []string
	for _, obj := range listed {
		if hasExt(obj.Key, exts) {
			keys = append(keys, obj.Key)
		}
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("no %s files found for prefix %s", strings.Join(exts, "/"), ref)
	}

	sort.Strings(keys)
	return keys[len(keys)-1], nil
}

func hasExt(key string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(key))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
