// Package blob stores opaque binary payloads (capture photos, research
// images) under stable keys.
package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Store persists binary blobs and returns a reference usable later to read
// them back.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Load(ctx context.Context, ref string) ([]byte, string, error)
}

// FSStore keeps blobs as files under a root directory. The content type is
// encoded in the file extension.
type FSStore struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: mkdir %s", root)
	}
	return &FSStore{root: root}, nil
}

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var typeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Save writes data under key. A recognized content type adds an extension;
// anything else is stored with the key as-is.
func (s *FSStore) Save(_ context.Context, key string, data []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	if key == "" {
		return "", eris.New("blob: empty key")
	}
	if ext := extByType[contentType]; ext != "" && !strings.HasSuffix(key, ext) {
		key += ext
	}
	path := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: mkdir for %s", key)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "blob: write %s", key)
	}
	return key, nil
}

// Load reads a blob back by the reference Save returned.
func (s *FSStore) Load(_ context.Context, ref string) ([]byte, string, error) {
	ref = sanitizeKey(ref)
	if ref == "" {
		return nil, "", eris.New("blob: empty ref")
	}
	data, err := os.ReadFile(filepath.Join(s.root, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", eris.Wrapf(err, "blob: %s not found", ref)
		}
		return nil, "", eris.Wrapf(err, "blob: read %s", ref)
	}
	return data, typeByExt[strings.ToLower(filepath.Ext(ref))], nil
}

// sanitizeKey keeps keys inside the root. Path traversal segments are
// rejected by collapsing to the cleaned relative form.
func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(strings.TrimSpace(key)))
	if key == "." || key == "/" || strings.HasPrefix(key, "../") || strings.HasPrefix(key, "/") {
		return ""
	}
	return key
}
