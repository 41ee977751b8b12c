// Package storage moves uploaded form files to durable storage under
// per-session namespaces and reclaims space when values change.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"streamform/internal/util"
)

// FileStorage stores uploaded files addressed by <namespace>/<filename>
// paths. Save never overwrites: name collisions are resolved with a
// disambiguating suffix.
type FileStorage interface {
	Save(ctx context.Context, namespace, filename string, r io.Reader, size int64) (string, error)
	Delete(ctx context.Context, path string) error
	URL(ctx context.Context, path string) (string, error)
}

func safeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return name
}

// suffixed inserts a short random suffix before the extension, keeping the
// original name recognizable.
func suffixed(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + "_" + util.NewShortID() + ext
}
