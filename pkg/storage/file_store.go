package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore saves uploaded files to disk under a base directory. Stored paths
// are slash-separated and relative to the base.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore creates the base directory if missing. baseURL is the public
// prefix stored paths are served under (e.g. "/files").
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the directory files are stored under.
func (f *FileStore) BasePath() string { return f.basePath }

// Save writes an uploaded file under the namespace directory, never
// overwriting an existing file.
func (f *FileStore) Save(_ context.Context, namespace, filename string, r io.Reader, _ int64) (string, error) {
	namespace = safeFilename(namespace)
	targetDir := filepath.Join(f.basePath, namespace)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create namespace dir: %w", err)
	}

	name := safeFilename(filename)
	for {
		target := filepath.Join(targetDir, name)
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			name = suffixed(safeFilename(filename))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			os.Remove(target)
			return "", fmt.Errorf("write file: %w", err)
		}
		if err := out.Close(); err != nil {
			return "", fmt.Errorf("close file: %w", err)
		}
		return path.Join(namespace, name), nil
	}
}

// Delete removes a stored file and prunes any ancestor directories left
// empty, stopping at the storage root. Missing files and pruning failures are
// not errors.
func (f *FileStore) Delete(_ context.Context, stored string) error {
	stored = path.Clean(strings.TrimPrefix(stored, "/"))
	if stored == "." || stored == "" || strings.HasPrefix(stored, "..") {
		return nil
	}
	target := filepath.Join(f.basePath, filepath.FromSlash(stored))
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}

	// Best-effort pruning: a racing cleanup may already have removed a level.
	for dir := path.Dir(stored); dir != "." && dir != "/"; dir = path.Dir(dir) {
		abs := filepath.Join(f.basePath, filepath.FromSlash(dir))
		entries, err := os.ReadDir(abs)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(abs); err != nil {
			break
		}
	}
	return nil
}

// URL returns the public URL of a stored path.
func (f *FileStore) URL(_ context.Context, stored string) (string, error) {
	return f.baseURL + "/" + strings.TrimPrefix(stored, "/"), nil
}
