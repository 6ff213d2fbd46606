// Package blob stores finished episode audio and returns a public URL.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage is the object storage contract consumed by the run orchestrator.
type Storage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FS implements Storage on the local filesystem, serving files under a
// configured public base URL.
type FS struct {
	root    string
	baseURL string
}

// NewFS creates an FS store rooted at dir, mapping keys to baseURL/key.
func NewFS(dir, baseURL string) *FS {
	return &FS{root: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes data under key and returns its public URL.
func (f *FS) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	path := filepath.Join(f.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return f.baseURL + "/" + key, nil
}
