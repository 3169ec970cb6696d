// Package artifacts reads batch inputs and writes job outputs under ARTIFACT_ROOT, on
// local disk or in an S3 prefix.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"EduPipeline/internal/ports"
)

// LocalStore keeps artifacts in a directory.
type LocalStore struct {
	root string
}

var _ ports.ArtifactStore = (*LocalStore)(nil)

// NewLocalStore roots the store at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

func (s *LocalStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact name %q escapes the root", name)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the content of name.
func (s *LocalStore) Read(_ context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Write replaces name, creating parent directories.
func (s *LocalStore) Write(_ context.Context, name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

// Open picks the store implementation from the root: s3://bucket/prefix or a directory.
func Open(ctx context.Context, root string) (ports.ArtifactStore, error) {
	if rest, ok := strings.CutPrefix(root, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("artifact root %q names no bucket", root)
		}
		return DialS3(ctx, bucket, prefix)
	}
	if root == "" {
		root = "."
	}
	return NewLocalStore(root), nil
}

// Join builds an artifact name from folder parts.
func Join(parts ...string) string {
	return path.Join(parts...)
}
