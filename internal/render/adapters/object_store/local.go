package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

// Local implements ports.ObjectStore on the local filesystem. It serves as
// the default backend when no S3-compatible endpoint is configured, and as
// a fixture backend in tests.
type Local struct {
	base string
}

// NewLocal creates a filesystem-backed store rooted at base.
func NewLocal(base string) *Local {
	return &Local{base: base}
}

func (s *Local) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

func (s *Local) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Local) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Local) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(s.base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
