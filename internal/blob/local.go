package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore persists objects on disk, one directory per bucket.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at root/bucket.
func NewLocalStore(root, bucket string) (*LocalStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "ucl-sync")
	}
	dir := filepath.Join(root, sanitizePath(bucket))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, wrapError(CodeReadFailed, true, err)
	}
	return data, nil
}

// Put writes through a temp file and rename so readers never observe a partial object.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return wrapError(CodeWriteFailed, false, fmt.Errorf("object key is required"))
	}
	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var objs []Object
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objs = append(objs, Object{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, wrapError(CodeReadFailed, true, err)
	}
	sortObjects(objs)
	return objs, nil
}

func (s *LocalStore) Prefixes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, wrapError(CodeReadFailed, true, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name()+"/")
		}
	}
	return topLevel(keys), nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

func sanitizePath(raw string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return replacer.Replace(raw)
}
