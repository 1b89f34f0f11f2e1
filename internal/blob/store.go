// Package blob provides the object storage collaborator used for checkpoints
// and staged artifacts.
//
// Implementations:
//
//	MinioStore - MinIO / S3-compatible endpoints (minio-go)
//	S3Store    - AWS S3 (aws-sdk-go-v2)
//	LocalStore - files on disk, for local runs
//	MemoryStore - process memory, for tests
//
// A Store is bound to one bucket. Keys use '/' as separator.
package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DriverMinio  = "minio"
	DriverS3     = "s3"
	DriverLocal  = "local"
	DriverMemory = "memory"
)

// Object describes a stored key.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the minimal key/value object API the sync engine relies on.
type Store interface {
	// Get returns the object body. Missing keys yield an error for which IsNotFound is true.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes the full object; the write is visible atomically once Put returns.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// List returns objects under prefix ordered by modification time, oldest first.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Prefixes returns the top-level "directories" of the bucket.
	Prefixes(ctx context.Context) ([]string, error)
}

// Config selects and configures a Store implementation.
type Config struct {
	Driver          string
	Bucket          string
	EndpointURL     string
	Region          string
	UseSSL          bool
	AccessKeyID     string
	SecretAccessKey string
	LocalRoot       string
}

// Open builds the Store named by cfg.Driver.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("blob config is required")
	}
	if cfg.Bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket is required"))
	}
	switch strings.ToLower(cfg.Driver) {
	case DriverMinio:
		return NewMinioStore(ctx, cfg)
	case DriverS3:
		return NewS3Store(ctx, cfg)
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverLocal, "":
		return NewLocalStore(cfg.LocalRoot, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// sortObjects orders by modification time, breaking ties by key.
func sortObjects(objs []Object) {
	sort.SliceStable(objs, func(i, j int) bool {
		if !objs[i].LastModified.Equal(objs[j].LastModified) {
			return objs[i].LastModified.Before(objs[j].LastModified)
		}
		return objs[i].Key < objs[j].Key
	})
}

// topLevel extracts the first path segment of each key that has one.
func topLevel(keys []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range keys {
		idx := strings.Index(key, "/")
		if idx <= 0 {
			continue
		}
		p := key[:idx]
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
