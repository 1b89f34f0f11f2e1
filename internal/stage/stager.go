package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nucleus/ucl-sync/internal/blob"
)

const idLayout = "20060102T150405.000000000Z"

// Stager reads and writes artifacts in a blob store.
type Stager struct {
	store blob.Store
	codec Codec

	mu   sync.Mutex
	last time.Time
	seq  uint64
	now  func() time.Time
}

// NewStager creates a stager writing with codec. A nil codec defaults to
// JSONL.
func NewStager(store blob.Store, codec Codec) *Stager {
	if codec == nil {
		codec = JSONLCodec{}
	}
	return &Stager{store: store, codec: codec, now: time.Now}
}

// Format returns the format used for new artifacts.
func (s *Stager) Format() string { return s.codec.Format() }

// NextKey returns a fresh artifact key for entity.
func (s *Stager) NextKey(entity string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if !now.After(s.last) {
		now = s.last
	}
	s.last = now
	s.seq++
	return fmt.Sprintf("%s/%s-%06d.%s", entity, now.Format(idLayout), s.seq, s.codec.Format())
}

// Write stores b under a new key and returns the key.
func (s *Stager) Write(ctx context.Context, b *Batch) (string, error) {
	if b == nil || b.Entity == "" {
		return "", fmt.Errorf("stage: batch without entity")
	}
	data, err := s.codec.Encode(b)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", b.Entity, err)
	}
	key := s.NextKey(b.Entity)
	if err := s.store.Put(ctx, key, data, s.codec.ContentType()); err != nil {
		return "", fmt.Errorf("stage %s: %w", b.Entity, err)
	}
	return key, nil
}

// Latest returns the newest artifact of entity. ok is false when none exists.
func (s *Stager) Latest(ctx context.Context, entity string) (blob.Object, bool, error) {
	objs, err := s.store.List(ctx, entity+"/")
	if err != nil {
		return blob.Object{}, false, fmt.Errorf("list artifacts of %s: %w", entity, err)
	}
	var latest blob.Object
	found := false
	for _, o := range objs {
		if _, known := codecForKey(o.Key); !known {
			continue
		}
		if !found || newer(o, latest) {
			latest = o
			found = true
		}
	}
	return latest, found, nil
}

// Pending returns the artifacts of entity written after the artifact at
// after, oldest first. An empty after returns every artifact.
func (s *Stager) Pending(ctx context.Context, entity, after string) ([]blob.Object, error) {
	objs, err := s.store.List(ctx, entity+"/")
	if err != nil {
		return nil, fmt.Errorf("list artifacts of %s: %w", entity, err)
	}
	var out []blob.Object
	for _, o := range objs {
		if _, known := codecForKey(o.Key); !known {
			continue
		}
		if after == "" || o.Key > after {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Read loads and decodes the artifact at key.
func (s *Stager) Read(ctx context.Context, key string) (*Batch, error) {
	codec, ok := codecForKey(key)
	if !ok {
		return nil, fmt.Errorf("unknown artifact format: %s", key)
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	b, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", key, err)
	}
	if b.Entity == "" {
		b.Entity = entityOf(key)
	}
	b.Ref = key
	return b, nil
}

// Entities lists staged entity prefixes, skipping internal "_" prefixes.
func (s *Stager) Entities(ctx context.Context) ([]string, error) {
	prefixes, err := s.store.Prefixes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list staged entities: %w", err)
	}
	var out []string
	for _, p := range prefixes {
		if p == "" || strings.HasPrefix(p, "_") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func newer(a, b blob.Object) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.After(b.LastModified)
	}
	return a.Key > b.Key
}

func entityOf(key string) string {
	if i := strings.Index(key, "/"); i > 0 {
		return key[:i]
	}
	return key
}
