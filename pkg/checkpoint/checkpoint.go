// Package checkpoint persists per-entity progress markers in a blob store.
//
// Each entity owns one object, {prefix}/{entity}.json:
//
//	{"last_loaded_key": "fact_payment/20240101T000000.000000000Z-000001.jsonl.gz",
//	 "last_loaded_ts": "2024-01-01T10:00:00.5Z",
//	 "updated_at": "2024-01-01T10:05:00Z"}
//
// A record is written with a single object put, so a crash leaves either the
// previous record or the new one.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nucleus/ucl-sync/internal/blob"
)

const (
	// ExtractPrefix is where extraction progress is kept.
	ExtractPrefix = "checkpoints"
	// LoadPrefix is where load progress is kept, next to the staged data.
	LoadPrefix = "_load_checkpoints"
)

// Cursor is the durable progress marker of one entity.
type Cursor struct {
	Entity          string
	LastPosition    *time.Time
	LastArtifactRef string
	UpdatedAt       time.Time
}

// IsEmpty reports whether no progress has been recorded.
func (c Cursor) IsEmpty() bool {
	return c.LastPosition == nil && c.LastArtifactRef == ""
}

// Advance returns a cursor pointing at ref. The position moves only when pos
// is later than the current one.
func (c Cursor) Advance(ref string, pos *time.Time) Cursor {
	next := Cursor{Entity: c.Entity, LastArtifactRef: ref, LastPosition: c.LastPosition}
	if pos != nil && (c.LastPosition == nil || pos.After(*c.LastPosition)) {
		p := pos.UTC()
		next.LastPosition = &p
	}
	return next
}

// record is the wire format.
type record struct {
	LastLoadedKey *string `json:"last_loaded_key"`
	LastLoadedTS  *string `json:"last_loaded_ts"`
	UpdatedAt     string  `json:"updated_at"`
}

// ObjectStore is the subset of blob.Store used for checkpoints.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Store reads and writes cursors under a key prefix.
type Store struct {
	objects ObjectStore
	prefix  string
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for malformed records.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a checkpoint store.
func NewStore(objects ObjectStore, prefix string, opts ...Option) *Store {
	s := &Store{
		objects: objects,
		prefix:  strings.Trim(prefix, "/"),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the object key of entity's cursor.
func (s *Store) Key(entity string) string {
	if s.prefix == "" {
		return entity + ".json"
	}
	return s.prefix + "/" + entity + ".json"
}

// Get returns the cursor of entity. Missing or malformed records yield an
// empty cursor.
func (s *Store) Get(ctx context.Context, entity string) (Cursor, error) {
	key := s.Key(entity)
	empty := Cursor{Entity: entity}

	data, err := s.objects.Get(ctx, key)
	if err != nil {
		if blob.IsNotFound(err) {
			return empty, nil
		}
		return empty, fmt.Errorf("read checkpoint %s: %w", key, err)
	}

	c, err := decode(entity, data)
	if err != nil {
		s.logger.Warn("ignoring malformed checkpoint",
			zap.String("entity", entity),
			zap.String("key", key),
			zap.Error(err))
		return empty, nil
	}
	return c, nil
}

// Put commits the full cursor of entity. UpdatedAt is stamped from the clock.
func (s *Store) Put(ctx context.Context, entity string, c Cursor) (Cursor, error) {
	c.Entity = entity
	c.UpdatedAt = s.now().UTC()

	data, err := encode(c)
	if err != nil {
		return c, fmt.Errorf("encode checkpoint %s: %w", entity, err)
	}
	if err := s.objects.Put(ctx, s.Key(entity), data, "application/json"); err != nil {
		return c, fmt.Errorf("write checkpoint %s: %w", s.Key(entity), err)
	}
	s.logger.Debug("checkpoint committed",
		zap.String("entity", entity),
		zap.String("artifact", c.LastArtifactRef),
		zap.Stringp("position", formatPtr(c.LastPosition)))
	return c, nil
}

func encode(c Cursor) ([]byte, error) {
	r := record{
		LastLoadedTS: formatPtr(c.LastPosition),
		UpdatedAt:    formatTime(c.UpdatedAt),
	}
	if c.LastArtifactRef != "" {
		ref := c.LastArtifactRef
		r.LastLoadedKey = &ref
	}
	return json.Marshal(r)
}

func decode(entity string, data []byte) (Cursor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Cursor{}, fmt.Errorf("checkpoint is not a JSON object")
	}
	var r record
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return Cursor{}, err
	}

	c := Cursor{Entity: entity}
	if r.LastLoadedKey != nil {
		c.LastArtifactRef = *r.LastLoadedKey
	}
	if r.LastLoadedTS != nil && *r.LastLoadedTS != "" {
		ts, err := parseTime(*r.LastLoadedTS)
		if err != nil {
			return Cursor{}, fmt.Errorf("last_loaded_ts: %w", err)
		}
		c.LastPosition = &ts
	}
	if r.UpdatedAt != "" {
		ts, err := parseTime(r.UpdatedAt)
		if err != nil {
			return Cursor{}, fmt.Errorf("updated_at: %w", err)
		}
		c.UpdatedAt = ts
	}
	return c, nil
}

// parseTime accepts RFC3339 with or without a zone; zone-less values are UTC.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05.999999999", s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
