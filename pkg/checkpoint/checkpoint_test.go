package checkpoint_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nucleus/ucl-sync/internal/blob"
	"github.com/nucleus/ucl-sync/pkg/checkpoint"
)

// failingStore rejects every write.
type failingStore struct {
	*blob.MemoryStore
}

func (f failingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return errors.New("bucket unavailable")
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
}

func TestGet_MissingIsEmpty(t *testing.T) {
	s := checkpoint.NewStore(blob.NewMemoryStore(), checkpoint.LoadPrefix)

	c, err := s.Get(context.Background(), "fact_payment")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !c.IsEmpty() || c.Entity != "fact_payment" {
		t.Errorf("expected empty cursor, got %+v", c)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemoryStore()
	s := checkpoint.NewStore(mem, "checkpoints/", checkpoint.WithClock(fixedClock))

	pos := time.Date(2024, 2, 29, 23, 59, 59, 123456789, time.FixedZone("EST", -5*3600))
	_, err := s.Put(ctx, "fact_payment", checkpoint.Cursor{
		LastPosition:    &pos,
		LastArtifactRef: "fact_payment/20240301T000000.000000000Z-000001.jsonl.gz",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := mem.Get(ctx, "checkpoints/fact_payment.json")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		`"last_loaded_key":"fact_payment/20240301T000000.000000000Z-000001.jsonl.gz"`,
		`"last_loaded_ts":"2024-03-01T04:59:59.123456789Z"`,
		`"updated_at":"2024-03-01T11:00:00Z"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("record %s missing %s", body, want)
		}
	}

	got, err := s.Get(ctx, "fact_payment")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastPosition == nil || !got.LastPosition.Equal(pos) {
		t.Errorf("position = %v, want %v", got.LastPosition, pos)
	}
	if got.LastArtifactRef != "fact_payment/20240301T000000.000000000Z-000001.jsonl.gz" {
		t.Errorf("artifact = %q", got.LastArtifactRef)
	}
}

func TestPut_NullPosition(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemoryStore()
	s := checkpoint.NewStore(mem, "checkpoints")

	if _, err := s.Put(ctx, "dim_store", checkpoint.Cursor{LastArtifactRef: "dim_store/a.parquet"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, _ := mem.Get(ctx, "checkpoints/dim_store.json")
	if !strings.Contains(string(raw), `"last_loaded_ts":null`) {
		t.Errorf("expected null position, got %s", raw)
	}
}

func TestGet_MalformedIsEmpty(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"not json":      "{oops",
		"array":         `["a"]`,
		"bad timestamp": `{"last_loaded_key":"k","last_loaded_ts":"yesterday","updated_at":"2024-01-01T00:00:00Z"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			mem := blob.NewMemoryStore()
			_ = mem.Put(ctx, "_load_checkpoints/fact_x.json", []byte(payload), "application/json")

			c, err := checkpoint.NewStore(mem, checkpoint.LoadPrefix).Get(ctx, "fact_x")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !c.IsEmpty() {
				t.Errorf("expected empty cursor, got %+v", c)
			}
		})
	}
}

func TestPut_FailurePropagates(t *testing.T) {
	s := checkpoint.NewStore(failingStore{blob.NewMemoryStore()}, checkpoint.LoadPrefix)
	if _, err := s.Put(context.Background(), "fact_x", checkpoint.Cursor{LastArtifactRef: "k"}); err == nil {
		t.Fatal("expected write failure")
	}
}

func TestCursor_AdvanceIsMonotonic(t *testing.T) {
	later := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	c := checkpoint.Cursor{Entity: "fact_x", LastPosition: &later, LastArtifactRef: "a"}

	next := c.Advance("b", &earlier)
	if next.LastArtifactRef != "b" || !next.LastPosition.Equal(later) {
		t.Errorf("position regressed: %+v", next)
	}
	next = c.Advance("c", nil)
	if next.LastArtifactRef != "c" || !next.LastPosition.Equal(later) {
		t.Errorf("nil position should carry: %+v", next)
	}
}
