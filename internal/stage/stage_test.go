package stage_test

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/nucleus/ucl-sync/internal/blob"
	"github.com/nucleus/ucl-sync/internal/stage"
)

func sampleBatch() *stage.Batch {
	return &stage.Batch{
		Entity:    "fact_payment",
		Columns:   []string{"payment_id", "amount", "paid", "payment_date", "note"},
		Watermark: "payment_date",
		Rows: []map[string]any{
			{
				"payment_id":   int64(1),
				"amount":       12.5,
				"paid":         true,
				"payment_date": time.Date(2024, 1, 2, 3, 4, 5, 600, time.FixedZone("x", 3600)),
				"note":         "first",
			},
			{
				"payment_id":   int64(2),
				"amount":       7.0,
				"paid":         false,
				"payment_date": "2024-01-03T00:00:00Z",
				"note":         nil,
			},
		},
	}
}

func TestParquetCodec_RowsKeyedByColumnName(t *testing.T) {
	b := &stage.Batch{
		Entity: "fact_payment",
		Rows: []map[string]any{
			{"payment_id": int64(1), "payment_date": "2024-01-01T10:00:00Z"},
		},
	}
	data, err := stage.ParquetCodec{}.Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := stage.ParquetCodec{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := map[string]any{"payment_id": int64(1), "payment_date": "2024-01-01T10:00:00Z"}
	if !reflect.DeepEqual(got.Rows[0], want) {
		t.Errorf("row = %#v, want %#v", got.Rows[0], want)
	}
}

func TestCodecs_PreserveColumnsAndValues(t *testing.T) {
	for _, format := range []string{stage.FormatJSONL, stage.FormatParquet} {
		t.Run(format, func(t *testing.T) {
			codec, err := stage.CodecFor(format)
			if err != nil {
				t.Fatalf("CodecFor: %v", err)
			}
			data, err := codec.Encode(sampleBatch())
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if !reflect.DeepEqual(got.Columns, sampleBatch().Columns) {
				t.Errorf("columns = %v", got.Columns)
			}
			if got.Watermark != "payment_date" || got.Entity != "fact_payment" {
				t.Errorf("metadata = %q/%q", got.Entity, got.Watermark)
			}
			if got.Len() != 2 {
				t.Fatalf("rows = %d, want 2", got.Len())
			}

			first := got.Rows[0]
			if first["payment_id"] != int64(1) {
				t.Errorf("payment_id = %#v", first["payment_id"])
			}
			if first["paid"] != true {
				t.Errorf("paid = %#v", first["paid"])
			}
			if first["payment_date"] != "2024-01-02T02:04:05.0000006Z" {
				t.Errorf("payment_date = %#v", first["payment_date"])
			}
			if got.Rows[1]["note"] != nil {
				t.Errorf("note = %#v, want nil", got.Rows[1]["note"])
			}
		})
	}
}

func TestCodecFor_Unknown(t *testing.T) {
	if _, err := stage.CodecFor("csv"); err == nil {
		t.Error("expected error for csv")
	}
}

func TestStager_WriteLatestRead(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	stager := stage.NewStager(store, stage.JSONLCodec{})

	first, err := stager.Write(ctx, sampleBatch())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	second, err := stager.Write(ctx, &stage.Batch{Entity: "fact_payment", Columns: []string{"payment_id"}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(first, "fact_payment/") || !strings.HasSuffix(first, ".jsonl.gz") {
		t.Errorf("unexpected key %s", first)
	}
	if second <= first {
		t.Errorf("keys not monotonic: %s then %s", first, second)
	}

	// Unknown formats are never candidates.
	_ = store.Put(ctx, "fact_payment/zzz.csv", []byte("x"), "text/csv")

	latest, ok, err := stager.Latest(ctx, "fact_payment")
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.Key != second {
		t.Errorf("latest = %s, want %s", latest.Key, second)
	}

	b, err := stager.Read(ctx, first)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.Ref != first || b.Len() != 2 {
		t.Errorf("read batch ref=%s rows=%d", b.Ref, b.Len())
	}

	if _, ok, _ := stager.Latest(ctx, "dim_store"); ok {
		t.Error("expected no artifact for dim_store")
	}
}

func TestStager_PendingAfterRef(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	stager := stage.NewStager(store, stage.JSONLCodec{})

	var keys []string
	for i := 0; i < 3; i++ {
		key, err := stager.Write(ctx, sampleBatch())
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		keys = append(keys, key)
	}
	_ = store.Put(ctx, "fact_payment/zzz.csv", []byte("x"), "text/csv")

	for _, tc := range []struct {
		after string
		want  []string
	}{
		{"", keys},
		{keys[0], keys[1:]},
		{keys[2], nil},
	} {
		objs, err := stager.Pending(ctx, "fact_payment", tc.after)
		if err != nil {
			t.Fatalf("Pending(%q): %v", tc.after, err)
		}
		var got []string
		for _, o := range objs {
			got = append(got, o.Key)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Pending(%q) = %v, want %v", tc.after, got, tc.want)
		}
	}
}

func TestStager_EntitiesSkipInternalPrefixes(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	for _, key := range []string{
		"dim_store/a.jsonl.gz",
		"fact_sales/b.parquet",
		"_load_checkpoints/fact_sales.json",
	} {
		_ = store.Put(ctx, key, []byte("x"), "")
	}

	got, err := stage.NewStager(store, nil).Entities(ctx)
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	sort.Strings(got)
	want := []string{"dim_store", "fact_sales"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Entities() = %v, want %v", got, want)
	}
}

func TestStager_KeysSortInWriteOrder(t *testing.T) {
	stager := stage.NewStager(blob.NewMemoryStore(), stage.ParquetCodec{})
	var keys []string
	for i := 0; i < 50; i++ {
		keys = append(keys, stager.NextKey("fact_x"))
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("keys out of order: %v", keys)
	}
}
