package orchestration_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nucleus/ucl-sync/internal/blob"
	"github.com/nucleus/ucl-sync/internal/destination"
	"github.com/nucleus/ucl-sync/internal/extract"
	"github.com/nucleus/ucl-sync/internal/orchestration"
	"github.com/nucleus/ucl-sync/internal/source"
	"github.com/nucleus/ucl-sync/internal/stage"
	"github.com/nucleus/ucl-sync/pkg/checkpoint"
	"github.com/nucleus/ucl-sync/pkg/entity"
	"github.com/nucleus/ucl-sync/pkg/watermark"
)

// countingStore counts object operations under a key prefix.
type countingStore struct {
	blob.Store
	prefix string

	mu   sync.Mutex
	gets int
	puts int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, c.prefix) {
		c.mu.Lock()
		c.gets++
		c.mu.Unlock()
	}
	return c.Store.Get(ctx, key)
}

func (c *countingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if strings.HasPrefix(key, c.prefix) {
		c.mu.Lock()
		c.puts++
		c.mu.Unlock()
	}
	return c.Store.Put(ctx, key, data, contentType)
}

// staticCatalog maps entities to configured DDL.
type staticCatalog map[string]string

func (s staticCatalog) DDL(name string) string          { return s[name] }
func (s staticCatalog) PrimaryKey(name string) []string { return nil }

type loadFixture struct {
	objects *countingStore
	stager  *stage.Stager
	dest    *destination.SQL
	runner  *orchestration.LoadRunner
}

func newLoadFixture(t *testing.T) *loadFixture {
	t.Helper()
	objects := &countingStore{Store: blob.NewMemoryStore(), prefix: checkpoint.LoadPrefix + "/"}
	dest, err := destination.OpenSQL(destination.DriverSQLite, filepath.Join(t.TempDir(), "warehouse.db"))
	if err != nil {
		t.Fatalf("open destination: %v", err)
	}
	t.Cleanup(func() { dest.Close() })

	stager := stage.NewStager(objects, stage.JSONLCodec{})
	return &loadFixture{
		objects: objects,
		stager:  stager,
		dest:    dest,
		runner: &orchestration.LoadRunner{
			Stager:      stager,
			Checkpoints: checkpoint.NewStore(objects, checkpoint.LoadPrefix),
			Destination: dest,
			Classifier:  entity.NewClassifier(nil),
			Priority:    watermark.DefaultPriority().WithNames([]string{"updated_at", "payment_date"}),
			Bucket:      "processed",
		},
	}
}

func (f *loadFixture) stage(t *testing.T, b *stage.Batch) string {
	t.Helper()
	key, err := f.stager.Write(context.Background(), b)
	if err != nil {
		t.Fatalf("stage %s: %v", b.Entity, err)
	}
	return key
}

func (f *loadFixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := f.dest.DB.QueryRow("SELECT COUNT(*) FROM " + destination.QuoteTable(table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func storeBatch(ids ...int64) *stage.Batch {
	b := &stage.Batch{Entity: "dim_store", Columns: []string{"store_id", "name"}}
	for _, id := range ids {
		b.Rows = append(b.Rows, map[string]any{"store_id": id, "name": "store"})
	}
	return b
}

func paymentBatch(times ...string) *stage.Batch {
	b := &stage.Batch{Entity: "fact_payment", Columns: []string{"payment_id", "payment_date"}}
	for i, ts := range times {
		b.Rows = append(b.Rows, map[string]any{"payment_id": int64(i + 1), "payment_date": ts})
	}
	return b
}

func resultFor(t *testing.T, r *orchestration.Report, name string) orchestration.Result {
	t.Helper()
	for _, res := range r.Results {
		if res.Entity == name {
			return res
		}
	}
	t.Fatalf("no result for %s in %+v", name, r.Results)
	return orchestration.Result{}
}

func TestLoadRunner_DimensionSnapshotSkipsCheckpoints(t *testing.T) {
	ctx := context.Background()
	f := newLoadFixture(t)
	f.stage(t, storeBatch(1, 2, 3))

	report, err := f.runner.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := resultFor(t, report, "dim_store")
	if res.Status != orchestration.StatusLoaded || res.Mode != "snapshot" || res.Rows != 3 {
		t.Errorf("result = %+v", res)
	}

	f.stage(t, storeBatch(7))
	if _, err := f.runner.Run(ctx, ""); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := f.count(t, "dim_store"); got != 1 {
		t.Errorf("rows after second snapshot = %d, want 1", got)
	}
	if f.objects.gets != 0 || f.objects.puts != 0 {
		t.Errorf("checkpoint I/O for dimension: gets=%d puts=%d", f.objects.gets, f.objects.puts)
	}
	if report.RunID == "" || report.Bucket != "processed" {
		t.Errorf("report header = %q/%q", report.RunID, report.Bucket)
	}
}

func TestLoadRunner_FactReplayIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newLoadFixture(t)
	key := f.stage(t, paymentBatch("2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z"))

	report, err := f.runner.Run(ctx, "fact_payment")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := resultFor(t, report, "fact_payment")
	if res.Status != orchestration.StatusLoaded || res.Mode != "delta" || res.Rows != 2 {
		t.Fatalf("first load = %+v", res)
	}
	if res.Cursor == nil || res.Cursor.LastArtifactRef != key || !res.Cursor.LastPosition.Equal(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("cursor = %+v", res.Cursor)
	}

	report, err = f.runner.Run(ctx, "fact_payment")
	if err != nil {
		t.Fatalf("replay Run: %v", err)
	}
	res = resultFor(t, report, "fact_payment")
	if res.Status != orchestration.StatusSkipped || res.Reason != orchestration.ReasonAlreadyLoaded {
		t.Errorf("replay = %+v", res)
	}
	if got := f.count(t, "fact_payment"); got != 2 {
		t.Errorf("rows after replay = %d, want 2", got)
	}

	// A newer artifact overlapping the applied range only adds the new row.
	f.stage(t, paymentBatch("2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z"))
	report, _ = f.runner.Run(ctx, "fact_payment")
	if res := resultFor(t, report, "fact_payment"); res.Rows != 1 {
		t.Errorf("overlap load = %+v", res)
	}
	if got := f.count(t, "fact_payment"); got != 3 {
		t.Errorf("rows after overlap = %d, want 3", got)
	}
}

func TestLoadRunner_AppliesEveryPendingArtifactInOrder(t *testing.T) {
	ctx := context.Background()
	f := newLoadFixture(t)
	f.stage(t, paymentBatch("2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z"))
	f.stage(t, &stage.Batch{Entity: "fact_payment", Columns: []string{"payment_id", "payment_date"}})
	last := f.stage(t, paymentBatch("2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z"))

	report, err := f.runner.Run(ctx, "fact_payment")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := resultFor(t, report, "fact_payment")
	if res.Status != orchestration.StatusLoaded || res.Batches != 2 || res.Rows != 4 {
		t.Fatalf("result = %+v, want 2 batches and 4 rows", res)
	}
	if res.Artifact != last || res.Cursor == nil || res.Cursor.LastArtifactRef != last {
		t.Errorf("artifact=%s cursor=%+v, want %s", res.Artifact, res.Cursor, last)
	}
	if !res.Cursor.LastPosition.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("position = %v, want 12:00", res.Cursor.LastPosition)
	}
	if got := f.count(t, "fact_payment"); got != 4 {
		t.Errorf("rows = %d, want 4", got)
	}
	// One checkpoint write per artifact, the empty one included.
	if f.objects.puts != 3 {
		t.Errorf("checkpoint puts = %d, want 3", f.objects.puts)
	}

	report, err = f.runner.Run(ctx, "fact_payment")
	if err != nil {
		t.Fatalf("replay Run: %v", err)
	}
	res = resultFor(t, report, "fact_payment")
	if res.Status != orchestration.StatusSkipped || res.Reason != orchestration.ReasonAlreadyLoaded || res.Artifact != last {
		t.Errorf("replay = %+v", res)
	}
	if got := f.count(t, "fact_payment"); got != 4 {
		t.Errorf("rows after replay = %d, want 4", got)
	}
}

func TestLoadRunner_NoArtifactAndNoData(t *testing.T) {
	ctx := context.Background()
	f := newLoadFixture(t)

	report, err := f.runner.Run(ctx, "fact_rental")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res := resultFor(t, report, "fact_rental"); res.Reason != orchestration.ReasonNoArtifact {
		t.Errorf("result = %+v", res)
	}

	key := f.stage(t, &stage.Batch{Entity: "fact_rental", Columns: []string{"rental_id"}})
	report, err = f.runner.Run(ctx, "fact_rental")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := resultFor(t, report, "fact_rental")
	if res.Status != orchestration.StatusSkipped || res.Reason != orchestration.ReasonNoData {
		t.Errorf("result = %+v", res)
	}

	c, _ := f.runner.Checkpoints.Get(ctx, "fact_rental")
	if c.LastArtifactRef != key || c.LastPosition != nil {
		t.Errorf("empty artifact should advance the ref only: %+v", c)
	}
}

func TestLoadRunner_PartialFailureIsReported(t *testing.T) {
	ctx := context.Background()
	f := newLoadFixture(t)
	f.runner.Catalog = staticCatalog{"fact_payment": "CREATE TABLE fact_payment (this is not sql"}

	f.stage(t, storeBatch(1))
	f.stage(t, paymentBatch("2024-01-01T10:00:00Z"))
	_ = f.objects.Put(ctx, "checkpoints/fact_payment.json", []byte("{}"), "application/json")
	_ = f.objects.Put(ctx, "misc/readme.txt", []byte("x"), "text/plain")

	report, err := f.runner.Run(ctx, "")
	if err != nil {
		t.Fatalf("all-entities run should not fail: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("results = %+v", report.Results)
	}
	if report.Results[0].Entity != "dim_store" || report.Results[0].Status != orchestration.StatusLoaded {
		t.Errorf("first result = %+v", report.Results[0])
	}
	if report.Results[1].Entity != "fact_payment" || report.Results[1].Status != orchestration.StatusError || report.Results[1].Error == "" {
		t.Errorf("second result = %+v", report.Results[1])
	}

	c, _ := f.runner.Checkpoints.Get(ctx, "fact_payment")
	if !c.IsEmpty() {
		t.Errorf("failed entity advanced its cursor: %+v", c)
	}

	_, err = f.runner.Run(ctx, "fact_payment")
	if !errors.Is(err, orchestration.ErrEntityFailed) {
		t.Errorf("single-entity error = %v, want ErrEntityFailed", err)
	}
}

func TestLoadRunner_ParallelKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newLoadFixture(t)
	f.runner.Parallelism = 4

	names := []string{"dim_e", "dim_a", "dim_d", "dim_c", "dim_b"}
	for _, n := range names {
		b := storeBatch(1)
		b.Entity = n
		f.stage(t, b)
	}
	f.stage(t, paymentBatch("2024-01-01T10:00:00Z"))

	report, err := f.runner.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []string
	for _, res := range report.Results {
		if res.Status != orchestration.StatusLoaded {
			t.Errorf("result = %+v", res)
		}
		got = append(got, res.Entity)
	}
	want := "dim_a,dim_b,dim_c,dim_d,dim_e,fact_payment"
	if strings.Join(got, ",") != want {
		t.Errorf("order = %v, want %s", got, want)
	}
}

func TestLoadRunner_CanceledContext(t *testing.T) {
	f := newLoadFixture(t)
	f.stage(t, storeBatch(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.runner.Run(ctx, "dim_store")
	if !errors.Is(err, context.Canceled) || !errors.Is(err, orchestration.ErrEntityFailed) {
		t.Fatalf("Run error = %v", err)
	}
	if res := resultFor(t, report, "dim_store"); res.Status != orchestration.StatusError || res.Reason != orchestration.ReasonCanceled {
		t.Errorf("result = %+v", res)
	}
}

func TestExtractThenLoad_SQLite(t *testing.T) {
	ctx := context.Background()
	src, err := source.NewSQLite(ctx, source.Config{DSN: filepath.Join(t.TempDir(), "source.db")})
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer src.Close()
	for _, stmt := range []string{
		`CREATE TABLE dim_store (store_id INTEGER PRIMARY KEY, name TEXT, updated_at TIMESTAMP)`,
		`CREATE TABLE fact_payment (payment_id INTEGER PRIMARY KEY, amount REAL, updated_at TIMESTAMP)`,
		`CREATE TABLE _prisma_migrations (id TEXT)`,
		`INSERT INTO dim_store VALUES (1, 'north', '2024-01-01T00:00:00Z'), (2, 'south', '2024-01-01T00:00:00Z')`,
		`INSERT INTO fact_payment VALUES (1, 10.0, '2024-01-01T10:00:00Z'), (2, 20.0, '2024-01-01T11:00:00Z')`,
	} {
		if _, err := src.DB.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	landing := blob.NewMemoryStore()
	stager := stage.NewStager(landing, stage.ParquetCodec{})
	extractor := &orchestration.ExtractRunner{
		Extractor:   extract.New(src),
		Stager:      stager,
		Checkpoints: checkpoint.NewStore(landing, checkpoint.ExtractPrefix),
		Classifier:  entity.NewClassifier(nil),
		SkipTables:  []string{"_prisma_migrations"},
		Bucket:      "landing",
	}

	report, err := extractor.Run(ctx, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("results = %+v", report.Results)
	}
	dim := resultFor(t, report, "dim_store")
	fact := resultFor(t, report, "fact_payment")
	if dim.Status != orchestration.StatusExtracted || dim.Mode != extract.ModeFull || dim.Cursor.LastPosition != nil {
		t.Errorf("dim result = %+v", dim)
	}
	if fact.Status != orchestration.StatusExtracted || fact.Rows != 2 || fact.Cursor.LastPosition == nil {
		t.Errorf("fact result = %+v", fact)
	}

	report, _ = extractor.Run(ctx, "fact_payment")
	if res := resultFor(t, report, "fact_payment"); res.Reason != orchestration.ReasonNoChanges || res.Mode != extract.ModeDelta {
		t.Errorf("rerun = %+v", res)
	}

	if _, err := src.DB.Exec(`INSERT INTO fact_payment VALUES (3, 30.0, '2024-01-01T12:00:00Z')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	report, _ = extractor.Run(ctx, "fact_payment")
	if res := resultFor(t, report, "fact_payment"); res.Rows != 1 {
		t.Errorf("incremental = %+v", res)
	}

	dest, err := destination.OpenSQL(destination.DriverSQLite, filepath.Join(t.TempDir(), "warehouse.db"))
	if err != nil {
		t.Fatalf("open destination: %v", err)
	}
	defer dest.Close()
	loader := &orchestration.LoadRunner{
		Stager:      stager,
		Checkpoints: checkpoint.NewStore(landing, checkpoint.LoadPrefix),
		Destination: dest,
		Classifier:  entity.NewClassifier(nil),
	}
	report, err = loader.Run(ctx, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("load results = %+v", report.Results)
	}
	for _, res := range report.Results {
		if res.Status != orchestration.StatusLoaded {
			t.Errorf("load result = %+v", res)
		}
	}

	var n int
	if err := dest.DB.QueryRow(`SELECT COUNT(*) FROM "fact_payment"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	// Both fact artifacts are applied: the full extract and the increment.
	if n != 3 {
		t.Errorf("fact rows = %d, want 3", n)
	}
}
