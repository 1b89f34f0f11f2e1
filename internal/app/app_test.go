package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nucleus/ucl-sync/internal/blob"
	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/destination"
	"github.com/nucleus/ucl-sync/internal/orchestration"
	"github.com/nucleus/ucl-sync/internal/source"
	"github.com/nucleus/ucl-sync/pkg/checkpoint"
	"github.com/nucleus/ucl-sync/pkg/entity"
)

const entityFile = `
entities:
  stores:
    kind: dimension
    primary_key: [store_id]
    ddl: CREATE TABLE IF NOT EXISTS stores (store_id BIGINT, name TEXT)
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	srcPath := filepath.Join(dir, "source.db")
	db, err := sql.Open("sqlite", srcPath)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE stores (store_id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE fact_sale (sale_id INTEGER PRIMARY KEY, store_id INTEGER, updated_at TIMESTAMP)`,
		`CREATE TABLE _prisma_migrations (id TEXT)`,
		`INSERT INTO stores VALUES (1, 'north'), (2, 'south')`,
		`INSERT INTO fact_sale VALUES (1, 1, '2024-03-01T08:00:00Z'), (2, 2, '2024-03-01T09:00:00Z'), (3, 1, '2024-03-01T10:00:00Z')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	entities := filepath.Join(dir, "entities.yaml")
	if err := os.WriteFile(entities, []byte(entityFile), 0o644); err != nil {
		t.Fatalf("write entity file: %v", err)
	}

	return &config.Config{
		BlobDriver:              blob.DriverLocal,
		LandingBucket:           "landing",
		ProcessedBucket:         "landing",
		LocalRoot:               filepath.Join(dir, "blobs"),
		Source:                  source.Config{Driver: source.DriverSQLite, DSN: srcPath},
		Destination:             destination.Config{Driver: destination.DriverSQLite, DSN: filepath.Join(dir, "warehouse.db")},
		ExtractCheckpointPrefix: checkpoint.ExtractPrefix,
		LoadCheckpointPrefix:    checkpoint.LoadPrefix,
		StageFormat:             "jsonl.gz",
		SkipTables:              []string{"_prisma_migrations"},
		Parallelism:             2,
		EntityFile:              entities,
	}
}

func TestApp_ExtractThenLoad(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if got := a.Classifier.Kind("stores"); got != entity.KindDimension {
		t.Fatalf("stores kind = %v", got)
	}
	if a.Landing != a.Processed {
		t.Errorf("same bucket should share one store")
	}

	extractor, err := a.ExtractRunner(ctx)
	if err != nil {
		t.Fatalf("ExtractRunner: %v", err)
	}
	report, err := extractor.Run(ctx, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if report.Bucket != "landing" || len(report.Results) != 2 {
		t.Fatalf("extract report = %+v", report)
	}
	// Dimensions come first.
	if report.Results[0].Entity != "stores" || report.Results[1].Entity != "fact_sale" {
		t.Errorf("extract order = %s, %s", report.Results[0].Entity, report.Results[1].Entity)
	}

	loader, err := a.LoadRunner(ctx)
	if err != nil {
		t.Fatalf("LoadRunner: %v", err)
	}
	report, err = loader.Run(ctx, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, res := range report.Results {
		if res.Status != orchestration.StatusLoaded {
			t.Errorf("load result = %+v", res)
		}
	}

	report, err = loader.Run(ctx, "fact_sale")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if res := report.Results[0]; res.Reason != orchestration.ReasonAlreadyLoaded {
		t.Errorf("reload = %+v", res)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	db, err := sql.Open("sqlite", cfg.Destination.DSN)
	if err != nil {
		t.Fatalf("open warehouse: %v", err)
	}
	defer db.Close()
	for table, want := range map[string]int{"stores": 2, "fact_sale": 3} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != want {
			t.Errorf("%s rows = %d, want %d", table, n, want)
		}
	}
}

func TestNew_UnknownStageFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.StageFormat = "csv"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown stage format")
	}
}

func TestNew_BadEntityFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.EntityFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for missing entity file")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(false, "debug"); err != nil {
		t.Errorf("debug level: %v", err)
	}
	if _, err := NewLogger(true, ""); err != nil {
		t.Errorf("verbose: %v", err)
	}
	if _, err := NewLogger(false, "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
