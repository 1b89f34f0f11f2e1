// Package config provides configuration loading for ucl-sync.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/nucleus/ucl-sync/internal/blob"
	"github.com/nucleus/ucl-sync/internal/destination"
	"github.com/nucleus/ucl-sync/internal/source"
	"github.com/nucleus/ucl-sync/pkg/checkpoint"
	"github.com/nucleus/ucl-sync/pkg/watermark"
)

// Config holds the engine configuration.
type Config struct {
	// Blob store settings
	BlobDriver      string
	LandingBucket   string
	ProcessedBucket string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UseSSL          bool
	Region          string
	LocalRoot       string

	// Source and destination
	Source      source.Config
	SourceQPS   float64
	Destination destination.Config

	// Engine settings
	ExtractCheckpointPrefix string
	LoadCheckpointPrefix    string
	StageFormat             string
	WatermarkColumns        []string
	LoadWatermarkColumns    []string
	SkipTables              []string
	Parallelism             int
	EntityFile              string
	LogLevel                string

	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string
}

var defaultWatermarkColumns = []string{"last_updated", "updated_at", "created_at", "modified_at"}

// Load loads configuration from environment.
func Load() *Config {
	landing := getEnv("UCL_SYNC_LANDING_BUCKET", "ucl-sync-landing")
	return &Config{
		BlobDriver:      getEnv("UCL_SYNC_BLOB_DRIVER", blob.DriverLocal),
		LandingBucket:   landing,
		ProcessedBucket: getEnv("UCL_SYNC_PROCESSED_BUCKET", landing),
		Endpoint:        getEnv("MINIO_ENDPOINT", ""),
		AccessKey:       getEnv("MINIO_ACCESS_KEY", ""),
		SecretKey:       getEnv("MINIO_SECRET_KEY", ""),
		UseSSL:          getEnvBool("MINIO_USE_SSL", false),
		Region:          getEnv("AWS_REGION", "us-east-1"),
		LocalRoot:       getEnv("UCL_SYNC_LOCAL_ROOT", ""),

		Source: source.Config{
			Driver: getEnv("UCL_SYNC_SOURCE_DRIVER", source.DriverPostgres),
			DSN:    getEnv("UCL_SYNC_SOURCE_DSN", ""),
			Schema: getEnv("UCL_SYNC_SOURCE_SCHEMA", "public"),
		},
		SourceQPS: getEnvFloat("UCL_SYNC_SOURCE_QPS", 0),
		Destination: destination.Config{
			Driver: getEnv("UCL_SYNC_DEST_DRIVER", destination.DriverPostgres),
			DSN:    getEnv("UCL_SYNC_DEST_DSN", ""),
		},

		ExtractCheckpointPrefix: getEnv("UCL_SYNC_EXTRACT_CHECKPOINT_PREFIX", checkpoint.ExtractPrefix),
		LoadCheckpointPrefix:    getEnv("UCL_SYNC_LOAD_CHECKPOINT_PREFIX", checkpoint.LoadPrefix),
		StageFormat:             getEnv("UCL_SYNC_STAGE_FORMAT", "jsonl.gz"),
		WatermarkColumns:        getEnvList("UCL_SYNC_WATERMARK_COLUMNS", defaultWatermarkColumns),
		LoadWatermarkColumns:    getEnvList("UCL_SYNC_LOAD_WATERMARK_COLUMNS", append(append([]string(nil), defaultWatermarkColumns...), "payment_date")),
		SkipTables:              getEnvList("UCL_SYNC_SKIP_TABLES", []string{"_prisma_migrations"}),
		Parallelism:             getEnvInt("UCL_SYNC_PARALLELISM", 1),
		EntityFile:              getEnv("UCL_SYNC_ENTITY_FILE", ""),
		LogLevel:                getEnv("UCL_SYNC_LOG_LEVEL", "info"),

		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("UCL_SYNC_TASK_QUEUE", "ucl-sync"),
	}
}

// BlobConfig returns the blob store settings for bucket.
func (c *Config) BlobConfig(bucket string) *blob.Config {
	return &blob.Config{
		Driver:          c.BlobDriver,
		Bucket:          bucket,
		EndpointURL:     c.Endpoint,
		Region:          c.Region,
		UseSSL:          c.UseSSL,
		AccessKeyID:     c.AccessKey,
		SecretAccessKey: c.SecretKey,
		LocalRoot:       c.LocalRoot,
	}
}

// ExtractPriority is the watermark ranking for source schemas.
func (c *Config) ExtractPriority() watermark.Priority {
	return watermark.DefaultPriority().WithNames(c.WatermarkColumns)
}

// LoadPriority is the watermark ranking for staged batches.
func (c *Config) LoadPriority() watermark.Priority {
	return watermark.DefaultPriority().WithNames(c.LoadWatermarkColumns)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
