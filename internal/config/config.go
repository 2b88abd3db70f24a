package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable through JOB_STORE and CHUNK_STORE.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendGCS       = "gcs"
)

type Config struct {
	Port string

	JobStore   string
	ChunkStore string

	DatabaseURL         string
	ProjectID           string
	FirestoreCollection string
	ChunkBucket         string

	VertexRegion       string
	OCRModel           string
	OCRTimeout         time.Duration
	OCRMaxOutputTokens int

	MaxChunkBytes         int64
	MaxUploadBytes        int64
	MaxFileBytes          int64
	MaxJSONBytes          int64
	OCRSizeThresholdBytes int64
	MaxPagesPerChunk      int

	WorkerCount      int
	QueueSize        int
	RangeConcurrency int

	ChunkTTL      time.Duration
	SweepInterval time.Duration
	// JobStaleAfter is how long an unfinished job may go without an update
	// before recovery fails it.
	JobStaleAfter time.Duration

	WorkflowID       string
	WorkflowLocation string
}

// Load reads a .env file when present and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Could not load .env file.", "error", err)
	}
	return Config{
		Port:                  getenv("PORT", "8080"),
		JobStore:              getenv("JOB_STORE", BackendMemory),
		ChunkStore:            getenv("CHUNK_STORE", BackendMemory),
		DatabaseURL:           getenv("DATABASE_URL", ""),
		ProjectID:             getenv("PROJECT_ID", ""),
		FirestoreCollection:   getenv("FIRESTORE_COLLECTION", "processing_jobs"),
		ChunkBucket:           getenv("CHUNK_BUCKET", ""),
		VertexRegion:          getenv("VERTEX_AI_REGION", "us-central1"),
		OCRModel:              getenv("OCR_MODEL", "gemini-2.0-flash"),
		OCRTimeout:            getenvDuration("OCR_TIMEOUT", 120*time.Second),
		OCRMaxOutputTokens:    getenvInt("OCR_MAX_OUTPUT_TOKENS", 32000),
		MaxChunkBytes:         getenvInt64("MAX_CHUNK_BYTES", 5<<20),
		MaxUploadBytes:        getenvInt64("MAX_UPLOAD_BYTES", 50<<20),
		MaxJSONBytes:          getenvInt64("MAX_JSON_BYTES", 32<<20),
		MaxFileBytes:          getenvInt64("MAX_FILE_BYTES", 500<<20),
		OCRSizeThresholdBytes: getenvInt64("OCR_SIZE_THRESHOLD_BYTES", 20<<20),
		MaxPagesPerChunk:      getenvInt("MAX_PAGES_PER_CHUNK", 35),
		WorkerCount:           getenvInt("WORKER_COUNT", 2),
		QueueSize:             getenvInt("QUEUE_SIZE", 16),
		RangeConcurrency:      getenvInt("RANGE_CONCURRENCY", 3),
		ChunkTTL:              getenvDuration("CHUNK_TTL", 10*time.Minute),
		SweepInterval:         getenvDuration("SWEEP_INTERVAL", time.Minute),
		JobStaleAfter:         getenvDuration("JOB_STALE_AFTER", 30*time.Minute),
		WorkflowID:            getenv("WORKFLOW_ID", ""),
		WorkflowLocation:      getenv("WORKFLOW_LOCATION", "us-central1"),
	}
}

// Validate checks that every selected backend has what it needs.
func (c Config) Validate() error {
	switch c.JobStore {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when JOB_STORE=%s", c.JobStore)
		}
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID must be set when JOB_STORE=%s", c.JobStore)
		}
	default:
		return fmt.Errorf("unsupported JOB_STORE %q", c.JobStore)
	}

	switch c.ChunkStore {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when CHUNK_STORE=%s", c.ChunkStore)
		}
	case BackendGCS:
		if c.ChunkBucket == "" {
			return fmt.Errorf("CHUNK_BUCKET must be set when CHUNK_STORE=%s", c.ChunkStore)
		}
	default:
		return fmt.Errorf("unsupported CHUNK_STORE %q", c.ChunkStore)
	}

	if c.WorkerCount < 1 || c.QueueSize < 1 {
		return fmt.Errorf("WORKER_COUNT and QUEUE_SIZE must be positive")
	}
	if c.JobStaleAfter <= 0 {
		return fmt.Errorf("JOB_STALE_AFTER must be positive")
	}
	if c.MaxChunkBytes <= 0 || c.MaxUploadBytes <= 0 || c.MaxFileBytes <= 0 {
		return fmt.Errorf("byte limits must be positive")
	}
	return nil
}

func getenv(k, fallback string) string {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvInt64(k string, fallback int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(k string, fallback time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
