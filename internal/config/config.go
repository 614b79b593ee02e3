package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

type Config struct {
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Gallery   GalleryConfig
	Database  DatabaseConfig
	Badger    BadgerConfig
	SIS       SISConfig
	Session   SessionConfig
	Web       WebConfig
	Log       LogConfig
}

type EmbeddingConfig struct {
	URL         string        // defaults to http://localhost:8000
	Model       string        // recorded in gallery metadata (default dlib_resnet_v1)
	Dim         int           // defaults to 128 (dlib face encodings)
	Timeout     time.Duration // per-request timeout (default 30s)
	FrameResize float64       // scale applied to frames before detection (default 0.75)
	Workers     int           // bounded pool for provider calls (default constants.WorkerPoolSize)
}

type MatchingConfig struct {
	Threshold float64 // strict acceptance bound, distance < Threshold (default 0.5)
	Metric    string  // "euclidean" (default) or "cosine"
	Index     string  // "linear" (default) or "hnsw"
}

type GalleryConfig struct {
	Path string // gob file for the gallery; empty keeps it in the database backend
	Root string // directory tree of <label>/<image> used by train (default dataset)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// BadgerConfig configures the embedded store used when DATABASE_URL is empty.
type BadgerConfig struct {
	Path string // directory for badger files (default data/badger)
}

// SISConfig points at an external school information system that owns enrolment.
type SISConfig struct {
	DatabaseURL string // MariaDB DSN (optional)
	RosterQuery string // query returning (student_id, name) for a lesson id placeholder
}

type SessionConfig struct {
	MaxDuration   time.Duration // sessions older than this are closed automatically (0 disables)
	SweepInterval time.Duration // how often the scheduler looks for expired sessions
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	FrameRateLimit int // frame submissions per minute per client IP
}

type LogConfig struct {
	Level  string // debug, info, warn, error (default info)
	Format string // json or console (default json)
}

// IsConfigured reports whether a PostgreSQL backend was requested.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != ""
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a time.Duration ("30s", "2h").
// A value of "0" is accepted and disables the related feature.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			URL:         envString("EMBEDDING_URL", "http://localhost:8000"),
			Model:       envString("EMBEDDING_MODEL", "dlib_resnet_v1"),
			Dim:         envInt("EMBEDDING_DIM", constants.DefaultEmbeddingDim),
			Timeout:     envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			FrameResize: envFloat("FRAME_RESIZE", constants.DefaultFrameResize),
			Workers:     envInt("WORKER_POOL_SIZE", constants.WorkerPoolSize),
		},
		Matching: MatchingConfig{
			Threshold: envFloat("MATCH_THRESHOLD", constants.DefaultDistanceThreshold),
			Metric:    strings.ToLower(envString("MATCH_METRIC", "euclidean")),
			Index:     strings.ToLower(envString("MATCH_INDEX", "linear")),
		},
		Gallery: GalleryConfig{
			Path: os.Getenv("GALLERY_PATH"),
			Root: envString("GALLERY_ROOT", "dataset"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Badger: BadgerConfig{
			Path: envString("BADGER_PATH", "data/badger"),
		},
		SIS: SISConfig{
			DatabaseURL: os.Getenv("SIS_DATABASE_URL"),
			RosterQuery: os.Getenv("SIS_ROSTER_QUERY"),
		},
		Session: SessionConfig{
			MaxDuration:   envDuration("SESSION_MAX_DURATION", 2*time.Hour),
			SweepInterval: envDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8085),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			FrameRateLimit: envInt("WEB_FRAME_RATE_LIMIT", 120),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
	}
}
