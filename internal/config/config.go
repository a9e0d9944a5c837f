// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DuckDBConfig holds tuning applied to every pooled connection at creation
// time. The pool's creation path is the single source of truth for these —
// no component may re-declare or override them.
type DuckDBConfig struct {
	MemoryLimit    string        // per-connection memory ceiling, e.g. "4GB"
	Threads        int           // worker threads for the embedded engine
	TempDirectory  string        // spill directory when MemoryLimit is exceeded
	MaxConns       int           // pool capacity
	AcquireTimeout time.Duration // bounded wait for a pool slot
}

// LimitsConfig bounds request sizes to keep peak memory flat.
type LimitsConfig struct {
	DefaultPageSize int // page size when none requested
	MaxPageSize     int // upper bound for page_size
	MaxBatchRecords int // upper bound for bulk create
	InsertChunkSize int // records bound per batch-INSERT round trip
	StreamChunkSize int // rows fetched per stream pull
	MaxStreamLimit  int // upper bound for stream limit
}

// PartitionConfig controls the optional time-based partition router.
type PartitionConfig struct {
	Enabled       bool
	Strategy      string // yearly, monthly, weekly, daily
	Directory     string // directory holding one store file per partition
	MaxOpenPools  int    // partitions kept open simultaneously
	RetentionDays int    // 0 keeps all partitions
}

// Config holds the configuration for the gateway. Constructed once at
// startup and read-only thereafter.
type Config struct {
	DataDBPath  string // path to the DuckDB store file
	AuditDBPath string // path to the SQLite audit metastore; "disabled" turns auditing off
	SchemaFile  string // path to the YAML schema metadata file
	ListenAddr  string // HTTP listen address (default ":8080")
	LogLevel    string // debug, info, warn, error (default "info")
	Env         string // "development" (default) or "production"

	DuckDB    DuckDBConfig
	Limits    LimitsConfig
	Partition PartitionConfig

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDBPath:  os.Getenv("DATA_DB_PATH"),
		AuditDBPath: os.Getenv("AUDIT_DB_PATH"),
		SchemaFile:  os.Getenv("SCHEMA_FILE"),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Env:         os.Getenv("ENV"),
		DuckDB: DuckDBConfig{
			MemoryLimit:    envDefault("DUCKDB_MEMORY_LIMIT", "4GB"),
			Threads:        intEnvDefault("DUCKDB_THREADS", 4),
			TempDirectory:  os.Getenv("DUCKDB_TEMP_DIRECTORY"),
			MaxConns:       intEnvDefault("POOL_MAX_CONNS", 8),
			AcquireTimeout: durationEnvDefault("POOL_ACQUIRE_TIMEOUT", 5*time.Second),
		},
		Limits: LimitsConfig{
			DefaultPageSize: intEnvDefault("DEFAULT_PAGE_SIZE", 100),
			MaxPageSize:     intEnvDefault("MAX_PAGE_SIZE", 10000),
			MaxBatchRecords: intEnvDefault("MAX_BATCH_RECORDS", 100000),
			InsertChunkSize: intEnvDefault("INSERT_CHUNK_SIZE", 5000),
			StreamChunkSize: intEnvDefault("STREAM_CHUNK_SIZE", 1000),
			MaxStreamLimit:  intEnvDefault("MAX_STREAM_LIMIT", 500000),
		},
		Partition: PartitionConfig{
			Enabled:       parseBoolEnvDefault("PARTITION_ENABLED", false),
			Strategy:      envDefault("PARTITION_STRATEGY", "monthly"),
			Directory:     envDefault("PARTITION_DIR", "data/partitions"),
			MaxOpenPools:  intEnvDefault("PARTITION_MAX_OPEN", 12),
			RetentionDays: intEnvDefault("PARTITION_RETENTION_DAYS", 0),
		},
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// Defaults
	if cfg.DataDBPath == "" {
		cfg.DataDBPath = "data/gateway.duckdb"
	}
	switch cfg.AuditDBPath {
	case "":
		cfg.AuditDBPath = "data/gateway_audit.sqlite"
	case "disabled":
		cfg.AuditDBPath = ""
	}
	if cfg.SchemaFile == "" {
		cfg.SchemaFile = "schemas.yaml"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Production mode: permissive CORS is a fatal error.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DuckDB.MaxConns < 1 {
		return fmt.Errorf("POOL_MAX_CONNS must be at least 1")
	}
	if c.DuckDB.AcquireTimeout <= 0 {
		return fmt.Errorf("POOL_ACQUIRE_TIMEOUT must be positive")
	}
	if c.Limits.InsertChunkSize < 1 || c.Limits.StreamChunkSize < 1 {
		return fmt.Errorf("chunk sizes must be at least 1")
	}
	if c.Limits.InsertChunkSize > c.Limits.MaxBatchRecords {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("INSERT_CHUNK_SIZE %d exceeds MAX_BATCH_RECORDS %d — clamping",
				c.Limits.InsertChunkSize, c.Limits.MaxBatchRecords))
		c.Limits.InsertChunkSize = c.Limits.MaxBatchRecords
	}
	switch c.Partition.Strategy {
	case "yearly", "monthly", "weekly", "daily":
	default:
		return fmt.Errorf("PARTITION_STRATEGY %q: must be yearly, monthly, weekly, or daily", c.Partition.Strategy)
	}
	return nil
}

func envDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func intEnvDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func durationEnvDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
