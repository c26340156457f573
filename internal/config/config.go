// Package config loads zootally settings from the environment.
// Every value has a default except the database URL, and the whole
// configuration is validated once at startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Archive  ArchiveConfig
	Export   ExportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including waiting for
	// in-flight confirms (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL selects the store: postgres://... or sqlite:path (required).
	// DATABASE_URL and DB_URL are both accepted.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// Migrate applies the schema on startup. SQLite always migrates.
	Migrate bool `env:"DB_MIGRATE" default:"true"`

	// Pool settings apply to PostgreSQL only.
	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds census upload settings.
type IngestConfig struct {
	// AccessionWidth is the exact length of every accession (default: 6)
	AccessionWidth int `env:"INGEST_ACCESSION_WIDTH" default:"6"`

	// MaxFileSize is the largest accepted upload; plain bytes or a size
	// like "20MiB" (default: 20MiB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"20MiB" bytes:"true"`

	// MaxConcurrent caps parallel stage operations (default: 4)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a request waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// StageTTL is how long a staged changeset can be confirmed (default: 30m)
	StageTTL time.Duration `env:"INGEST_STAGE_TTL" default:"30m"`

	// SweepInterval is how often expired stages are dropped (default: 1m)
	SweepInterval time.Duration `env:"INGEST_SWEEP_INTERVAL" default:"1m"`
}

// ArchiveConfig selects where raw uploads are kept.
type ArchiveConfig struct {
	// Driver is none, fs or s3 (default: fs)
	Driver string `env:"ARCHIVE_DRIVER" default:"fs"`

	// Root is the fs driver's directory (default: ./archive)
	Root string `env:"ARCHIVE_ROOT" default:"archive"`

	Bucket    string `env:"ARCHIVE_S3_BUCKET"`
	Region    string `env:"ARCHIVE_S3_REGION" envAlt:"AWS_REGION" default:"us-east-1"`
	Prefix    string `env:"ARCHIVE_S3_PREFIX"`
	Endpoint  string `env:"ARCHIVE_S3_ENDPOINT"`
	PathStyle bool   `env:"ARCHIVE_S3_PATH_STYLE" default:"false"`
}

// ExportConfig holds spreadsheet export settings.
type ExportConfig struct {
	// Timezone renders count timestamps, as an IANA name (default: UTC)
	Timezone string `env:"EXPORT_TIMEZONE" default:"UTC"`
}

// Location resolves Timezone. Validate guarantees it loads.
func (c *ExportConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute applies to read endpoints (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// IngestLimit applies to stage and confirm (default: 10)
	IngestLimit int `env:"RATE_LIMIT_INGEST" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Forwarded-For headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
