package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config contains the runtime configuration loaded from LATCH_* environment variables.
type Config struct {
	HTTPAddr  string `env:"LATCH_HTTP_ADDR"   envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LATCH_LOG_LEVEL"   envDefault:"info"`
	LogFormat string `env:"LATCH_LOG_FORMAT"  envDefault:"json"`
	LogColor  bool   `env:"LATCH_LOG_COLOR"   envDefault:"true"`

	ReadHeaderTimeout time.Duration `env:"LATCH_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"LATCH_HTTP_READ_TIMEOUT"        envDefault:"15s"`
	WriteTimeout      time.Duration `env:"LATCH_HTTP_WRITE_TIMEOUT"       envDefault:"15s"`
	IdleTimeout       time.Duration `env:"LATCH_HTTP_IDLE_TIMEOUT"        envDefault:"60s"`
	MaxHeaderBytes    int           `env:"LATCH_HTTP_MAX_HEADER_BYTES"    envDefault:"1048576"`

	// Store selects the persistence driver. Empty picks postgres when DatabaseURL is set,
	// sqlite when SQLitePath is set, and memory otherwise.
	Store string `env:"LATCH_STORE"`

	DatabaseURL string `env:"LATCH_DATABASE_URL"`
	DBSchema    string `env:"LATCH_DB_SCHEMA"    envDefault:"latch"`
	DBMaxConns  int32  `env:"LATCH_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"LATCH_DB_MIN_CONNS" envDefault:"0"`

	// AutoMigrate applies embedded Postgres migrations on start. SQLite always migrates on open.
	AutoMigrate bool `env:"LATCH_AUTO_MIGRATE" envDefault:"false"`

	SQLitePath string `env:"LATCH_SQLITE_PATH"`

	// If true, /readyz returns 503 while running on the in-memory store.
	ReadinessRequireDB bool `env:"LATCH_READINESS_REQUIRE_DB" envDefault:"false"`

	// If true, LATCH_TOKEN_HMAC_KEY must be set (>= 32 bytes) and codes/reset tokens are
	// stored as HMAC digests.
	RequireTokenHMAC bool `env:"LATCH_REQUIRE_TOKEN_HMAC" envDefault:"false"`

	CORSAllowedOrigins   []string `env:"LATCH_CORS_ALLOWED_ORIGINS"   envSeparator:","`
	CORSAllowCredentials bool     `env:"LATCH_CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"LATCH_CORS_MAX_AGE_SECONDS"   envDefault:"600"`

	MetricsEnabled bool `env:"LATCH_METRICS_ENABLED" envDefault:"true"`
}

// LoadConfig parses Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse app env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	origins := cfg.CORSAllowedOrigins[:0]
	for _, o := range cfg.CORSAllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.CORSAllowedOrigins = origins

	if _, err := cfg.StoreDriver(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StoreDriver resolves the effective persistence driver.
func (c Config) StoreDriver() (string, error) {
	switch c.Store {
	case "":
		switch {
		case strings.TrimSpace(c.DatabaseURL) != "":
			return StorePostgres, nil
		case strings.TrimSpace(c.SQLitePath) != "":
			return StoreSQLite, nil
		default:
			return StoreMemory, nil
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return "", fmt.Errorf("config: LATCH_STORE=postgres requires LATCH_DATABASE_URL")
		}
		return StorePostgres, nil
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return "", fmt.Errorf("config: LATCH_STORE=sqlite requires LATCH_SQLITE_PATH")
		}
		return StoreSQLite, nil
	case StoreMemory:
		return StoreMemory, nil
	default:
		return "", fmt.Errorf("config: unknown LATCH_STORE %q", c.Store)
	}
}
