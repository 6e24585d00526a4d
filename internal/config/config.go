package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	// DBDriver picks the backend. Empty means postgres when DATABASE_URL
	// is set and memory otherwise.
	DBDriver   string `env:"DB_DRIVER"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"scoreroom.db"`

	DBMaxOpenConns           int `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns           int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeSeconds int `env:"DB_CONN_MAX_LIFETIME_SECONDS" envDefault:"300"`
	DBConnMaxIdleTimeSeconds int `env:"DB_CONN_MAX_IDLE_SECONDS" envDefault:"60"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"scoreroom.realtime"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RoomCodeAttempts    int `env:"ROOM_CODE_ATTEMPTS" envDefault:"5"`
	DefaultInitialScore int `env:"DEFAULT_INITIAL_SCORE" envDefault:"0"`

	// ClientIdleSeconds is how long a session without an open websocket
	// keeps its server-side client. Zero disables eviction.
	ClientIdleSeconds int `env:"CLIENT_IDLE_SECONDS" envDefault:"900"`
}

func Default() Config {
	return Config{
		Port:                     "8080",
		SQLitePath:               "scoreroom.db",
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		NATSSubjectPrefix:        "scoreroom.realtime",
		LogLevel:                 "info",
		RoomCodeAttempts:         5,
		ClientIdleSeconds:        900,
	}
}

// Load parses the environment on top of the defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Default(), fmt.Errorf("parse env: %w", err)
	}
	if cfg.RoomCodeAttempts <= 0 {
		cfg.RoomCodeAttempts = 5
	}
	if cfg.DBMaxOpenConns <= 0 {
		cfg.DBMaxOpenConns = 10
	}
	if cfg.DBMaxIdleConns <= 0 {
		cfg.DBMaxIdleConns = 10
	}
	return cfg, nil
}

func (c Config) ClientIdleTimeout() time.Duration {
	if c.ClientIdleSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ClientIdleSeconds) * time.Second
}

// Driver resolves the backend driver.
func (c Config) Driver() string {
	if c.DBDriver != "" {
		return c.DBDriver
	}
	if c.DatabaseURL != "" {
		return DriverPostgres
	}
	return DriverMemory
}

func (c Config) Addr() string {
	return ":" + c.Port
}

func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeSeconds) * time.Second
}

func (c Config) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.DBConnMaxIdleTimeSeconds) * time.Second
}
