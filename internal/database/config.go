package database

import (
	"fmt"
	"time"

	"github.com/lawnchairsociety/questengine/internal/config"
)

// Config holds database connection configuration.
type Config struct {
	// Driver specifies which database to use: "sqlite" or "postgres"
	Driver string

	// SQLite configuration
	SQLitePath string

	// PostgreSQL configuration
	Postgres PostgresConfig
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// DefaultConfig returns a Config with sensible defaults for SQLite.
func DefaultConfig(sqlitePath string) Config {
	return Config{
		Driver:     "sqlite",
		SQLitePath: sqlitePath,
	}
}

// FromStoreConfig converts the store section of the service config.
func FromStoreConfig(c config.StoreConfig) Config {
	return Config{
		Driver:     c.Driver,
		SQLitePath: c.SQLitePath,
		Postgres: PostgresConfig{
			Host:            c.Postgres.Host,
			Port:            c.Postgres.Port,
			User:            c.Postgres.User,
			Password:        c.Postgres.Password,
			Database:        c.Postgres.Database,
			SSLMode:         c.Postgres.SSLMode,
			MaxOpenConns:    c.Postgres.MaxOpenConns,
			MaxIdleConns:    c.Postgres.MaxIdleConns,
			ConnMaxLifetime: c.Postgres.ConnMaxLifetime,
		},
	}
}
