// Package database provides SQL persistence for quest progress, player
// ledgers and pending reward mail on SQLite or PostgreSQL.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Database wraps the SQL connection and provides persistence operations.
type Database struct {
	db      *sql.DB
	dialect Dialect
	qb      *QueryBuilder

	// defaultSlots is the inventory capacity given to new ledger players.
	defaultSlots int
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*Database, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig opens the database selected by cfg.Driver and runs migrations.
func OpenWithConfig(cfg Config) (*Database, error) {
	var (
		dialect Dialect
		dsn     string
	)
	switch cfg.Driver {
	case "", "sqlite":
		dialect = NewDialect(DialectSQLite)
		dsn = cfg.SQLitePath
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case "postgres":
		dialect = NewDialect(DialectPostgres)
		dsn = cfg.Postgres.DSN()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, ok := dialect.(*SQLiteDialect); ok {
		// PRAGMAs are per connection; one connection keeps them in force.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.Postgres.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	for _, stmt := range dialect.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", stmt, err)
		}
	}

	d := &Database{
		db:           db,
		dialect:      dialect,
		qb:           NewQueryBuilder(dialect),
		defaultSlots: 20,
	}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Dialect returns the active dialect.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// SetDefaultSlots sets the inventory capacity of players created from now on.
func (d *Database) SetDefaultSlots(slots int) {
	d.defaultSlots = slots
}

// migrate creates the database schema if it doesn't exist.
func (d *Database) migrate() error {
	blob := d.dialect.BinaryType()
	migrations := []string{
		// One row per (player, quest); data is the JSON progress record
		`CREATE TABLE IF NOT EXISTS quest_progress (
			player_id TEXT NOT NULL,
			quest_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data ` + blob + ` NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (player_id, quest_id)
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_players (
			player_id TEXT PRIMARY KEY,
			experience BIGINT NOT NULL DEFAULT 0,
			inventory_slots INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_currency (
			player_id TEXT NOT NULL REFERENCES ledger_players(player_id) ON DELETE CASCADE,
			currency TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (player_id, currency)
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_items (
			player_id TEXT NOT NULL REFERENCES ledger_players(player_id) ON DELETE CASCADE,
			item_kind TEXT NOT NULL,
			quantity BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (player_id, item_kind)
		)`,

		// Applied grant ids; a grant is paid out at most once
		`CREATE TABLE IF NOT EXISTS ledger_grants (
			grant_id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)`,

		// Item stacks a grant could not deliver, kept so a repeated grant
		// reports the same remainder
		`CREATE TABLE IF NOT EXISTS ledger_remainders (
			grant_id TEXT PRIMARY KEY REFERENCES ledger_grants(grant_id) ON DELETE CASCADE,
			items ` + blob + ` NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS reward_mail (
			id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			quest_id TEXT NOT NULL,
			reward ` + blob + ` NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			sent_at BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_reward_mail_sent_at ON reward_mail(sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_quest_progress_status ON quest_progress(status)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %s: %w", firstLine(migration), err)
		}
	}

	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
