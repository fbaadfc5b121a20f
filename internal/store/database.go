// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package store provides database access for posts, taxonomy, slug mappings
// and sync bookkeeping.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/go-libsql" // libSQL driver for Turso databases
	_ "modernc.org/sqlite"                 // SQLite driver for database/sql
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBConfig holds database configuration options.
type DBConfig struct {
	// AuthToken authenticates against a remote libSQL (Turso) database.
	AuthToken string
	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns is the maximum number of connections in the idle connection pool.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration
}

// DefaultDBConfig returns sensible defaults for SQLite.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// IsRemoteDSN reports whether dsn points at a libSQL server rather than a file.
func IsRemoteDSN(dsn string) bool {
	for _, prefix := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}

// NewDB opens a local SQLite database and configures it for concurrent use.
func NewDB(path string) (*sql.DB, error) {
	return Open(path, DefaultDBConfig())
}

// Open opens either a local SQLite file or a remote libSQL database,
// depending on the form of dsn.
func Open(dsn string, cfg DBConfig) (*sql.DB, error) {
	if IsRemoteDSN(dsn) {
		return openRemote(dsn, cfg)
	}

	db, err := sql.Open("sqlite", localDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	configurePool(db, cfg)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// localPragmas are applied to every pooled connection through the DSN.
var localPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"cache_size(-64000)",
	"foreign_keys(1)",
	"temp_store(MEMORY)",
}

// localDSN appends connection pragmas and immediate transaction locking to
// a SQLite path.
func localDSN(path string) string {
	params := url.Values{}
	for _, p := range localPragmas {
		params.Add("_pragma", p)
	}
	params.Set("_txlock", "immediate")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		path = "file:" + path
	}
	return path + sep + params.Encode()
}

func openRemote(dsn string, cfg DBConfig) (*sql.DB, error) {
	if cfg.AuthToken != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing database url: %w", err)
		}
		q := u.Query()
		q.Set("authToken", cfg.AuthToken)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening remote database: %w", err)
	}
	configurePool(db, cfg)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging remote database: %w", err)
	}
	return db, nil
}

func configurePool(db *sql.DB, cfg DBConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// Migrate runs all pending database migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
