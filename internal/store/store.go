package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/datallboy/gobili/internal/infra/config"
)

const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

// PersistentStore keeps jobs, their transfers and video metadata in either
// SQLite or PostgreSQL. Queries are written with ? placeholders and rebound
// for PostgreSQL.
type PersistentStore struct {
	db     *sql.DB
	driver string
}

func NewPersistentStore(cfg config.StoreConfig) (*PersistentStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "", DriverSQLite:
		db, err = openSQLite(cfg.SQLitePath)
		cfg.Driver = DriverSQLite
	case DriverPgx:
		db, err = sql.Open(DriverPgx, cfg.DSN)
		if err != nil {
			err = fmt.Errorf("failed to open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	// Ping makes sure the database is actually reachable and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	store := &PersistentStore{db: db, driver: cfg.Driver}

	if err := store.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	// Ensure the database directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return db, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *PersistentStore) rebind(query string) string {
	if s.driver != DriverPgx {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *PersistentStore) Close() error {
	return s.db.Close()
}
