// Package sqlstore implements store.Store on PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/store"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// SQLStore implements store.Store backed by a database/sql connection pool.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Compile-time check that SQLStore implements store.Store.
var _ store.Store = (*SQLStore)(nil)

// Open connects to databaseURL (postgres:// or sqlite://), configures the
// connection pool, and runs any pending migrations.
func Open(databaseURL string) (*SQLStore, error) {
	d, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d.name == sqliteDialect.name {
		// Each connection to ":memory:" gets its own database.
		if strings.HasPrefix(dsn, ":memory:") {
			db.SetMaxOpenConns(1)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

func runMigrations(db *sql.DB, d dialect) error {
	sourceDriver, err := iofs.New(migrationsFS, d.migrations)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := d.migrator(db)
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, d.name, dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Dialect returns the database/sql driver name in use.
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, rec model.Record) error {
	return queryCreate(ctx, s.db, s.dialect, rec)
}

func (s *SQLStore) Get(ctx context.Context, kind model.Kind, id string) (model.Record, error) {
	return queryGet(ctx, s.db, s.dialect, kind, id, false)
}

func (s *SQLStore) Update(ctx context.Context, rec model.Record) error {
	return queryUpdate(ctx, s.db, s.dialect, rec)
}

func (s *SQLStore) Delete(ctx context.Context, kind model.Kind, id string) error {
	return queryDelete(ctx, s.db, s.dialect, kind, id)
}

func (s *SQLStore) List(ctx context.Context, kind model.Kind, filter model.ListFilter) ([]model.Record, int, error) {
	return queryList(ctx, s.db, s.dialect, kind, filter)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *SQLStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx, dialect: s.dialect}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(s.dialect, "commit transaction", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx      *sql.Tx
	dialect dialect
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) Create(ctx context.Context, rec model.Record) error {
	return queryCreate(ctx, s.tx, s.dialect, rec)
}

func (s *txStore) Get(ctx context.Context, kind model.Kind, id string) (model.Record, error) {
	return queryGet(ctx, s.tx, s.dialect, kind, id, true)
}

func (s *txStore) Update(ctx context.Context, rec model.Record) error {
	return queryUpdate(ctx, s.tx, s.dialect, rec)
}

func (s *txStore) Delete(ctx context.Context, kind model.Kind, id string) error {
	return queryDelete(ctx, s.tx, s.dialect, kind, id)
}

func (s *txStore) List(ctx context.Context, kind model.Kind, filter model.ListFilter) ([]model.Record, int, error) {
	return queryList(ctx, s.tx, s.dialect, kind, filter)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
