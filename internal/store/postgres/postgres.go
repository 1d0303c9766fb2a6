// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *model.Record) error {
	return queryCreateRecord(ctx, s.db, rec)
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	return queryGetRecord(ctx, s.db, id)
}

func (s *PostgresStore) GetActiveRecord(ctx context.Context, desc model.Descriptor) (*model.Record, error) {
	return queryGetActiveRecord(ctx, s.db, desc)
}

// UpdateRecord runs the read-modify-write in its own transaction so the row
// lock covers the merge.
func (s *PostgresStore) UpdateRecord(ctx context.Context, id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	var rec *model.Record
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		rec, err = tx.UpdateRecord(ctx, id, payload, mode, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool, actor string) (*model.Record, error) {
	return querySetActive(ctx, s.db, id, active, actor)
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	return queryDeleteRecord(ctx, s.db, id)
}

func (s *PostgresStore) ListRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	return queryListRecords(ctx, s.db, kind)
}

func (s *PostgresStore) ListAllRecords(ctx context.Context) ([]*model.Record, error) {
	return queryListAllRecords(ctx, s.db)
}

func (s *PostgresStore) SearchRecords(ctx context.Context, filter model.RecordFilter) ([]*model.Record, int, error) {
	return querySearchRecords(ctx, s.db, filter)
}

func (s *PostgresStore) CountByKind(ctx context.Context) ([]model.KindCount, error) {
	return queryCountByKind(ctx, s.db)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateRecord(ctx context.Context, rec *model.Record) error {
	return queryCreateRecord(ctx, s.tx, rec)
}

func (s *txStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	return queryGetRecord(ctx, s.tx, id)
}

func (s *txStore) GetActiveRecord(ctx context.Context, desc model.Descriptor) (*model.Record, error) {
	return queryGetActiveRecord(ctx, s.tx, desc)
}

func (s *txStore) UpdateRecord(ctx context.Context, id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	return queryUpdateRecord(ctx, s.tx, id, payload, mode, actor)
}

func (s *txStore) SetActive(ctx context.Context, id string, active bool, actor string) (*model.Record, error) {
	return querySetActive(ctx, s.tx, id, active, actor)
}

func (s *txStore) DeleteRecord(ctx context.Context, id string) error {
	return queryDeleteRecord(ctx, s.tx, id)
}

func (s *txStore) ListRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	return queryListRecords(ctx, s.tx, kind)
}

func (s *txStore) ListAllRecords(ctx context.Context) ([]*model.Record, error) {
	return queryListAllRecords(ctx, s.tx)
}

func (s *txStore) SearchRecords(ctx context.Context, filter model.RecordFilter) ([]*model.Record, int, error) {
	return querySearchRecords(ctx, s.tx, filter)
}

func (s *txStore) CountByKind(ctx context.Context) ([]model.KindCount, error) {
	return queryCountByKind(ctx, s.tx)
}

// RunInTransaction on a txStore runs fn in the existing transaction.
func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) Ping(context.Context) error { return nil }

// Close is a no-op; the owning PostgresStore manages the connection.
func (s *txStore) Close() error { return nil }
