package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"coop-settlement/internal/domain"
	"coop-settlement/internal/service"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxTxAttempts = 3

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the ledger record store. Outside a transaction it runs statements
// on the pool; the Store handed to WithinTx callbacks is bound to the tx.
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// WithinTx runs fn in a single transaction and commits when fn returns nil.
// Serialization failures and deadlocks are retried.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, l service.Ledger) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		log.Printf("[DB] transaction attempt %d failed, retrying: %v", attempt, err)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, l service.Ledger) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WithinSavepoint rolls back only the statements issued by fn when it fails.
// Outside a transaction fn runs as is.
func (s *Store) WithinSavepoint(ctx context.Context, name string, fn func() error) error {
	if s.tx == nil {
		return fn()
	}

	sp := pgx.Identifier{name}.Sanitize()
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %v (after %w)", name, rbErr, err)
		}
		return err
	}

	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
