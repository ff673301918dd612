package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Executor is satisfied by both *sqlx.DB and *sqlx.Tx, so repository methods
// can run against a plain connection or inside an enclosing transaction.
type Executor interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

type Store struct {
	DB *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{DB: db}
}

// ExecTx runs fn inside a database transaction, rolling back on error.
func (s *Store) ExecTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if txErr := tx.Rollback(); txErr != nil && txErr != sql.ErrTxDone {
			return fmt.Errorf("encountered rollback error: %v", txErr)
		}
		return err
	}

	return tx.Commit()
}

// TxRunner is the transaction boundary services depend on. The executor passed
// to fn is the open transaction.
type TxRunner func(ctx context.Context, fn func(q Executor) error) error

// RunTx adapts ExecTx to the TxRunner shape.
func (s *Store) RunTx(ctx context.Context, fn func(q Executor) error) error {
	return s.ExecTx(ctx, func(tx *sqlx.Tx) error {
		return fn(tx)
	})
}
