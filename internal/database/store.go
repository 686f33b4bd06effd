package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Store provides all queries plus transactional execution.
type Store interface {
	Querier
	// ExecTx runs fn inside a transaction. Calling ExecTx on the Store handed to fn
	// opens a savepoint, so a failing inner unit rolls back only its own writes.
	ExecTx(ctx context.Context, fn func(Store) error) error
}

// TxStarter is satisfied by both *pgxpool.Pool and pgx.Tx.
type TxStarter interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgStore implements Store on top of a pgx pool or transaction.
type PgStore struct {
	*Queries
	db TxStarter
}

// NewStore creates a Store backed by the given pool.
func NewStore(db TxStarter) *PgStore {
	return &PgStore{
		Queries: New(db),
		db:      db,
	}
}

func (s *PgStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	if err := fn(&PgStore{Queries: s.WithTx(tx), db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
