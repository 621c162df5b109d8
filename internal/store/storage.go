package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/history"
	"github.com/farxc/tramitacao/internal/process"
	"github.com/farxc/tramitacao/internal/workflow"
)

// Storage is the PostgreSQL implementation of every repository the services
// use. Reads go straight to the pool; writes that must land together go
// through Transact.
type Storage struct {
	db *sqlx.DB
	*RecordStore
	*HistoryStore
	*TaskStore
	*ExecutionStore
	*SequenceStore
	*BudgetStore
}

var (
	_ workflow.Repository  = (*Storage)(nil)
	_ execution.Repository = (*Storage)(nil)
	_ budget.Store         = (*Storage)(nil)
	_ history.Reader       = (*Storage)(nil)
)

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db:             db,
		RecordStore:    &RecordStore{db: db},
		HistoryStore:   &HistoryStore{db: db},
		TaskStore:      &TaskStore{db: db},
		ExecutionStore: &ExecutionStore{db: db},
		SequenceStore:  &SequenceStore{db: db},
		BudgetStore:    &BudgetStore{db: db},
	}
}

func (s *Storage) Transact(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error { return fn(&Tx{tx: tx}) })
}

func (s *Storage) TransactExecution(ctx context.Context, fn func(tx execution.Tx) error) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error { return fn(&Tx{tx: tx}) })
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Tx carries the writes of one unit of work.
type Tx struct {
	tx *sqlx.Tx
}

func (t *Tx) InsertRecord(ctx context.Context, r *process.Record) error {
	return insertRecord(ctx, t.tx, r)
}

func (t *Tx) UpdateRecord(ctx context.Context, r *process.Record) error {
	return updateRecord(ctx, t.tx, r)
}

func (t *Tx) AppendHistory(ctx context.Context, e *history.Entry) error {
	return appendHistory(ctx, t.tx, e)
}

func (t *Tx) InsertTasks(ctx context.Context, tasks []workflow.SigningTask) error {
	return insertTasks(ctx, t.tx, tasks)
}

func (t *Tx) SignPendingTasks(ctx context.Context, recordID, actor string, at time.Time) (int, error) {
	return signPendingTasks(ctx, t.tx, recordID, actor, at)
}

func (t *Tx) SaveWizardState(ctx context.Context, st *execution.State) error {
	return saveWizardState(ctx, t.tx, st)
}
