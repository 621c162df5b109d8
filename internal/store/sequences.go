package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SequenceStore hands out yearly counters such as protocol and Portaria numbers.
type SequenceStore struct {
	db *sqlx.DB
}

const portariaSequence = "PORTARIA-SF"

func (ss *SequenceStore) next(ctx context.Context, name string, year int) (int64, error) {
	query := `INSERT INTO sequencias (name, year, value) VALUES ($1, $2, 1)
	ON CONFLICT (name, year) DO UPDATE SET value = sequencias.value + 1
	RETURNING value`

	var v int64
	if err := ss.db.QueryRowxContext(ctx, query, name, year).Scan(&v); err != nil {
		return 0, fmt.Errorf("next %s/%d: %w", name, year, err)
	}
	return v, nil
}

func (ss *SequenceStore) NextProtocolSeq(ctx context.Context, prefix string, year int) (int64, error) {
	return ss.next(ctx, prefix, year)
}

func (ss *SequenceStore) NextPortariaSeq(ctx context.Context, year int) (int64, error) {
	return ss.next(ctx, portariaSequence, year)
}
