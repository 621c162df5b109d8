package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/farxc/tramitacao/internal/history"
)

type HistoryStore struct {
	db *sqlx.DB
}

func (hs *HistoryStore) ListHistory(ctx context.Context, recordID string, afterSeq int64, limit int) ([]history.Entry, error) {
	query := `SELECT seq, id, solicitacao_id, origem, destino, status_anterior, status_novo,
		observacao, tramitado_por, data_tramitacao
	FROM historico_tramitacao
	WHERE solicitacao_id = $1 AND seq > $2
	ORDER BY seq
	LIMIT $3`

	entries := []history.Entry{}
	if err := hs.db.SelectContext(ctx, &entries, query, recordID, afterSeq, limit); err != nil {
		return nil, fmt.Errorf("list history of %s: %w", recordID, err)
	}
	return entries, nil
}

func appendHistory(ctx context.Context, q sqlx.QueryerContext, e *history.Entry) error {
	query := `INSERT INTO historico_tramitacao (
		id, solicitacao_id, origem, destino, status_anterior, status_novo,
		observacao, tramitado_por, data_tramitacao
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING seq`

	err := q.QueryRowxContext(ctx, query,
		e.ID, e.RecordID, e.Origin, e.Destination, e.PreviousStatus, e.NewStatus,
		e.Note, e.Actor, e.TransitionedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append history of %s: %w", e.RecordID, err)
	}
	return nil
}
