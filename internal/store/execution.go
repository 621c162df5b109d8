package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/execution"
)

// ExecutionStore keeps the wizard state as a JSON document per record.
type ExecutionStore struct {
	db *sqlx.DB
}

type wizardRow struct {
	Data    []byte `db:"data"`
	Version int64  `db:"version"`
}

func (es *ExecutionStore) GetWizardState(ctx context.Context, recordID string) (*execution.State, error) {
	var row wizardRow
	err := es.db.GetContext(ctx, &row, `SELECT data, version FROM execucao_estado WHERE solicitacao_id = $1`, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution state of %s: %w", recordID, err)
	}

	var st execution.State
	if err := json.Unmarshal(row.Data, &st); err != nil {
		return nil, fmt.Errorf("decode execution state of %s: %w", recordID, err)
	}
	st.Version = row.Version
	return &st, nil
}

func saveWizardState(ctx context.Context, ext sqlx.ExecerContext, st *execution.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode execution state of %s: %w", st.RecordID, err)
	}

	var result sql.Result
	if st.Version == 0 {
		result, err = ext.ExecContext(ctx, `INSERT INTO execucao_estado (solicitacao_id, data, version, updated_at)
			VALUES ($1, $2, 1, $3) ON CONFLICT (solicitacao_id) DO NOTHING`,
			st.RecordID, data, st.UpdatedAt)
	} else {
		result, err = ext.ExecContext(ctx, `UPDATE execucao_estado SET data = $1, version = version + 1, updated_at = $2
			WHERE solicitacao_id = $3 AND version = $4`,
			data, st.UpdatedAt, st.RecordID, st.Version)
	}
	if err != nil {
		return fmt.Errorf("save execution state of %s: %w", st.RecordID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("execution state of %s: %w", st.RecordID, apperr.ErrConflict)
	}
	return nil
}
