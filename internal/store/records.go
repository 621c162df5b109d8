package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/process"
	"github.com/farxc/tramitacao/internal/workflow"
)

type RecordStore struct {
	db *sqlx.DB
}

const recordColumns = `id, protocol, type, status, destino_atual, value, interstate,
	requester_name, requester_registration, requester_department, requester_email,
	destination_city, destination_state, departure_date, return_date, purpose,
	legal_opinion, legal_opinion_author, assigned_to,
	ptres_code, dotacao_code, ne_numero, ne_valor, dl_numero, dl_valor, ob_numero, ob_valor,
	portaria_sf_numero, version, created_at, updated_at`

func (rs *RecordStore) GetRecord(ctx context.Context, id string) (*process.Record, error) {
	var r process.Record
	err := rs.db.GetContext(ctx, &r, `SELECT `+recordColumns+` FROM solicitacoes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return &r, nil
}

func (rs *RecordStore) ListRecords(ctx context.Context, f workflow.RecordFilter) ([]process.Record, error) {
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}

	query := `SELECT ` + recordColumns + ` FROM solicitacoes
		WHERE ($1::text = '' OR destino_atual = $1)
		AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at, protocol
		LIMIT $3 OFFSET $4`

	records := []process.Record{}
	if err := rs.db.SelectContext(ctx, &records, query, string(f.Destination), pq.Array(statuses), limit, f.Offset); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func insertRecord(ctx context.Context, ext sqlx.ExtContext, r *process.Record) error {
	query := `INSERT INTO solicitacoes (` + recordColumns + `) VALUES (
		:id, :protocol, :type, :status, :destino_atual, :value, :interstate,
		:requester_name, :requester_registration, :requester_department, :requester_email,
		:destination_city, :destination_state, :departure_date, :return_date, :purpose,
		:legal_opinion, :legal_opinion_author, :assigned_to,
		:ptres_code, :dotacao_code, :ne_numero, :ne_valor, :dl_numero, :dl_valor, :ob_numero, :ob_valor,
		:portaria_sf_numero, :version, :created_at, :updated_at
	)`
	_, err := sqlx.NamedExecContext(ctx, ext, query, r)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("protocol %s already registered: %w", r.Protocol, apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.Protocol, err)
	}
	return nil
}

// updateRecord writes every mutable column and bumps the version, but only if
// the row is still at r.Version.
func updateRecord(ctx context.Context, ext sqlx.ExtContext, r *process.Record) error {
	query := `UPDATE solicitacoes SET
		status = :status,
		destino_atual = :destino_atual,
		legal_opinion = :legal_opinion,
		legal_opinion_author = :legal_opinion_author,
		assigned_to = :assigned_to,
		ptres_code = :ptres_code,
		dotacao_code = :dotacao_code,
		ne_numero = :ne_numero,
		ne_valor = :ne_valor,
		dl_numero = :dl_numero,
		dl_valor = :dl_valor,
		ob_numero = :ob_numero,
		ob_valor = :ob_valor,
		portaria_sf_numero = :portaria_sf_numero,
		updated_at = :updated_at,
		version = version + 1
	WHERE id = :id AND version = :version`

	result, err := sqlx.NamedExecContext(ctx, ext, query, r)
	if err != nil {
		return fmt.Errorf("update record %s: %w", r.Protocol, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s changed since version %d: %w", r.Protocol, r.Version, apperr.ErrConflict)
	}
	return nil
}
