package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/history"
	"github.com/farxc/tramitacao/internal/process"
	"github.com/farxc/tramitacao/internal/workflow"
)

func newMock(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStorage(sqlx.NewDb(db, "postgres")), mock
}

func TestGetRecord(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "protocol", "type", "status", "destino_atual", "value", "requester_name", "ne_valor", "version", "created_at"}).
		AddRow("r1", "TJPA-DIA-2026-0003", "DIARIA", "ENVIADO", "SODPA", "1500.00", "Ana", nil, 4, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM solicitacoes WHERE id = $1")).WithArgs("r1").WillReturnRows(rows)

	rec, err := s.GetRecord(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "TJPA-DIA-2026-0003", rec.Protocol)
	assert.Equal(t, process.DestSODPA, rec.Destination)
	assert.True(t, rec.Value.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, "Ana", rec.Requester.Name)
	assert.False(t, rec.NEValor.Valid)
	assert.Equal(t, int64(4), rec.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecordNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM solicitacoes").WillReturnError(sql.ErrNoRows)

	_, err := s.GetRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransactCommitsRecordAndHistory(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	rec := &process.Record{ID: "r1", Protocol: "TJPA-PAS-2026-0001", Status: process.StatusEmAnaliseAJSEFIN, Destination: process.DestAJSEFIN, Version: 2}
	entry := &history.Entry{ID: "h1", RecordID: "r1", Origin: process.DestSODPA, Destination: process.DestAJSEFIN, NewStatus: process.StatusEmAnaliseAJSEFIN, Actor: "x"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE solicitacoes SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO historico_tramitacao")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))
	mock.ExpectCommit()

	err := s.Transact(ctx, func(tx workflow.Tx) error {
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, entry)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRecordConflictRollsBack(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE solicitacoes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Transact(ctx, func(tx workflow.Tx) error {
		return tx.UpdateRecord(ctx, &process.Record{ID: "r1", Version: 1})
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryFailureRollsBack(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE solicitacoes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO historico_tramitacao").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Transact(ctx, func(tx workflow.Tx) error {
		if err := tx.UpdateRecord(ctx, &process.Record{ID: "r1"}); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &history.Entry{RecordID: "r1"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListHistory(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"seq", "id", "solicitacao_id", "status_novo"}).
		AddRow(5, "h5", "r1", "ENVIADO").
		AddRow(9, "h9", "r1", "EM_ANALISE_SODPA")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE solicitacao_id = $1 AND seq > $2")).WithArgs("r1", int64(3), 2).WillReturnRows(rows)

	entries, err := s.ListHistory(context.Background(), "r1", 3, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(9), entries[1].Seq)
	assert.Equal(t, process.StatusEmAnaliseSODPA, entries[1].NewStatus)
}

func TestNextProtocolSeq(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sequencias")).WithArgs("TJPA-DIA", 2026).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(12))

	seq, err := s.NextProtocolSeq(context.Background(), "TJPA-DIA", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(12), seq)
}

func TestSignPendingTasks(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE assinaturas SET status = $1")).
		WithArgs(workflow.TaskSigned, "ordenador", at, "r1", workflow.TaskPending).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	var n int
	err := s.Transact(ctx, func(tx workflow.Tx) error {
		var err error
		n, err = tx.SignPendingTasks(ctx, "r1", "ordenador", at)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWizardState(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM execucao_estado").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"data", "version"}).
			AddRow([]byte(`{"record_id":"r1","current_step":"NE","completed_steps":["PORTARIA","CERTIDAO"]}`), 3))

	st, err := s.GetWizardState(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, execution.StepNE, st.CurrentStep)
	assert.Equal(t, int64(3), st.Version)
	assert.True(t, st.IsCompleted(execution.StepCertidao))

	mock.ExpectQuery("FROM execucao_estado").WithArgs("r2").WillReturnError(sql.ErrNoRows)
	_, err = s.GetWizardState(ctx, "r2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE execucao_estado SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	err = s.TransactExecution(ctx, func(tx execution.Tx) error { return tx.SaveWizardState(ctx, st) })
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCommitted(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dotacao_items")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.UpdateCommitted(ctx, "i1", 2, decimal.NewFromInt(10)), apperr.ErrConflict)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dotacao_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, s.UpdateCommitted(ctx, "i1", 3, decimal.NewFromInt(10)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByDotacaoNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`dotacao_code = \$3 AND is_active\s+ORDER BY created_at DESC LIMIT 1`).
		WithArgs(2026, "8193", "170").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindActiveByDotacao(context.Background(), 2026, "8193", "170")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyPlan(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	change := &budget.PlanChange{
		Year:        2026,
		TotalBudget: decimal.NewFromInt(20000),
		UpdatedAt:   now,
		Delete:      []budget.DotacaoItem{{ID: "old", Version: 2}},
		Update:      []budget.DotacaoItem{{ID: "i1", ElementCode: "339014", DotacaoCode: "170", AllocatedValue: decimal.NewFromInt(9000), IsActive: true, Version: 5, UpdatedAt: now}},
		Insert:      []budget.DotacaoItem{{ID: "new", PtresCode: budget.Ptres8193, ElementCode: "339033", DotacaoCode: "171", IsActive: true}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO planos_orcamentarios")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND version = $2 AND committed_value = 0")).
		WithArgs("old", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $6 AND version = $7")).
		WithArgs("339014", "170", sqlmock.AnyArg(), true, now, "i1", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dotacao_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, s.ApplyPlan(context.Background(), change))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlanConflictRollsBack(t *testing.T) {
	s, mock := newMock(t)
	change := &budget.PlanChange{
		Year:   2026,
		Update: []budget.DotacaoItem{{ID: "i1", DotacaoCode: "170", Version: 5}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO planos_orcamentarios")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE dotacao_items")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.ApplyPlan(context.Background(), change)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
