package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/farxc/tramitacao/internal/process"
	"github.com/farxc/tramitacao/internal/workflow"
)

type TaskStore struct {
	db *sqlx.DB
}

func (ts *TaskStore) ListPendingTasks(ctx context.Context, dest process.Destination) ([]workflow.SigningTask, error) {
	query := `SELECT id, solicitacao_id, document_type, destino, status, created_at, signed_by, signed_at
	FROM assinaturas
	WHERE status = $1 AND ($2::text = '' OR destino = $2)
	ORDER BY created_at, solicitacao_id`

	tasks := []workflow.SigningTask{}
	if err := ts.db.SelectContext(ctx, &tasks, query, workflow.TaskPending, string(dest)); err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	return tasks, nil
}

func insertTasks(ctx context.Context, ext sqlx.ExtContext, tasks []workflow.SigningTask) error {
	query := `INSERT INTO assinaturas (
		id, solicitacao_id, document_type, destino, status, created_at, signed_by, signed_at
	) VALUES (
		:id, :solicitacao_id, :document_type, :destino, :status, :created_at, :signed_by, :signed_at
	) ON CONFLICT (solicitacao_id, document_type) WHERE status = 'PENDENTE' DO NOTHING`

	for i := range tasks {
		if _, err := sqlx.NamedExecContext(ctx, ext, query, &tasks[i]); err != nil {
			return fmt.Errorf("insert task %s for %s: %w", tasks[i].DocumentType, tasks[i].RecordID, err)
		}
	}
	return nil
}

func signPendingTasks(ctx context.Context, ext sqlx.ExecerContext, recordID, actor string, at time.Time) (int, error) {
	query := `UPDATE assinaturas SET status = $1, signed_by = $2, signed_at = $3
	WHERE solicitacao_id = $4 AND status = $5`

	result, err := ext.ExecContext(ctx, query, workflow.TaskSigned, actor, at, recordID, workflow.TaskPending)
	if err != nil {
		return 0, fmt.Errorf("sign tasks of %s: %w", recordID, err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}
