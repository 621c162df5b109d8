package workflow

import (
	"context"
	"errors"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/process"
)

// BatchResult is the outcome of signing one process of a batch.
type BatchResult struct {
	RecordID string          `json:"record_id"`
	Record   *process.Record `json:"record,omitempty"`
	Err      error           `json:"-"`
	Error    *apperr.Error   `json:"error,omitempty"`
}

func (r BatchResult) OK() bool { return r.Err == nil }

// BatchSign signs the given processes one after the other. A failure is
// recorded on its own result and never undoes the others.
func (s *Service) BatchSign(ctx context.Context, recordIDs []string, actor string) []BatchResult {
	const component = "Workflow-BatchSign"
	results := make([]BatchResult, 0, len(recordIDs))
	var failed int
	for _, id := range recordIDs {
		res := BatchResult{RecordID: id}
		rec, err := s.SignDocument(ctx, id, actor)
		if err != nil {
			failed++
			res.Err = err
			res.Error = asAppError(err)
		} else {
			res.Record = rec
		}
		results = append(results, res)
	}
	s.appLogger.Info(component, "Batch signed: total=%d failed=%d actor=%s", len(recordIDs), failed, actor)
	return results
}

func asAppError(err error) *apperr.Error {
	var e *apperr.Error
	if errors.As(apperr.FromStore("assinatura", err), &e) {
		return e
	}
	return nil
}
