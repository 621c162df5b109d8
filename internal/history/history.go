// Package history is the append-only tramitação log. Entries are written by
// the workflow inside the same transaction as the record change they
// describe, and read back in the order they were appended.
package history

import (
	"context"
	"iter"
	"time"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/process"
)

type Entry struct {
	Seq            int64               `db:"seq" json:"seq"`
	ID             string              `db:"id" json:"id"`
	RecordID       string              `db:"solicitacao_id" json:"solicitacao_id"`
	Origin         process.Destination `db:"origem" json:"origem"`
	Destination    process.Destination `db:"destino" json:"destino"`
	PreviousStatus process.Status      `db:"status_anterior" json:"status_anterior"`
	NewStatus      process.Status      `db:"status_novo" json:"status_novo"`
	Note           string              `db:"observacao" json:"observacao"`
	Actor          string              `db:"tramitado_por" json:"tramitado_por"`
	TransitionedAt time.Time           `db:"data_tramitacao" json:"data_tramitacao"`
}

// Appender is the write side, normally bound to an open transaction.
type Appender interface {
	AppendHistory(ctx context.Context, e *Entry) error
}

// Reader pages through the entries of one record ordered by Seq.
type Reader interface {
	ListHistory(ctx context.Context, recordID string, afterSeq int64, limit int) ([]Entry, error)
}

const defaultPageSize = 50

type Log struct {
	reader   Reader
	pageSize int
}

func NewLog(reader Reader, pageSize int) *Log {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Log{reader: reader, pageSize: pageSize}
}

// Query returns the record's entries oldest first. Pages are fetched as the
// sequence is consumed; ranging over it again starts a fresh read. A store
// failure is yielded once as the final element.
func (l *Log) Query(ctx context.Context, recordID string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var after int64
		for {
			page, err := l.reader.ListHistory(ctx, recordID, after, l.pageSize)
			if err != nil {
				yield(Entry{}, apperr.FromStore("consulta do histórico", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				after = e.Seq
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// All drains Query into a slice.
func (l *Log) All(ctx context.Context, recordID string) ([]Entry, error) {
	var out []Entry
	for e, err := range l.Query(ctx, recordID) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
