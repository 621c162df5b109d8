package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/process"
)

type DocumentType string

const (
	DocAutorizacao DocumentType = "AUTORIZACAO"
	DocPortaria    DocumentType = "PORTARIA"
	DocCertidao    DocumentType = "CERTIDAO"
	DocNE          DocumentType = "NE"
	DocDL          DocumentType = "DL"
	DocOB          DocumentType = "OB"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "PENDENTE"
	TaskSigned  TaskStatus = "ASSINADO"
)

// SigningTask is a document waiting for a signature at some department.
type SigningTask struct {
	ID           string              `db:"id" json:"id"`
	RecordID     string              `db:"solicitacao_id" json:"solicitacao_id"`
	DocumentType DocumentType        `db:"document_type" json:"document_type"`
	Destination  process.Destination `db:"destino" json:"destino"`
	Status       TaskStatus          `db:"status" json:"status"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	SignedBy     *string             `db:"signed_by" json:"signed_by,omitempty"`
	SignedAt     *time.Time          `db:"signed_at" json:"signed_at,omitempty"`
}

func newTask(recordID string, doc DocumentType, dest process.Destination, now time.Time) SigningTask {
	return SigningTask{
		ID:           uuid.NewString(),
		RecordID:     recordID,
		DocumentType: doc,
		Destination:  dest,
		Status:       TaskPending,
		CreatedAt:    now,
	}
}

// tasksForExecution creates one task per completed execution document.
func tasksForExecution(recordID string, st *execution.State, now time.Time) []SigningTask {
	docs := st.CompletedDocuments()
	tasks := make([]SigningTask, 0, len(docs))
	for _, s := range docs {
		tasks = append(tasks, newTask(recordID, DocumentType(s), process.DestSEFIN, now))
	}
	return tasks
}
