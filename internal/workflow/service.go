package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/history"
	"github.com/farxc/tramitacao/internal/logger"
	"github.com/farxc/tramitacao/internal/notify"
	"github.com/farxc/tramitacao/internal/process"
)

// RecordFilter selects a department's inbox.
type RecordFilter struct {
	Destination process.Destination
	Statuses    []process.Status
	Limit       int
	Offset      int
}

type Repository interface {
	GetRecord(ctx context.Context, id string) (*process.Record, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]process.Record, error)
	ListPendingTasks(ctx context.Context, dest process.Destination) ([]SigningTask, error)
	// GetWizardState returns apperr.ErrNotFound when execution never started.
	GetWizardState(ctx context.Context, recordID string) (*execution.State, error)
	NextProtocolSeq(ctx context.Context, prefix string, year int) (int64, error)
	Transact(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one unit of work. Either every write inside it lands or none does.
type Tx interface {
	history.Appender
	InsertRecord(ctx context.Context, r *process.Record) error
	// UpdateRecord writes r if the stored version still equals r.Version,
	// otherwise it returns apperr.ErrConflict.
	UpdateRecord(ctx context.Context, r *process.Record) error
	// InsertTasks skips documents that already have a pending task.
	InsertTasks(ctx context.Context, tasks []SigningTask) error
	SignPendingTasks(ctx context.Context, recordID, actor string, at time.Time) (int, error)
	SaveWizardState(ctx context.Context, st *execution.State) error
}

type Service struct {
	repo      Repository
	notifier  notify.Sink
	appLogger *logger.Logger
	timeout   time.Duration
	now       func() time.Time
}

type Config struct {
	Repo     Repository
	Notifier notify.Sink
	Logger   *logger.Logger
	// Timeout bounds every call, store round trips included.
	Timeout time.Duration
}

func NewService(cfg Config) *Service {
	s := &Service{
		repo:      cfg.Repo,
		notifier:  cfg.Notifier,
		appLogger: cfg.Logger,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	return s
}

// hooks customize a transition. validate runs after the source state was
// accepted, mutate edits the new copy of the record and effects run inside
// the transaction after the record and history writes.
type hooks struct {
	validate func(ctx context.Context, rec *process.Record) error
	mutate   func(after *process.Record)
	effects  func(ctx context.Context, tx Tx, after *process.Record) error
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return apperr.New(apperr.KindMissingRequired, "Campo obrigatório", "informe o responsável pela tramitação").WithMissing("actor")
	}
	return nil
}

func requireReason(reason, what string) error {
	if strings.TrimSpace(reason) == "" {
		return apperr.Validation("informe o motivo da %s", what).WithMissing("motivo")
	}
	return nil
}

func joinNote(base, extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return base
	}
	return base + ": " + extra
}

func (s *Service) transition(ctx context.Context, recordID string, action Action, actor, note string, h hooks) (*process.Record, error) {
	const component = "Workflow"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := requireActor(actor); err != nil {
		return nil, s.fail(ctx, nil, err)
	}
	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, s.fail(ctx, nil, apperr.FromStore("consulta do processo", err))
	}
	rule, err := Next(rec, action)
	if err != nil {
		s.appLogger.Warn(component, "Transition refused: protocol=%s action=%s state=%s", rec.Protocol, action, StateOf(rec))
		return nil, s.fail(ctx, rec, err)
	}
	if h.validate != nil {
		if err := h.validate(ctx, rec); err != nil {
			return nil, s.fail(ctx, rec, err)
		}
	}

	now := s.now()
	after := rec.Clone()
	after.Destination = rule.To.Destination
	after.Status = rule.To.Status
	after.UpdatedAt = now
	if h.mutate != nil {
		h.mutate(after)
	}

	entry := &history.Entry{
		ID:             uuid.NewString(),
		RecordID:       rec.ID,
		Origin:         rec.Destination,
		Destination:    after.Destination,
		PreviousStatus: rec.Status,
		NewStatus:      after.Status,
		Note:           joinNote(rule.Note, note),
		Actor:          actor,
		TransitionedAt: now,
	}

	err = s.repo.Transact(ctx, func(tx Tx) error {
		if err := tx.UpdateRecord(ctx, after); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		if h.effects != nil {
			return h.effects(ctx, tx, after)
		}
		return nil
	})
	if err != nil {
		s.appLogger.Error(component, "Transition failed: protocol=%s action=%s err=%v", rec.Protocol, action, err)
		return nil, s.fail(ctx, rec, apperr.FromStore("tramitação do processo "+rec.Protocol, err))
	}
	after.Version++

	s.appLogger.Info(component, "Transition applied: protocol=%s action=%s from=%s to=%s actor=%s",
		rec.Protocol, action, rule.From, rule.To, actor)
	s.succeed(ctx, after, "Processo tramitado", fmt.Sprintf("%s: %s", rec.Protocol, rule.Note))
	return after, nil
}

func (s *Service) fail(ctx context.Context, rec *process.Record, err error) error {
	o := notify.FromError(err)
	if rec != nil {
		o.RecordID, o.Protocol = rec.ID, rec.Protocol
	}
	s.notifier.Notify(ctx, o)
	return err
}

func (s *Service) succeed(ctx context.Context, rec *process.Record, title, message string) {
	o := notify.Success(title, message)
	o.RecordID, o.Protocol = rec.ID, rec.Protocol
	s.notifier.Notify(ctx, o)
}

// Create registers a new request in SODPA and logs its arrival.
func (s *Service) Create(ctx context.Context, req process.NewRequest, actor string) (*process.Record, error) {
	const component = "Workflow-Create"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := requireActor(actor); err != nil {
		return nil, s.fail(ctx, nil, err)
	}
	if !req.Type.Valid() {
		return nil, s.fail(ctx, nil, apperr.Validation("tipo de solicitação inválido: %q", req.Type).WithMissing("tipo da solicitação"))
	}

	now := s.now()
	seq, err := s.repo.NextProtocolSeq(ctx, req.Type.ProtocolPrefix(), now.Year())
	if err != nil {
		return nil, s.fail(ctx, nil, apperr.FromStore("numeração do protocolo", err))
	}
	rec, err := process.Create(req, seq, now)
	if err != nil {
		return nil, s.fail(ctx, nil, err)
	}

	entry := &history.Entry{
		ID:             uuid.NewString(),
		RecordID:       rec.ID,
		Origin:         rec.Destination,
		Destination:    rec.Destination,
		NewStatus:      rec.Status,
		Note:           "Solicitação registrada",
		Actor:          actor,
		TransitionedAt: now,
	}
	err = s.repo.Transact(ctx, func(tx Tx) error {
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, entry)
	})
	if err != nil {
		return nil, s.fail(ctx, rec, apperr.FromStore("registro da solicitação", err))
	}

	s.appLogger.Info(component, "Request created: protocol=%s type=%s interstate=%t actor=%s", rec.Protocol, rec.Type, rec.Interstate, actor)
	s.succeed(ctx, rec, "Solicitação registrada", "Protocolo "+rec.Protocol)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (*process.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return nil, apperr.FromStore("consulta do processo", err)
	}
	return rec, nil
}

// Inbox lists the processes a department currently holds.
func (s *Service) Inbox(ctx context.Context, f RecordFilter) ([]process.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	recs, err := s.repo.ListRecords(ctx, f)
	if err != nil {
		return nil, apperr.FromStore("consulta da caixa de entrada", err)
	}
	return recs, nil
}

func (s *Service) PendingTasks(ctx context.Context, dest process.Destination) ([]SigningTask, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tasks, err := s.repo.ListPendingTasks(ctx, dest)
	if err != nil {
		return nil, apperr.FromStore("consulta das assinaturas pendentes", err)
	}
	return tasks, nil
}

// AssignToReviewer sets who is working on the process. Routing is untouched
// and assigning the same reviewer twice is a no-op.
func (s *Service) AssignToReviewer(ctx context.Context, recordID, reviewer, actor string) (*process.Record, error) {
	const component = "Workflow-Assign"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := requireActor(actor); err != nil {
		return nil, s.fail(ctx, nil, err)
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, s.fail(ctx, nil, apperr.New(apperr.KindMissingRequired, "Campo obrigatório", "informe o responsável").WithMissing("assigned_to"))
	}
	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, s.fail(ctx, nil, apperr.FromStore("consulta do processo", err))
	}
	if rec.Status.IsTerminal() {
		return nil, s.fail(ctx, rec, apperr.InvalidTransition("o processo %s está encerrado (%s)", rec.Protocol, rec.Status))
	}
	if rec.AssignedTo == reviewer {
		return rec, nil
	}

	after := rec.Clone()
	after.AssignedTo = reviewer
	after.UpdatedAt = s.now()
	err = s.repo.Transact(ctx, func(tx Tx) error {
		return tx.UpdateRecord(ctx, after)
	})
	if err != nil {
		return nil, s.fail(ctx, rec, apperr.FromStore("atribuição do processo", err))
	}
	after.Version++
	s.appLogger.Info(component, "Process assigned: protocol=%s assigned_to=%s actor=%s", rec.Protocol, reviewer, actor)
	return after, nil
}

// ForwardToLegalReview sends the process to AJSEFIN. A process the
// Presidency sent back gets a fresh legal review, so its old opinion is
// dropped.
func (s *Service) ForwardToLegalReview(ctx context.Context, recordID, actor, note string) (*process.Record, error) {
	var reopened bool
	return s.transition(ctx, recordID, ActionForwardToLegalReview, actor, note, hooks{
		validate: func(_ context.Context, rec *process.Record) error {
			reopened = StateOf(rec) == sodpaDevolvido
			return nil
		},
		mutate: func(after *process.Record) {
			if reopened {
				after.LegalOpinion = ""
				after.LegalOpinionAuthor = ""
			}
		},
	})
}

func (s *Service) StartReview(ctx context.Context, recordID, actor string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionStartReview, actor, "", hooks{
		mutate: func(after *process.Record) {
			if after.AssignedTo == "" {
				after.AssignedTo = actor
			}
		},
	})
}

// SubmitOpinion records the AJSEFIN legal opinion and sends the process to SEFIN.
func (s *Service) SubmitOpinion(ctx context.Context, recordID, opinion, actor string) (*process.Record, error) {
	opinion = strings.TrimSpace(opinion)
	return s.transition(ctx, recordID, ActionSubmitOpinion, actor, "", hooks{
		validate: func(_ context.Context, rec *process.Record) error {
			if opinion == "" {
				return apperr.New(apperr.KindMissingRequired, "Campo obrigatório", "o texto do parecer é obrigatório").WithMissing("parecer")
			}
			if rec.LegalOpinion != "" {
				return apperr.Validation("o processo %s já possui parecer emitido por %s", rec.Protocol, rec.LegalOpinionAuthor)
			}
			return nil
		},
		mutate: func(after *process.Record) {
			after.LegalOpinion = opinion
			after.LegalOpinionAuthor = actor
		},
	})
}

// QueueForSignature puts the opinion-backed process in the SEFIN signing queue.
func (s *Service) QueueForSignature(ctx context.Context, recordID, actor string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionQueueForSignature, actor, "", hooks{
		effects: func(ctx context.Context, tx Tx, after *process.Record) error {
			return tx.InsertTasks(ctx, []SigningTask{newTask(after.ID, DocAutorizacao, process.DestSEFIN, after.UpdatedAt)})
		},
	})
}

// ReturnForAdjustment sends the process back to SOSFU; where it lands depends
// on who returns it.
func (s *Service) ReturnForAdjustment(ctx context.Context, recordID, reason, actor string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionReturnForAdjustment, actor, reason, hooks{
		validate: func(context.Context, *process.Record) error { return requireReason(reason, "devolução") },
	})
}

// Resubmit sends a corrected process back to whoever returned it. A return
// from AJSEFIN re-opens the legal opinion.
func (s *Service) Resubmit(ctx context.Context, recordID, actor, note string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionResubmit, actor, note, hooks{
		mutate: func(after *process.Record) {
			if after.Destination == process.DestAJSEFIN {
				after.LegalOpinion = ""
				after.LegalOpinionAuthor = ""
			}
		},
	})
}

// SignDocument signs every pending document of the process and moves it on.
func (s *Service) SignDocument(ctx context.Context, recordID, actor string) (*process.Record, error) {
	const component = "Workflow-Sign"
	return s.transition(ctx, recordID, ActionSign, actor, "", hooks{
		effects: func(ctx context.Context, tx Tx, after *process.Record) error {
			n, err := tx.SignPendingTasks(ctx, after.ID, actor, after.UpdatedAt)
			if err != nil {
				return err
			}
			s.appLogger.Debug(component, "Tasks signed: protocol=%s count=%d", after.Protocol, n)
			return nil
		},
	})
}

func (s *Service) AuthorizeByPresidency(ctx context.Context, recordID, actor, note string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionAuthorizeByPresidency, actor, note, hooks{})
}

func (s *Service) RejectByPresidency(ctx context.Context, recordID, reason, actor string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionRejectByPresidency, actor, reason, hooks{
		validate: func(context.Context, *process.Record) error { return requireReason(reason, "não autorização") },
	})
}

// TramitarToOrdenador sends an executed process to the ordenador. Portaria,
// Certidão and NE must have been completed in the execution wizard.
func (s *Service) TramitarToOrdenador(ctx context.Context, recordID, actor string) (*process.Record, error) {
	var st *execution.State
	return s.transition(ctx, recordID, ActionTramitarToOrdenador, actor, "", hooks{
		validate: func(ctx context.Context, rec *process.Record) error {
			var err error
			st, err = s.repo.GetWizardState(ctx, rec.ID)
			if errors.Is(err, apperr.ErrNotFound) {
				st, err = execution.NewState(rec.ID), nil
			}
			if err != nil {
				return apperr.FromStore("consulta da execução", err)
			}
			if missing := st.MissingPrerequisites(); len(missing) > 0 {
				names := make([]string, len(missing))
				for i, m := range missing {
					names[i] = string(m)
				}
				return apperr.New(apperr.KindPrerequisitesNotMet, "Execução incompleta",
					"conclua as etapas obrigatórias antes de enviar %s ao ordenador", rec.Protocol).WithMissing(names...)
			}
			st = st.Clone()
			return nil
		},
		effects: func(ctx context.Context, tx Tx, after *process.Record) error {
			if err := tx.InsertTasks(ctx, tasksForExecution(after.ID, st, after.UpdatedAt)); err != nil {
				return err
			}
			st.MarkTramitado(after.UpdatedAt)
			return tx.SaveWizardState(ctx, st)
		},
	})
}

func (s *Service) Conclude(ctx context.Context, recordID, actor, note string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionConclude, actor, note, hooks{})
}

func (s *Service) Reject(ctx context.Context, recordID, reason, actor string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionReject, actor, reason, hooks{
		validate: func(context.Context, *process.Record) error { return requireReason(reason, "rejeição") },
	})
}

func (s *Service) Cancel(ctx context.Context, recordID, reason, actor string) (*process.Record, error) {
	return s.transition(ctx, recordID, ActionCancel, actor, reason, hooks{
		validate: func(context.Context, *process.Record) error { return requireReason(reason, "cancelamento") },
	})
}

// UpdateExecutionField writes one whitelisted execution field.
func (s *Service) UpdateExecutionField(ctx context.Context, recordID, field, value, actor string) (*process.Record, error) {
	const component = "Workflow-Field"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := requireActor(actor); err != nil {
		return nil, s.fail(ctx, nil, err)
	}
	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, s.fail(ctx, nil, apperr.FromStore("consulta do processo", err))
	}
	after, err := process.UpdateExecutionField(rec, field, value)
	if err != nil {
		return nil, s.fail(ctx, rec, err)
	}
	after.UpdatedAt = s.now()
	err = s.repo.Transact(ctx, func(tx Tx) error {
		return tx.UpdateRecord(ctx, after)
	})
	if err != nil {
		return nil, s.fail(ctx, rec, apperr.FromStore("atualização do processo", err))
	}
	after.Version++
	s.appLogger.Info(component, "Execution field updated: protocol=%s field=%s actor=%s", rec.Protocol, field, actor)
	return after, nil
}
