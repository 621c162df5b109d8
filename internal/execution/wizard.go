package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/documents"
	"github.com/farxc/tramitacao/internal/logger"
	"github.com/farxc/tramitacao/internal/notify"
	"github.com/farxc/tramitacao/internal/process"
)

// Repository is the persistence the wizard needs.
type Repository interface {
	GetRecord(ctx context.Context, id string) (*process.Record, error)
	// GetWizardState returns apperr.ErrNotFound when the wizard was never started.
	GetWizardState(ctx context.Context, recordID string) (*State, error)
	NextPortariaSeq(ctx context.Context, year int) (int64, error)
	TransactExecution(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	// UpdateRecord writes r if the stored version still equals r.Version.
	UpdateRecord(ctx context.Context, r *process.Record) error
	// SaveWizardState inserts st when Version is 0, otherwise updates it under
	// the same version check as records.
	SaveWizardState(ctx context.Context, st *State) error
}

// Ledger is the part of the budget ledger the NE step commits against.
type Ledger interface {
	CommitValue(ctx context.Context, year int, ptres budget.PtresCode, dotacaoCode string, amount decimal.Decimal) (*budget.CommitResult, error)
	ReleaseValue(ctx context.Context, itemID string, amount decimal.Decimal) error
}

type Wizard struct {
	repo      Repository
	docs      documents.Store
	ledger    Ledger
	notifier  notify.Sink
	appLogger *logger.Logger
	timeout   time.Duration
	now       func() time.Time
}

type Config struct {
	Repo     Repository
	Docs     documents.Store
	Ledger   Ledger
	Notifier notify.Sink
	Logger   *logger.Logger
	Timeout  time.Duration
}

func NewWizard(cfg Config) *Wizard {
	w := &Wizard{
		repo:      cfg.Repo,
		docs:      cfg.Docs,
		ledger:    cfg.Ledger,
		notifier:  cfg.Notifier,
		appLogger: cfg.Logger,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
	if w.notifier == nil {
		w.notifier = notify.Nop{}
	}
	if w.timeout <= 0 {
		w.timeout = 10 * time.Second
	}
	return w
}

// Result is what a wizard step leaves behind.
type Result struct {
	Record     *process.Record      `json:"record"`
	State      *State               `json:"state"`
	Mismatch   *Mismatch            `json:"mismatch,omitempty"`
	// Dependents are documents already registered against the one just
	// changed whose values no longer agree with it.
	Dependents []Mismatch           `json:"dependents,omitempty"`
	Commitment *budget.CommitResult `json:"commitment,omitempty"`
}

// State returns the wizard progress for a record, starting a fresh one when
// none was saved yet.
func (w *Wizard) State(ctx context.Context, recordID string) (*State, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if _, err := w.repo.GetRecord(ctx, recordID); err != nil {
		return nil, apperr.FromStore("consulta do processo", err)
	}
	return w.loadState(ctx, recordID)
}

func (w *Wizard) loadState(ctx context.Context, recordID string) (*State, error) {
	st, err := w.repo.GetWizardState(ctx, recordID)
	if errors.Is(err, apperr.ErrNotFound) {
		return NewState(recordID), nil
	}
	if err != nil {
		return nil, apperr.FromStore("consulta da execução", err)
	}
	return st, nil
}

// CheckExecutable fails unless the record is with SOSFU after approval or
// after a return from the ordenador.
func CheckExecutable(r *process.Record) error {
	if r.Destination == process.DestSOSFU &&
		(r.Status == process.StatusAprovado || r.Status == process.StatusDevolvidoOrdenador) {
		return nil
	}
	return apperr.InvalidTransition("a execução do processo %s exige SOSFU com status APROVADO ou DEVOLVIDO_ORDENADOR (atual: %s/%s)",
		r.Protocol, r.Destination, r.Status)
}

func (w *Wizard) begin(ctx context.Context, recordID, actor string) (*process.Record, *State, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, nil, apperr.New(apperr.KindMissingRequired, "Campo obrigatório", "informe o responsável pela operação").WithMissing("actor")
	}
	rec, err := w.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, nil, apperr.FromStore("consulta do processo", err)
	}
	if err := CheckExecutable(rec); err != nil {
		return nil, nil, err
	}
	st, err := w.loadState(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	return rec, st.Clone(), nil
}

func (w *Wizard) save(ctx context.Context, op string, before, after *process.Record, st *State) error {
	err := w.repo.TransactExecution(ctx, func(tx Tx) error {
		if after != nil {
			after.Version = before.Version
			if err := tx.UpdateRecord(ctx, after); err != nil {
				return err
			}
		}
		return tx.SaveWizardState(ctx, st)
	})
	if err != nil {
		return apperr.FromStore(op, err)
	}
	if after != nil {
		after.Version = before.Version + 1
	}
	st.Version++
	return nil
}

func (w *Wizard) fail(ctx context.Context, rec *process.Record, err error) error {
	o := notify.FromError(err)
	if rec != nil {
		o.RecordID, o.Protocol = rec.ID, rec.Protocol
	}
	w.notifier.Notify(ctx, o)
	return err
}

func (w *Wizard) succeed(ctx context.Context, rec *process.Record, title, message string) {
	o := notify.Success(title, message)
	o.RecordID, o.Protocol = rec.ID, rec.Protocol
	w.notifier.Notify(ctx, o)
}

// setFields applies whitelisted execution fields in order.
func setFields(r *process.Record, kv ...string) (*process.Record, error) {
	out := r
	for i := 0; i+1 < len(kv); i += 2 {
		next, err := process.UpdateExecutionField(out, kv[i], kv[i+1])
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// GeneratePortaria numbers and renders the Portaria for the chosen budget lines.
// Regenerating keeps the number already issued.
func (w *Wizard) GeneratePortaria(ctx context.Context, recordID string, ptres budget.PtresCode, dotacaoCodes []string, actor string) (*Result, error) {
	const component = "Execution-Portaria"
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rec, st, err := w.begin(ctx, recordID, actor)
	if err != nil {
		return nil, w.fail(ctx, rec, err)
	}

	codes := process.SplitDotacoes(process.JoinDotacoes(dotacaoCodes))
	if len(codes) == 0 {
		return nil, w.fail(ctx, rec, apperr.New(apperr.KindMissingRequired, "Campo obrigatório",
			"selecione ao menos uma dotação para a Portaria").WithMissing("dotacao_codes"))
	}
	if !ptres.Valid() {
		return nil, w.fail(ctx, rec, apperr.Validation("PTRES %q não existe", ptres))
	}

	now := w.now()
	numero := st.PortariaNumero
	if numero == "" {
		seq, err := w.repo.NextPortariaSeq(ctx, now.Year())
		if err != nil {
			return nil, w.fail(ctx, rec, apperr.FromStore("numeração da Portaria", err))
		}
		numero = FormatPortariaNumber(seq, now.Year())
	}

	body, err := documents.RenderPortaria(documents.PortariaData{
		Numero:        numero,
		Protocol:      rec.Protocol,
		RequesterName: rec.Requester.Name,
		Registration:  rec.Requester.Registration,
		Department:    rec.Requester.Department,
		City:          rec.Trip.City,
		State:         rec.Trip.State,
		DepartureDate: rec.Trip.DepartureDate,
		ReturnDate:    rec.Trip.ReturnDate,
		Purpose:       rec.Trip.Purpose,
		PtresCode:     string(ptres),
		Dotacoes:      codes,
		Value:         rec.Value,
		IssuedAt:      now,
	})
	if err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	url, err := w.docs.Put(ctx, documentKey(rec.ID, "portaria.txt"), body, "text/plain; charset=utf-8")
	if err != nil {
		return nil, w.fail(ctx, rec, apperr.FromStore("gravação da Portaria", err))
	}

	after, err := setFields(rec,
		"portaria_sf_numero", numero,
		"ptres_code", string(ptres),
		"dotacao_code", process.JoinDotacoes(codes))
	if err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	after.UpdatedAt = now

	st.PortariaNumero = numero
	st.PortariaURL = url
	st.PtresCode = string(ptres)
	st.DotacaoCodes = codes
	st.UpdatedAt = now
	st.complete(StepPortaria)

	if err := w.save(ctx, "geração da Portaria", rec, after, st); err != nil {
		return nil, w.fail(ctx, rec, err)
	}

	w.appLogger.Info(component, "Portaria generated: protocol=%s numero=%s ptres=%s dotacoes=%s", rec.Protocol, numero, ptres, after.DotacaoCode)
	w.succeed(ctx, after, "Portaria gerada", fmt.Sprintf("Portaria nº %s gerada para %s", numero, rec.Protocol))
	return &Result{Record: after, State: st}, nil
}

func FormatPortariaNumber(seq int64, year int) string {
	return fmt.Sprintf("%d/%d-SF", seq, year)
}

// GenerateCertidao renders the certidão de regularidade.
func (w *Wizard) GenerateCertidao(ctx context.Context, recordID, actor string) (*Result, error) {
	const component = "Execution-Certidao"
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rec, st, err := w.begin(ctx, recordID, actor)
	if err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	if err := st.requireReachable(StepCertidao); err != nil {
		return nil, w.fail(ctx, rec, err)
	}

	now := w.now()
	body, err := documents.RenderCertidao(documents.CertidaoData{
		Protocol:      rec.Protocol,
		RequesterName: rec.Requester.Name,
		Registration:  rec.Requester.Registration,
		IssuedAt:      now,
	})
	if err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	url, err := w.docs.Put(ctx, documentKey(rec.ID, "certidao.txt"), body, "text/plain; charset=utf-8")
	if err != nil {
		return nil, w.fail(ctx, rec, apperr.FromStore("gravação da Certidão", err))
	}

	st.CertidaoURL = url
	st.UpdatedAt = now
	st.complete(StepCertidao)
	if err := w.save(ctx, "geração da Certidão", rec, nil, st); err != nil {
		return nil, w.fail(ctx, rec, err)
	}

	w.appLogger.Info(component, "Certidao generated: protocol=%s", rec.Protocol)
	w.succeed(ctx, rec, "Certidão gerada", "Certidão de regularidade gerada para "+rec.Protocol)
	return &Result{Record: rec, State: st}, nil
}

// FinancialInput is one NE, DL or OB being registered.
type FinancialInput struct {
	Kind   Step
	Numero string
	Valor  decimal.Decimal
	// Dotacao picks the budget line an NE commits against. Empty means the
	// first line chosen for the Portaria.
	Dotacao string
	File    *documents.Upload
}

// RegisterFinancialDocument stores an NE, DL or OB. An NE commits its value on
// the budget ledger and a replaced NE gives its previous commitment back.
// Value divergences between NE, DL and OB are reported on the result.
func (w *Wizard) RegisterFinancialDocument(ctx context.Context, recordID string, in FinancialInput, actor string) (*Result, error) {
	const component = "Execution-Financial"
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rec, st, err := w.begin(ctx, recordID, actor)
	if err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	if !in.Kind.IsFinancial() {
		return nil, w.fail(ctx, rec, apperr.Validation("documento financeiro desconhecido: %s", in.Kind))
	}
	if strings.TrimSpace(in.Numero) == "" {
		return nil, w.fail(ctx, rec, apperr.New(apperr.KindMissingRequired, "Campo obrigatório",
			"informe o número da %s", in.Kind).WithMissing("numero"))
	}
	if !in.File.IsPDF() {
		return nil, w.fail(ctx, rec, apperr.New(apperr.KindMissingDocument, "Documento inválido",
			"anexe o arquivo PDF da %s", in.Kind))
	}
	if !in.Valor.IsPositive() {
		return nil, w.fail(ctx, rec, apperr.New(apperr.KindInvalidValue, "Valor inválido",
			"o valor da %s deve ser maior que zero", in.Kind))
	}
	if err := st.requireReachable(in.Kind); err != nil {
		return nil, w.fail(ctx, rec, err)
	}

	now := w.now()
	valor := in.Valor.Round(2)

	var commit *budget.CommitResult
	previous := st.NECommitment
	if in.Kind == StepNE {
		commit, err = w.commitNE(ctx, rec, st, in.Dotacao, valor)
		if err != nil {
			return nil, w.fail(ctx, rec, err)
		}
		st.NECommitment = &Commitment{ItemID: commit.Item.ID, DotacaoCode: commit.Item.DotacaoCode, Amount: valor}
	}

	key := documentKey(rec.ID, fmt.Sprintf("%s-%s.pdf", strings.ToLower(string(in.Kind)), uuid.NewString()))
	url, err := w.docs.Put(ctx, key, in.File.Data, "application/pdf")
	if err != nil {
		w.compensate(ctx, commit)
		return nil, w.fail(ctx, rec, apperr.FromStore("gravação do documento", err))
	}
	// undo reverts the ledger and the stored file when the registration fails
	undo := func() {
		w.compensate(ctx, commit)
		w.discard(ctx, key)
	}

	mismatch := Reconcile(st, in.Kind, valor)

	prefix := strings.ToLower(string(in.Kind))
	after, err := setFields(rec, prefix+"_numero", in.Numero, prefix+"_valor", valor.String())
	if err != nil {
		undo()
		return nil, w.fail(ctx, rec, err)
	}
	after.UpdatedAt = now

	st.setDocument(in.Kind, &FinancialDocument{
		Numero:       strings.TrimSpace(in.Numero),
		Valor:        valor,
		FileURL:      url,
		RegisteredBy: actor,
		RegisteredAt: now,
	})
	st.UpdatedAt = now
	st.complete(in.Kind)
	dependents := ReconcileDependents(st, in.Kind)

	if err := w.save(ctx, "registro da "+string(in.Kind), rec, after, st); err != nil {
		undo()
		return nil, w.fail(ctx, rec, err)
	}

	if commit != nil && previous != nil {
		if err := w.ledger.ReleaseValue(ctx, previous.ItemID, previous.Amount); err != nil {
			w.appLogger.Error(component, "Failed to release replaced NE commitment: protocol=%s item=%s amount=%s err=%v",
				rec.Protocol, previous.ItemID, previous.Amount, err)
		}
	}

	w.appLogger.Info(component, "Financial document registered: protocol=%s kind=%s numero=%s valor=%s", rec.Protocol, in.Kind, in.Numero, valor)
	w.succeed(ctx, after, string(in.Kind)+" registrada", fmt.Sprintf("%s %s registrada no valor de %s", in.Kind, in.Numero, budget.FormatBRL(valor)))
	if mismatch != nil {
		w.reportMismatch(ctx, after, *mismatch, now)
	}
	for _, m := range dependents {
		w.reportMismatch(ctx, after, m, now)
	}
	return &Result{Record: after, State: st, Mismatch: mismatch, Dependents: dependents, Commitment: commit}, nil
}

func (w *Wizard) reportMismatch(ctx context.Context, rec *process.Record, m Mismatch, at time.Time) {
	const component = "Execution-Financial"
	w.appLogger.Warn(component, "Value divergence: protocol=%s document=%s against=%s severity=%s declared=%s expected=%s",
		rec.Protocol, m.Document, m.Against, m.Severity, m.Declared, m.Expected)
	level := notify.LevelWarning
	if m.Severity == SeverityError {
		level = notify.LevelError
	}
	w.notifier.Notify(ctx, notify.Outcome{
		Level:    level,
		Title:    "Divergência de valores",
		Message:  m.Message,
		RecordID: rec.ID,
		Protocol: rec.Protocol,
		At:       at,
	})
}

func (w *Wizard) commitNE(ctx context.Context, rec *process.Record, st *State, dotacao string, valor decimal.Decimal) (*budget.CommitResult, error) {
	ptres := budget.PtresCode(st.PtresCode)
	if ptres == "" {
		ptres = budget.PtresCode(rec.PtresCode)
	}
	if dotacao = strings.TrimSpace(dotacao); dotacao == "" && len(st.DotacaoCodes) > 0 {
		dotacao = st.DotacaoCodes[0]
	}
	if dotacao == "" {
		dotacao = firstOf(process.SplitDotacoes(rec.DotacaoCode))
	}
	var missing []string
	if ptres == "" {
		missing = append(missing, "ptres_code")
	}
	if dotacao == "" {
		missing = append(missing, "dotacao_code")
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.KindMissingRequired, "Campo obrigatório",
			"a NE precisa de PTRES e dotação; gere a Portaria ou informe a dotação").WithMissing(missing...)
	}
	return w.ledger.CommitValue(ctx, rec.Year(), ptres, dotacao, valor)
}

// compensate gives back a commitment made earlier in a failed registration.
func (w *Wizard) compensate(ctx context.Context, commit *budget.CommitResult) {
	const component = "Execution-Financial"
	if commit == nil {
		return
	}
	// the request context may be what expired
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.ledger.ReleaseValue(ctx, commit.Item.ID, commit.Amount); err != nil {
		w.appLogger.Error(component, "Failed to release commitment after failed registration: item=%s amount=%s err=%v",
			commit.Item.ID, commit.Amount, err)
	}
}

// discard removes a document stored by a registration that did not go through.
func (w *Wizard) discard(ctx context.Context, key string) {
	const component = "Execution-Financial"
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.docs.Delete(ctx, key); err != nil {
		w.appLogger.Error(component, "Failed to remove document of failed registration: key=%s err=%v", key, err)
	}
}

// Skip passes over the current step.
func (w *Wizard) Skip(ctx context.Context, recordID string, step Step, actor string) (*State, error) {
	const component = "Execution-Skip"
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rec, st, err := w.begin(ctx, recordID, actor)
	if err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	if err := st.Skip(step); err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	st.UpdatedAt = w.now()
	if err := w.save(ctx, "avanço de etapa", rec, nil, st); err != nil {
		return nil, w.fail(ctx, rec, err)
	}
	w.appLogger.Info(component, "Step skipped: protocol=%s step=%s next=%s actor=%s", rec.Protocol, step, st.CurrentStep, actor)
	return st, nil
}

func documentKey(recordID, name string) string {
	return "processos/" + recordID + "/" + name
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
