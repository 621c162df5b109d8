package execution

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/apperr"
)

// Step is one stage of the SOSFU execution wizard.
type Step string

const (
	StepPortaria Step = "PORTARIA"
	StepCertidao Step = "CERTIDAO"
	StepNE       Step = "NE"
	StepDL       Step = "DL"
	StepOB       Step = "OB"
	StepTramitar Step = "TRAMITAR"
)

// Steps in the order the wizard walks them.
var Steps = []Step{StepPortaria, StepCertidao, StepNE, StepDL, StepOB, StepTramitar}

// Required must be completed, not skipped, before the process can go to the ordenador.
var Required = []Step{StepPortaria, StepCertidao, StepNE}

func (s Step) index() int {
	return slices.Index(Steps, s)
}

func (s Step) Valid() bool {
	return s.index() >= 0
}

// IsFinancial reports whether the step registers an uploaded financial document.
func (s Step) IsFinancial() bool {
	return s == StepNE || s == StepDL || s == StepOB
}

type FinancialDocument struct {
	Numero       string          `json:"numero"`
	Valor        decimal.Decimal `json:"valor"`
	FileURL      string          `json:"file_url"`
	RegisteredBy string          `json:"registered_by"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// Commitment records which budget item an NE was committed against.
type Commitment struct {
	ItemID      string          `json:"item_id"`
	DotacaoCode string          `json:"dotacao_code"`
	Amount      decimal.Decimal `json:"amount"`
}

// State is the persisted progress of the wizard for one process.
type State struct {
	RecordID    string `json:"record_id"`
	CurrentStep Step   `json:"current_step"`
	Completed   []Step `json:"completed_steps"`
	Skipped     []Step `json:"skipped_steps"`

	PtresCode      string   `json:"ptres_code,omitempty"`
	DotacaoCodes   []string `json:"dotacao_codes,omitempty"`
	PortariaNumero string   `json:"portaria_numero,omitempty"`
	PortariaURL    string   `json:"portaria_url,omitempty"`
	CertidaoURL    string   `json:"certidao_url,omitempty"`

	NE           *FinancialDocument `json:"ne,omitempty"`
	DL           *FinancialDocument `json:"dl,omitempty"`
	OB           *FinancialDocument `json:"ob,omitempty"`
	NECommitment *Commitment        `json:"ne_commitment,omitempty"`

	TramitadoAt *time.Time `json:"tramitado_at,omitempty"`
	Version     int64      `json:"version"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func NewState(recordID string) *State {
	return &State{RecordID: recordID, CurrentStep: StepPortaria}
}

func (st *State) IsCompleted(s Step) bool {
	return slices.Contains(st.Completed, s)
}

func (st *State) IsSkipped(s Step) bool {
	return slices.Contains(st.Skipped, s)
}

// Reachable reports whether every step before s is completed or skipped.
func (st *State) Reachable(s Step) bool {
	return s.index() <= st.CurrentStep.index()
}

// pendingBefore lists the steps before s that were neither completed nor skipped.
func (st *State) pendingBefore(s Step) []string {
	var out []string
	for _, prev := range Steps[:s.index()] {
		if !st.IsCompleted(prev) && !st.IsSkipped(prev) {
			out = append(out, string(prev))
		}
	}
	return out
}

func (st *State) requireReachable(s Step) error {
	if st.Reachable(s) {
		return nil
	}
	return apperr.New(apperr.KindPrerequisitesNotMet, "Etapa anterior pendente",
		"a etapa %s só pode ser executada após as etapas anteriores", s).WithMissing(st.pendingBefore(s)...)
}

func (st *State) complete(s Step) {
	if !st.IsCompleted(s) {
		st.Completed = append(st.Completed, s)
	}
	st.Skipped = slices.DeleteFunc(st.Skipped, func(x Step) bool { return x == s })
	if s == st.CurrentStep {
		st.advance()
	}
}

func (st *State) advance() {
	i := st.CurrentStep.index()
	if i < len(Steps)-1 {
		st.CurrentStep = Steps[i+1]
	}
}

// Skip passes over the current step. TRAMITAR cannot be skipped.
func (st *State) Skip(s Step) error {
	if !s.Valid() {
		return apperr.Validation("etapa desconhecida: %s", s)
	}
	if s == StepTramitar {
		return apperr.Validation("a etapa TRAMITAR não pode ser pulada")
	}
	if s != st.CurrentStep {
		return apperr.Validation("apenas a etapa atual (%s) pode ser pulada", st.CurrentStep)
	}
	if !st.IsSkipped(s) {
		st.Skipped = append(st.Skipped, s)
	}
	st.advance()
	return nil
}

// MissingPrerequisites lists the required steps not yet completed.
func (st *State) MissingPrerequisites() []Step {
	var missing []Step
	for _, s := range Required {
		if !st.IsCompleted(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// CompletedDocuments lists the completed document steps in wizard order.
func (st *State) CompletedDocuments() []Step {
	var out []Step
	for _, s := range Steps {
		if s != StepTramitar && st.IsCompleted(s) {
			out = append(out, s)
		}
	}
	return out
}

// MarkTramitado closes the wizard once the process has gone to the ordenador.
func (st *State) MarkTramitado(at time.Time) {
	st.complete(StepTramitar)
	st.TramitadoAt = &at
	st.UpdatedAt = at
}

func (st *State) document(s Step) *FinancialDocument {
	switch s {
	case StepNE:
		return st.NE
	case StepDL:
		return st.DL
	case StepOB:
		return st.OB
	}
	return nil
}

func (st *State) setDocument(s Step, doc *FinancialDocument) {
	switch s {
	case StepNE:
		st.NE = doc
	case StepDL:
		st.DL = doc
	case StepOB:
		st.OB = doc
	}
}

func (st *State) Clone() *State {
	cp := *st
	cp.Completed = slices.Clone(st.Completed)
	cp.Skipped = slices.Clone(st.Skipped)
	cp.DotacaoCodes = slices.Clone(st.DotacaoCodes)
	return &cp
}
