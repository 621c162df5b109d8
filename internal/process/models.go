package process

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestType string

const (
	TypePassagem RequestType = "PASSAGEM"
	TypeDiaria   RequestType = "DIARIA"
	TypeMista    RequestType = "MISTA"
)

var protocolPrefixes = map[RequestType]string{
	TypePassagem: "TJPA-PAS",
	TypeDiaria:   "TJPA-DIA",
	TypeMista:    "TJPA-MIS",
}

func (t RequestType) Valid() bool {
	_, ok := protocolPrefixes[t]
	return ok
}

// ProtocolPrefix is the protocol number prefix for the request type.
func (t RequestType) ProtocolPrefix() string {
	return protocolPrefixes[t]
}

// Destination is the department currently holding the process.
type Destination string

const (
	DestSODPA       Destination = "SODPA"
	DestAJSEFIN     Destination = "AJSEFIN"
	DestSEFIN       Destination = "SEFIN"
	DestPresidencia Destination = "PRESIDENCIA"
	DestSOSFU       Destination = "SOSFU"
)

type Status string

const (
	StatusEnviado                   Status = "ENVIADO"
	StatusEmAnaliseSODPA            Status = "EM_ANALISE_SODPA"
	StatusEmAnaliseAJSEFIN          Status = "EM_ANALISE_AJSEFIN"
	StatusParecerEmitido            Status = "PARECER_EMITIDO"
	StatusAguardandoAssinaturaSEFIN Status = "AGUARDANDO_ASSINATURA_SEFIN"
	StatusAprovado                  Status = "APROVADO"
	StatusAguardandoAssinatura      Status = "AGUARDANDO_ASSINATURA"
	StatusEmAnalisePresidencia      Status = "EM_ANALISE_PRESIDENCIA"
	StatusDevolvido                 Status = "DEVOLVIDO"
	StatusDevolvidoAJSEFIN          Status = "DEVOLVIDO_AJSEFIN"
	StatusDevolvidoSEFIN            Status = "DEVOLVIDO_SEFIN"
	StatusDevolvidoOrdenador        Status = "DEVOLVIDO_ORDENADOR"
	StatusConcluido                 Status = "CONCLUIDO"
	StatusRejeitado                 Status = "REJEITADO"
	StatusCancelado                 Status = "CANCELADO"
)

func (s Status) IsTerminal() bool {
	return s == StatusConcluido || s == StatusRejeitado || s == StatusCancelado
}

type Requester struct {
	Name         string `db:"requester_name" json:"name"`
	Registration string `db:"requester_registration" json:"registration"`
	Department   string `db:"requester_department" json:"department"`
	Email        string `db:"requester_email" json:"email"`
}

type Trip struct {
	City          string    `db:"destination_city" json:"city"`
	State         string    `db:"destination_state" json:"state"`
	DepartureDate time.Time `db:"departure_date" json:"departure_date"`
	ReturnDate    time.Time `db:"return_date" json:"return_date"`
	Purpose       string    `db:"purpose" json:"purpose"`
}

// Record is one travel/expense request and its routing state.
type Record struct {
	ID          string          `db:"id" json:"id"`
	Protocol    string          `db:"protocol" json:"protocol"`
	Type        RequestType     `db:"type" json:"type"`
	Status      Status          `db:"status" json:"status"`
	Destination Destination     `db:"destino_atual" json:"destino_atual"`
	Value       decimal.Decimal `db:"value" json:"value"`
	Interstate  bool            `db:"interstate" json:"interstate"`

	Requester
	Trip

	LegalOpinion       string `db:"legal_opinion" json:"legal_opinion,omitempty"`
	LegalOpinionAuthor string `db:"legal_opinion_author" json:"legal_opinion_author,omitempty"`
	AssignedTo         string `db:"assigned_to" json:"assigned_to,omitempty"`

	PtresCode        string              `db:"ptres_code" json:"ptres_code,omitempty"`
	DotacaoCode      string              `db:"dotacao_code" json:"dotacao_code,omitempty"`
	NENumero         string              `db:"ne_numero" json:"ne_numero,omitempty"`
	NEValor          decimal.NullDecimal `db:"ne_valor" json:"ne_valor"`
	DLNumero         string              `db:"dl_numero" json:"dl_numero,omitempty"`
	DLValor          decimal.NullDecimal `db:"dl_valor" json:"dl_valor"`
	OBNumero         string              `db:"ob_numero" json:"ob_numero,omitempty"`
	OBValor          decimal.NullDecimal `db:"ob_valor" json:"ob_valor"`
	PortariaSFNumero string              `db:"portaria_sf_numero" json:"portaria_sf_numero,omitempty"`

	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Year is the fiscal year the request belongs to, taken from its creation.
func (r *Record) Year() int {
	return r.CreatedAt.Year()
}

// Clone returns a copy the caller can mutate without touching r.
func (r *Record) Clone() *Record {
	cp := *r
	return &cp
}
