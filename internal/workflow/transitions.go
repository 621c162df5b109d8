package workflow

import (
	"slices"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/process"
)

// State is where a process sits: the department holding it and its status.
type State struct {
	Destination process.Destination `json:"destino"`
	Status      process.Status      `json:"status"`
}

func (s State) String() string {
	return string(s.Destination) + "/" + string(s.Status)
}

func StateOf(r *process.Record) State {
	return State{Destination: r.Destination, Status: r.Status}
}

type Action string

const (
	ActionForwardToLegalReview  Action = "FORWARD_TO_LEGAL_REVIEW"
	ActionStartReview           Action = "START_REVIEW"
	ActionSubmitOpinion         Action = "SUBMIT_OPINION"
	ActionQueueForSignature     Action = "QUEUE_FOR_SIGNATURE"
	ActionReturnForAdjustment   Action = "RETURN_FOR_ADJUSTMENT"
	ActionResubmit              Action = "RESUBMIT"
	ActionSign                  Action = "SIGN"
	ActionTramitarToOrdenador   Action = "TRAMITAR_TO_ORDENADOR"
	ActionAuthorizeByPresidency Action = "AUTHORIZE_BY_PRESIDENCY"
	ActionRejectByPresidency    Action = "REJECT_BY_PRESIDENCY"
	ActionConclude              Action = "CONCLUDE"
	ActionReject                Action = "REJECT"
	ActionCancel                Action = "CANCEL"
)

// Rule is one row of the transition table. When, if set, must hold for the
// rule to apply; rules for the same action and source are tried in order.
type Rule struct {
	Action Action
	From   State
	To     State
	When   func(r *process.Record) bool
	Note   string
}

func st(d process.Destination, s process.Status) State {
	return State{Destination: d, Status: s}
}

var (
	sodpaEnviado    = st(process.DestSODPA, process.StatusEnviado)
	sodpaEmAnalise  = st(process.DestSODPA, process.StatusEmAnaliseSODPA)
	sodpaDevolvido  = st(process.DestSODPA, process.StatusDevolvido)
	sodpaRejeitado  = st(process.DestSODPA, process.StatusRejeitado)
	sodpaCancelado  = st(process.DestSODPA, process.StatusCancelado)
	ajsefinAnalise  = st(process.DestAJSEFIN, process.StatusEmAnaliseAJSEFIN)
	sefinParecer    = st(process.DestSEFIN, process.StatusParecerEmitido)
	sefinAguardaSF  = st(process.DestSEFIN, process.StatusAguardandoAssinaturaSEFIN)
	sefinAguarda    = st(process.DestSEFIN, process.StatusAguardandoAssinatura)
	sefinAprovado   = st(process.DestSEFIN, process.StatusAprovado)
	presidencia     = st(process.DestPresidencia, process.StatusEmAnalisePresidencia)
	sosfuAprovado   = st(process.DestSOSFU, process.StatusAprovado)
	sosfuDevAJSEFIN = st(process.DestSOSFU, process.StatusDevolvidoAJSEFIN)
	sosfuDevSEFIN   = st(process.DestSOSFU, process.StatusDevolvidoSEFIN)
	sosfuDevOrd     = st(process.DestSOSFU, process.StatusDevolvidoOrdenador)
	sosfuConcluido  = st(process.DestSOSFU, process.StatusConcluido)
)

// Initial is the state every new process starts in.
var Initial = sodpaEnviado

func interstate(r *process.Record) bool { return r.Interstate }

// Transitions is the complete routing table. Nothing else moves a process.
var Transitions = []Rule{
	{Action: ActionStartReview, From: sodpaEnviado, To: sodpaEmAnalise, Note: "Análise iniciada pela SODPA"},

	{Action: ActionForwardToLegalReview, From: sodpaEnviado, To: ajsefinAnalise, Note: "Encaminhado para análise jurídica"},
	{Action: ActionForwardToLegalReview, From: sodpaEmAnalise, To: ajsefinAnalise, Note: "Encaminhado para análise jurídica"},
	{Action: ActionForwardToLegalReview, From: sodpaDevolvido, To: ajsefinAnalise, Note: "Reencaminhado para análise jurídica"},

	{Action: ActionSubmitOpinion, From: ajsefinAnalise, To: sefinParecer, Note: "Parecer jurídico emitido"},
	{Action: ActionQueueForSignature, From: sefinParecer, To: sefinAguardaSF, Note: "Aguardando assinatura da SEFIN"},

	{Action: ActionReturnForAdjustment, From: ajsefinAnalise, To: sosfuDevAJSEFIN, Note: "Devolvido pela AJSEFIN"},
	{Action: ActionReturnForAdjustment, From: sefinParecer, To: sosfuDevSEFIN, Note: "Devolvido pela SEFIN"},
	{Action: ActionReturnForAdjustment, From: sefinAguardaSF, To: sosfuDevSEFIN, Note: "Devolvido pela SEFIN"},
	{Action: ActionReturnForAdjustment, From: sefinAguarda, To: sosfuDevOrd, Note: "Devolvido pelo ordenador"},

	{Action: ActionResubmit, From: sosfuDevAJSEFIN, To: ajsefinAnalise, Note: "Reenviado para a AJSEFIN"},
	{Action: ActionResubmit, From: sosfuDevSEFIN, To: sefinAguardaSF, Note: "Reenviado para a SEFIN"},

	{Action: ActionSign, From: sefinAguardaSF, To: sosfuAprovado, Note: "Autorizado pela SEFIN"},
	{Action: ActionSign, From: sefinAguarda, To: presidencia, When: interstate, Note: "Assinado pelo ordenador; viagem interestadual segue para a Presidência"},
	{Action: ActionSign, From: sefinAguarda, To: sefinAprovado, Note: "Assinado pelo ordenador"},

	{Action: ActionTramitarToOrdenador, From: sosfuAprovado, To: sefinAguarda, Note: "Execução concluída; enviado ao ordenador"},
	{Action: ActionTramitarToOrdenador, From: sosfuDevOrd, To: sefinAguarda, Note: "Execução corrigida; reenviado ao ordenador"},

	{Action: ActionAuthorizeByPresidency, From: presidencia, To: sefinAprovado, Note: "Autorizado pela Presidência"},
	{Action: ActionRejectByPresidency, From: presidencia, To: sodpaDevolvido, Note: "Não autorizado pela Presidência"},

	{Action: ActionConclude, From: sefinAprovado, To: sosfuConcluido, Note: "Processo concluído"},

	{Action: ActionReject, From: sodpaEnviado, To: sodpaRejeitado, Note: "Solicitação indeferida"},
	{Action: ActionReject, From: sodpaEmAnalise, To: sodpaRejeitado, Note: "Solicitação indeferida"},
	{Action: ActionReject, From: sodpaDevolvido, To: sodpaRejeitado, Note: "Solicitação indeferida"},

	{Action: ActionCancel, From: sodpaEnviado, To: sodpaCancelado, Note: "Solicitação cancelada"},
	{Action: ActionCancel, From: sodpaDevolvido, To: sodpaCancelado, Note: "Solicitação cancelada"},
}

// Next finds the rule that applies action to r.
func Next(r *process.Record, action Action) (Rule, error) {
	from := StateOf(r)
	for _, rule := range Transitions {
		if rule.Action != action || rule.From != from {
			continue
		}
		if rule.When == nil || rule.When(r) {
			return rule, nil
		}
	}
	return Rule{}, apperr.InvalidTransition("a ação %s não é permitida para o processo %s em %s", action, r.Protocol, from)
}

// AllowedActions lists the actions that can be applied to r, in table order.
func AllowedActions(r *process.Record) []Action {
	var out []Action
	for _, rule := range Transitions {
		if slices.Contains(out, rule.Action) {
			continue
		}
		if _, err := Next(r, rule.Action); err == nil {
			out = append(out, rule.Action)
		}
	}
	return out
}

// States is every state reachable through the table, in first-seen order.
func States() []State {
	out := []State{Initial}
	for _, rule := range Transitions {
		for _, s := range []State{rule.From, rule.To} {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

func ValidState(s State) bool {
	return slices.Contains(States(), s)
}
