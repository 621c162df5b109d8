package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/budget"
)

type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Mismatch is a divergence between a financial document and the one it settles.
// It is reported, never enforced.
type Mismatch struct {
	Document Step            `json:"document"`
	Against  Step            `json:"against"`
	Severity Severity        `json:"severity"`
	Declared decimal.Decimal `json:"declared"`
	Expected decimal.Decimal `json:"expected"`
	Message  string          `json:"message"`
}

var reconciliation = map[Step]struct {
	against  Step
	severity Severity
}{
	StepDL: {against: StepNE, severity: SeverityWarning},
	StepOB: {against: StepDL, severity: SeverityError},
}

// Reconcile checks the value declared for doc against the document it must
// match. It returns nil when there is nothing to compare or the values agree.
func Reconcile(st *State, doc Step, declared decimal.Decimal) *Mismatch {
	rule, ok := reconciliation[doc]
	if !ok {
		return nil
	}
	prev := st.document(rule.against)
	if prev == nil || prev.Valor.Equal(declared) {
		return nil
	}
	return &Mismatch{
		Document: doc,
		Against:  rule.against,
		Severity: rule.severity,
		Declared: declared,
		Expected: prev.Valor,
		Message: fmt.Sprintf("o valor da %s (%s) difere do valor da %s (%s)",
			doc, budget.FormatBRL(declared), rule.against, budget.FormatBRL(prev.Valor)),
	}
}

// ReconcileDependents re-checks the documents that are settled against doc,
// once doc holds its new value. Results follow wizard order.
func ReconcileDependents(st *State, doc Step) []Mismatch {
	var out []Mismatch
	for _, dep := range Steps {
		rule, ok := reconciliation[dep]
		if !ok || rule.against != doc {
			continue
		}
		registered := st.document(dep)
		if registered == nil {
			continue
		}
		if m := Reconcile(st, dep, registered.Valor); m != nil {
			out = append(out, *m)
		}
	}
	return out
}
