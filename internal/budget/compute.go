package budget

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/farxc/tramitacao/internal/apperr"
)

var hundred = decimal.NewFromInt(100)

// CalculateBudgetValues derives the per-PTRES and global aggregates of a
// plan. Superseded items are left out. All values are rounded to cents.
func CalculateBudgetValues(cfg PlanConfig) ComputedValues {
	out := ComputedValues{
		Ptres:            make([]PtresSummary, 0, len(cfg.Allocations)),
		TotalDistributed: decimal.Zero,
		TotalCommitted:   decimal.Zero,
	}

	for _, alloc := range cfg.Allocations {
		sum := PtresSummary{PtresCode: alloc.PtresCode, Total: decimal.Zero, Committed: decimal.Zero}
		for _, it := range alloc.ActiveItems() {
			sum.Total = sum.Total.Add(it.AllocatedValue)
			sum.Committed = sum.Committed.Add(it.CommittedValue)
			sum.ItemCount++
		}
		sum.PercentageOfGlobal = percentOf(sum.Total, cfg.TotalBudget)
		sum.Total = sum.Total.Round(2)
		sum.Committed = sum.Committed.Round(2)

		out.TotalDistributed = out.TotalDistributed.Add(sum.Total)
		out.TotalCommitted = out.TotalCommitted.Add(sum.Committed)
		out.Ptres = append(out.Ptres, sum)
	}

	out.Remaining = cfg.TotalBudget.Sub(out.TotalDistributed).Round(2)
	out.PercentageUsed = percentOf(out.TotalDistributed, cfg.TotalBudget)
	out.IsOverBudget = out.TotalDistributed.GreaterThan(cfg.TotalBudget)
	return out
}

// percentOf is part/whole*100 rounded to 2 places; zero when whole is zero.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

// Validate checks the plan before it is persisted. The over-budget check is
// the soft invariant: CalculateBudgetValues still reports such a plan, but it
// cannot be saved.
func (c PlanConfig) Validate() error {
	var issues []string

	if c.Year < 2000 {
		issues = append(issues, "ano do plano inválido")
	}
	if c.TotalBudget.IsNegative() {
		issues = append(issues, "orçamento global negativo")
	}

	seenPtres := map[PtresCode]bool{}
	for _, alloc := range c.Allocations {
		if !alloc.PtresCode.Valid() {
			issues = append(issues, fmt.Sprintf("PTRES %s desconhecido", alloc.PtresCode))
		}
		if seenPtres[alloc.PtresCode] {
			issues = append(issues, fmt.Sprintf("PTRES %s repetido", alloc.PtresCode))
		}
		seenPtres[alloc.PtresCode] = true

		activeElements := map[string]bool{}
		activeDotacoes := map[string]bool{}
		for _, it := range alloc.Items {
			label := fmt.Sprintf("PTRES %s / dotação %s", alloc.PtresCode, it.DotacaoCode)
			if it.ElementCode == "" {
				issues = append(issues, label+": elemento de despesa obrigatório")
			}
			if it.DotacaoCode == "" {
				issues = append(issues, fmt.Sprintf("PTRES %s / elemento %s: dotação obrigatória", alloc.PtresCode, it.ElementCode))
			}
			if it.AllocatedValue.IsNegative() || it.CommittedValue.IsNegative() {
				issues = append(issues, label+": valores não podem ser negativos")
			}
			if it.CommittedValue.GreaterThan(it.AllocatedValue) {
				issues = append(issues, label+": valor empenhado excede o alocado")
			}
			if it.IsActive {
				if activeElements[it.ElementCode] {
					issues = append(issues, fmt.Sprintf("PTRES %s: mais de uma dotação ativa para o elemento %s", alloc.PtresCode, it.ElementCode))
				}
				activeElements[it.ElementCode] = true
				if activeDotacoes[it.DotacaoCode] {
					issues = append(issues, fmt.Sprintf("PTRES %s: dotação %s ativa mais de uma vez", alloc.PtresCode, it.DotacaoCode))
				}
				activeDotacoes[it.DotacaoCode] = true
			}
		}
	}

	computed := CalculateBudgetValues(c)
	if computed.IsOverBudget {
		issues = append(issues, fmt.Sprintf("total distribuído %s excede o orçamento global %s",
			FormatBRL(computed.TotalDistributed), FormatBRL(c.TotalBudget)))
	}

	if len(issues) > 0 {
		return apperr.Validation("o plano orçamentário de %d não pode ser salvo", c.Year).WithMissing(issues...)
	}
	return nil
}

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders an amount for operator-facing messages.
func FormatBRL(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return brPrinter.Sprintf("R$ %.2f", f)
}
