package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// PtresCode identifies one of the budget programs the court's plan is split into.
type PtresCode string

const (
	Ptres8193 PtresCode = "8193"
	Ptres8727 PtresCode = "8727"
	Ptres8163 PtresCode = "8163"
)

var PtresCodes = []PtresCode{Ptres8193, Ptres8727, Ptres8163}

func (c PtresCode) Valid() bool {
	for _, p := range PtresCodes {
		if p == c {
			return true
		}
	}
	return false
}

// DotacaoItem is a budget line under a PTRES. Items form renewal chains
// through ParentID; only the active item of a chain takes part in sums and
// balance lookups, while superseded items keep the commitments made
// against them.
type DotacaoItem struct {
	ID             string          `db:"id" json:"id"`
	PlanYear       int             `db:"plan_year" json:"plan_year"`
	PtresCode      PtresCode       `db:"ptres_code" json:"ptres_code"`
	ElementCode    string          `db:"element_code" json:"element_code"`
	DotacaoCode    string          `db:"dotacao_code" json:"dotacao_code"`
	AllocatedValue decimal.Decimal `db:"allocated_value" json:"allocated_value"`
	CommittedValue decimal.Decimal `db:"committed_value" json:"committed_value"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	ParentID       *string         `db:"parent_id" json:"parent_id,omitempty"`
	Version        int64           `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Available is allocated minus committed, never below zero.
func (i DotacaoItem) Available() decimal.Decimal {
	avail := i.AllocatedValue.Sub(i.CommittedValue)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

type PtresAllocation struct {
	PtresCode PtresCode     `json:"ptres_code"`
	Items     []DotacaoItem `json:"items"`
}

// PlanConfig is the budget plan of one fiscal year.
type PlanConfig struct {
	Year        int               `db:"year" json:"year"`
	TotalBudget decimal.Decimal   `db:"total_budget" json:"total_budget"`
	Allocations []PtresAllocation `db:"-" json:"allocations"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// PlanChange is a merged plan ready to be written: the header plus the item
// rows to insert, update and delete. Update and Delete items carry the
// version read before the merge.
type PlanChange struct {
	Year        int
	TotalBudget decimal.Decimal
	UpdatedAt   time.Time
	Insert      []DotacaoItem
	Update      []DotacaoItem
	Delete      []DotacaoItem
}

// ActiveItems returns the active items of a PTRES in plan order.
func (a PtresAllocation) ActiveItems() []DotacaoItem {
	var out []DotacaoItem
	for _, it := range a.Items {
		if it.IsActive {
			out = append(out, it)
		}
	}
	return out
}

func (c *PlanConfig) Allocation(code PtresCode) *PtresAllocation {
	for i := range c.Allocations {
		if c.Allocations[i].PtresCode == code {
			return &c.Allocations[i]
		}
	}
	return nil
}

type PtresSummary struct {
	PtresCode          PtresCode       `json:"ptres_code"`
	Total              decimal.Decimal `json:"total"`
	Committed          decimal.Decimal `json:"committed"`
	PercentageOfGlobal decimal.Decimal `json:"percentage_of_global"`
	ItemCount          int             `json:"item_count"`
}

type ComputedValues struct {
	Ptres            []PtresSummary  `json:"ptres"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	TotalCommitted   decimal.Decimal `json:"total_committed"`
	Remaining        decimal.Decimal `json:"remaining"`
	PercentageUsed   decimal.Decimal `json:"percentage_used"`
	IsOverBudget     bool            `json:"is_over_budget"`
}

type CommitResult struct {
	Item      DotacaoItem     `json:"item"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
}
