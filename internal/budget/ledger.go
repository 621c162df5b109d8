package budget

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/logger"
)

// Store persists budget plans and their items.
type Store interface {
	GetPlan(ctx context.Context, year int) (*PlanConfig, error)
	// ApplyPlan writes the header and item changes of a plan in one
	// transaction. Updates and deletes match on the item version and fail the
	// whole change with apperr.ErrConflict when it moved. Updates never touch
	// committed values; deletes only remove items with nothing committed.
	ApplyPlan(ctx context.Context, change *PlanChange) error
	GetItem(ctx context.Context, id string) (*DotacaoItem, error)
	FindActiveByDotacao(ctx context.Context, year int, ptres PtresCode, dotacaoCode string) (*DotacaoItem, error)
	FindActiveByElement(ctx context.Context, year int, ptres PtresCode, elementCode string) (*DotacaoItem, error)
	// UpdateCommitted writes committed only if the item still has expectedVersion.
	UpdateCommitted(ctx context.Context, itemID string, expectedVersion int64, committed decimal.Decimal) error
	// RenewItem deactivates oldID and inserts next as its active successor.
	RenewItem(ctx context.Context, oldID string, next *DotacaoItem) error
}

const casRetries = 3

type Ledger struct {
	store     Store
	appLogger *logger.Logger
	locks     sync.Map
	now       func() time.Time
}

func NewLedger(store Store, appLogger *logger.Logger) *Ledger {
	return &Ledger{store: store, appLogger: appLogger, now: time.Now}
}

// lock serializes commitments against one budget line inside this process.
// The version check in the store covers other processes.
func (l *Ledger) lock(key string) func() {
	m, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// lockAll takes several line locks in key order.
func (l *Ledger) lockAll(keys []string) func() {
	sort.Strings(keys)
	var unlocks []func()
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		unlocks = append(unlocks, l.lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func lineKey(year int, ptres PtresCode, dotacaoCode string) string {
	return fmt.Sprintf("%d/%s/%s", year, ptres, dotacaoCode)
}

func planKey(year int) string {
	return fmt.Sprintf("%d/plan", year)
}

// planLines lists the line keys touched by cfg.
func planLines(cfg *PlanConfig) []string {
	var keys []string
	for _, a := range cfg.Allocations {
		for _, it := range a.Items {
			keys = append(keys, lineKey(cfg.Year, a.PtresCode, it.DotacaoCode))
		}
	}
	return keys
}

// storedPlan is the saved plan of year, or an empty one.
func (l *Ledger) storedPlan(ctx context.Context, year int) (*PlanConfig, error) {
	cfg, err := l.store.GetPlan(ctx, year)
	if errors.Is(err, apperr.ErrNotFound) {
		return &PlanConfig{Year: year}, nil
	}
	return cfg, err
}

func (l *Ledger) Summary(ctx context.Context, year int) (*PlanConfig, ComputedValues, error) {
	cfg, err := l.store.GetPlan(ctx, year)
	if err != nil {
		return nil, ComputedValues{}, apperr.FromStore(fmt.Sprintf("consulta do plano %d", year), err)
	}
	return cfg, CalculateBudgetValues(*cfg), nil
}

// SavePlan merges cfg into the stored plan of its year and returns what was
// saved. Items are matched by id, or by (PTRES, dotação) when cfg carries no
// id. Committed values and versions always come from the store. Stored items
// left out of cfg are deleted when nothing is committed on them; superseded
// items are kept.
func (l *Ledger) SavePlan(ctx context.Context, cfg *PlanConfig) (*PlanConfig, ComputedValues, error) {
	const component = "Ledger"
	op := fmt.Sprintf("gravação do plano %d", cfg.Year)

	unlockPlan := l.lock(planKey(cfg.Year))
	defer unlockPlan()

	stored, err := l.storedPlan(ctx, cfg.Year)
	if err != nil {
		return nil, CalculateBudgetValues(*cfg), apperr.FromStore(op, err)
	}
	unlock := l.lockAll(append(planLines(cfg), planLines(stored)...))
	defer unlock()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if stored, err = l.storedPlan(ctx, cfg.Year); err != nil {
				return nil, CalculateBudgetValues(*cfg), apperr.FromStore(op, err)
			}
		}

		merged, change, err := mergePlan(stored, cfg, l.now())
		if err != nil {
			return nil, CalculateBudgetValues(*cfg), err
		}
		computed := CalculateBudgetValues(*merged)
		if err := merged.Validate(); err != nil {
			l.appLogger.Warn(component, "Plan rejected: year=%d distributed=%s total=%s", cfg.Year, computed.TotalDistributed, cfg.TotalBudget)
			return nil, computed, err
		}

		err = l.store.ApplyPlan(ctx, change)
		if errors.Is(err, apperr.ErrConflict) && attempt < casRetries {
			l.appLogger.Debug(component, "Plan save retry after concurrent update: year=%d attempt=%d", cfg.Year, attempt+1)
			continue
		}
		if err != nil {
			return nil, computed, apperr.FromStore(op, err)
		}
		l.appLogger.Info(component, "Plan saved: year=%d inserted=%d updated=%d deleted=%d distributed=%s remaining=%s",
			cfg.Year, len(change.Insert), len(change.Update), len(change.Delete), computed.TotalDistributed, computed.Remaining)
		return merged, computed, nil
	}
}

// mergePlan lays cfg over stored. Only the element, dotação, allocated value
// and active flag of an existing item can change.
func mergePlan(stored, cfg *PlanConfig, now time.Time) (*PlanConfig, *PlanChange, error) {
	byID := map[string]DotacaoItem{}
	byLine := map[string]string{}
	for _, a := range stored.Allocations {
		for _, it := range a.Items {
			byID[it.ID] = it
			if it.IsActive {
				byLine[lineKey(cfg.Year, a.PtresCode, it.DotacaoCode)] = it.ID
			}
		}
	}

	merged := &PlanConfig{Year: cfg.Year, TotalBudget: cfg.TotalBudget, UpdatedAt: now}
	change := &PlanChange{Year: cfg.Year, TotalBudget: cfg.TotalBudget, UpdatedAt: now}
	matched := map[string]bool{}
	var issues []string

	for _, a := range cfg.Allocations {
		out := PtresAllocation{PtresCode: a.PtresCode}
		for _, it := range a.Items {
			label := fmt.Sprintf("PTRES %s / dotação %s", a.PtresCode, it.DotacaoCode)
			id := it.ID
			if id == "" {
				id = byLine[lineKey(cfg.Year, a.PtresCode, it.DotacaoCode)]
			}
			prev, exists := byID[id]
			switch {
			case exists && matched[id]:
				issues = append(issues, label+": item informado mais de uma vez")
			case exists && prev.PtresCode != a.PtresCode:
				issues = append(issues, fmt.Sprintf("%s: o item pertence ao PTRES %s", label, prev.PtresCode))
			case exists:
				matched[id] = true
				next := prev
				next.ElementCode = it.ElementCode
				next.DotacaoCode = it.DotacaoCode
				next.AllocatedValue = it.AllocatedValue
				next.IsActive = it.IsActive
				if itemChanged(prev, next) {
					next.UpdatedAt = now
					change.Update = append(change.Update, next)
					next.Version++
				}
				out.Items = append(out.Items, next)
			default:
				next := it
				if next.ID == "" {
					next.ID = uuid.NewString()
				}
				next.PlanYear = cfg.Year
				next.PtresCode = a.PtresCode
				next.ParentID = nil
				next.Version = 0
				next.CreatedAt = now
				next.UpdatedAt = now
				change.Insert = append(change.Insert, next)
				out.Items = append(out.Items, next)
			}
		}
		merged.Allocations = append(merged.Allocations, out)
	}

	for _, a := range stored.Allocations {
		for _, it := range a.Items {
			if matched[it.ID] {
				continue
			}
			switch {
			case !it.IsActive:
				alloc := merged.Allocation(a.PtresCode)
				if alloc == nil {
					merged.Allocations = append(merged.Allocations, PtresAllocation{PtresCode: a.PtresCode})
					alloc = &merged.Allocations[len(merged.Allocations)-1]
				}
				alloc.Items = append(alloc.Items, it)
			case it.CommittedValue.IsPositive():
				issues = append(issues, fmt.Sprintf("PTRES %s / dotação %s: possui %s empenhado e não pode ser removida",
					a.PtresCode, it.DotacaoCode, FormatBRL(it.CommittedValue)))
			default:
				change.Delete = append(change.Delete, it)
			}
		}
	}

	if len(issues) > 0 {
		return nil, nil, apperr.Validation("o plano orçamentário de %d não pode ser salvo", cfg.Year).WithMissing(issues...)
	}
	// deactivations go first so a line can move to a new item
	sort.SliceStable(change.Update, func(i, j int) bool {
		return !change.Update[i].IsActive && change.Update[j].IsActive
	})
	return merged, change, nil
}

func itemChanged(a, b DotacaoItem) bool {
	return a.ElementCode != b.ElementCode ||
		a.DotacaoCode != b.DotacaoCode ||
		!a.AllocatedValue.Equal(b.AllocatedValue) ||
		a.IsActive != b.IsActive
}

// LookupAvailableBalance returns the balance of the active item for an
// expense element, never negative.
func (l *Ledger) LookupAvailableBalance(ctx context.Context, year int, ptres PtresCode, elementCode string) (decimal.Decimal, error) {
	item, err := l.store.FindActiveByElement(ctx, year, ptres, elementCode)
	if err != nil {
		return decimal.Zero, apperr.FromStore(fmt.Sprintf("saldo do PTRES %s / elemento %s", ptres, elementCode), err)
	}
	return item.Available(), nil
}

// CommitValue reserves amount on the active item of (ptres, dotação).
func (l *Ledger) CommitValue(ctx context.Context, year int, ptres PtresCode, dotacaoCode string, amount decimal.Decimal) (*CommitResult, error) {
	const component = "Ledger"
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.KindInvalidValue, "Valor inválido", "o valor a empenhar deve ser maior que zero")
	}

	unlock := l.lock(lineKey(year, ptres, dotacaoCode))
	defer unlock()

	op := fmt.Sprintf("empenho na dotação %s (PTRES %s)", dotacaoCode, ptres)
	for attempt := 0; ; attempt++ {
		item, err := l.store.FindActiveByDotacao(ctx, year, ptres, dotacaoCode)
		if err != nil {
			return nil, apperr.FromStore(op, err)
		}

		available := item.Available()
		if amount.GreaterThan(available) {
			l.appLogger.Warn(component, "Commitment rejected: ptres=%s dotacao=%s amount=%s available=%s", ptres, dotacaoCode, amount, available)
			return nil, apperr.New(apperr.KindInsufficientBalance, "Saldo insuficiente",
				"a dotação %s dispõe de %s, insuficiente para %s", dotacaoCode, FormatBRL(available), FormatBRL(amount)).
				WithMissing(FormatBRL(amount.Sub(available)))
		}

		committed := item.CommittedValue.Add(amount)
		err = l.store.UpdateCommitted(ctx, item.ID, item.Version, committed)
		if errors.Is(err, apperr.ErrConflict) && attempt < casRetries {
			l.appLogger.Debug(component, "Commitment retry after concurrent update: item=%s attempt=%d", item.ID, attempt+1)
			continue
		}
		if err != nil {
			return nil, apperr.FromStore(op, err)
		}

		item.CommittedValue = committed
		item.Version++
		l.appLogger.Info(component, "Value committed: ptres=%s dotacao=%s amount=%s available=%s", ptres, dotacaoCode, amount, item.Available())
		return &CommitResult{Item: *item, Amount: amount, Available: item.Available()}, nil
	}
}

// ReleaseValue undoes a commitment on the item it was made against, even if
// that item has since been superseded.
func (l *Ledger) ReleaseValue(ctx context.Context, itemID string, amount decimal.Decimal) error {
	const component = "Ledger"
	op := "estorno de empenho"
	for attempt := 0; ; attempt++ {
		item, err := l.store.GetItem(ctx, itemID)
		if err != nil {
			return apperr.FromStore(op, err)
		}
		unlock := l.lock(lineKey(item.PlanYear, item.PtresCode, item.DotacaoCode))
		committed := item.CommittedValue.Sub(amount)
		if committed.IsNegative() {
			committed = decimal.Zero
		}
		err = l.store.UpdateCommitted(ctx, item.ID, item.Version, committed)
		unlock()
		if errors.Is(err, apperr.ErrConflict) && attempt < casRetries {
			continue
		}
		if err != nil {
			return apperr.FromStore(op, err)
		}
		l.appLogger.Info(component, "Commitment released: item=%s amount=%s", itemID, amount)
		return nil
	}
}

// RenewItem supersedes the active item of (ptres, dotação) with a new budget
// line for the same expense element. Commitments stay with the old item. The
// renewed plan must still fit the global budget.
func (l *Ledger) RenewItem(ctx context.Context, year int, ptres PtresCode, dotacaoCode, newDotacaoCode string, allocated decimal.Decimal) (*DotacaoItem, error) {
	const component = "Ledger"
	if newDotacaoCode == "" {
		return nil, apperr.Validation("informe o número da nova dotação")
	}
	if allocated.IsNegative() {
		return nil, apperr.New(apperr.KindInvalidValue, "Valor inválido", "o valor alocado não pode ser negativo")
	}
	op := fmt.Sprintf("renovação da dotação %s", dotacaoCode)

	unlockPlan := l.lock(planKey(year))
	defer unlockPlan()
	unlock := l.lockAll([]string{lineKey(year, ptres, dotacaoCode), lineKey(year, ptres, newDotacaoCode)})
	defer unlock()

	plan, err := l.store.GetPlan(ctx, year)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	alloc := plan.Allocation(ptres)
	if alloc == nil {
		return nil, apperr.FromStore(op, apperr.ErrNotFound)
	}
	var old *DotacaoItem
	for i, it := range alloc.Items {
		if !it.IsActive {
			continue
		}
		if it.DotacaoCode == newDotacaoCode {
			return nil, apperr.Validation("a dotação %s já está ativa no PTRES %s", newDotacaoCode, ptres)
		}
		if it.DotacaoCode == dotacaoCode {
			old = &alloc.Items[i]
		}
	}
	if old == nil {
		return nil, apperr.FromStore(op, apperr.ErrNotFound)
	}

	now := l.now()
	parent := old.ID
	next := &DotacaoItem{
		ID:             uuid.NewString(),
		PlanYear:       year,
		PtresCode:      ptres,
		ElementCode:    old.ElementCode,
		DotacaoCode:    newDotacaoCode,
		AllocatedValue: allocated,
		CommittedValue: decimal.Zero,
		IsActive:       true,
		ParentID:       &parent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// the plan as it will be once renewed
	old.IsActive = false
	alloc.Items = append(alloc.Items, *next)
	if err := plan.Validate(); err != nil {
		computed := CalculateBudgetValues(*plan)
		l.appLogger.Warn(component, "Renewal rejected: ptres=%s dotacao=%s allocated=%s distributed=%s total=%s",
			ptres, newDotacaoCode, allocated, computed.TotalDistributed, plan.TotalBudget)
		return nil, err
	}

	if err := l.store.RenewItem(ctx, parent, next); err != nil {
		return nil, apperr.FromStore(op, err)
	}
	l.appLogger.Info(component, "Budget line renewed: ptres=%s element=%s old=%s new=%s", ptres, next.ElementCode, dotacaoCode, newDotacaoCode)
	return next, nil
}
