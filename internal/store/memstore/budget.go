package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
)

func (s *Store) GetPlan(ctx context.Context, year int) (*budget.PlanConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetPlan"); err != nil {
		return nil, err
	}
	plan, ok := s.d.plans[year]
	if !ok {
		return nil, fmt.Errorf("plan %d: %w", year, apperr.ErrNotFound)
	}

	byPtres := map[budget.PtresCode][]budget.DotacaoItem{}
	for _, it := range s.d.items {
		if it.PlanYear == year {
			byPtres[it.PtresCode] = append(byPtres[it.PtresCode], it)
		}
	}
	plan.Allocations = nil
	for _, code := range budget.PtresCodes {
		items := byPtres[code]
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].CreatedAt.Equal(items[j].CreatedAt) {
				return items[i].DotacaoCode < items[j].DotacaoCode
			}
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
		plan.Allocations = append(plan.Allocations, budget.PtresAllocation{PtresCode: code, Items: items})
	}
	return &plan, nil
}

// ApplyPlan checks every versioned write before applying any of them.
func (s *Store) ApplyPlan(ctx context.Context, change *budget.PlanChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ApplyPlan"); err != nil {
		return err
	}
	for _, it := range change.Delete {
		cur, ok := s.d.items[it.ID]
		if !ok || cur.Version != it.Version || !cur.CommittedValue.IsZero() {
			return apperr.ErrConflict
		}
	}
	for _, it := range change.Update {
		cur, ok := s.d.items[it.ID]
		if !ok || cur.Version != it.Version {
			return apperr.ErrConflict
		}
	}
	for _, it := range change.Insert {
		if _, ok := s.d.items[it.ID]; ok {
			return fmt.Errorf("budget item %s already exists", it.ID)
		}
	}

	s.d.plans[change.Year] = budget.PlanConfig{Year: change.Year, TotalBudget: change.TotalBudget, UpdatedAt: change.UpdatedAt}
	for _, it := range change.Delete {
		delete(s.d.items, it.ID)
	}
	for _, it := range change.Update {
		cur := s.d.items[it.ID]
		cur.ElementCode = it.ElementCode
		cur.DotacaoCode = it.DotacaoCode
		cur.AllocatedValue = it.AllocatedValue
		cur.IsActive = it.IsActive
		cur.UpdatedAt = it.UpdatedAt
		cur.Version++
		s.d.items[it.ID] = cur
	}
	for _, it := range change.Insert {
		it.PlanYear = change.Year
		s.d.items[it.ID] = it
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*budget.DotacaoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetItem"); err != nil {
		return nil, err
	}
	it, ok := s.d.items[id]
	if !ok {
		return nil, fmt.Errorf("budget item %s: %w", id, apperr.ErrNotFound)
	}
	return &it, nil
}

// findActive returns the newest matching active item.
func (s *Store) findActive(year int, ptres budget.PtresCode, match func(budget.DotacaoItem) bool) (*budget.DotacaoItem, error) {
	var found *budget.DotacaoItem
	for _, it := range s.d.items {
		if !it.IsActive || it.PlanYear != year || it.PtresCode != ptres || !match(it) {
			continue
		}
		if found == nil || it.CreatedAt.After(found.CreatedAt) ||
			(it.CreatedAt.Equal(found.CreatedAt) && it.ID > found.ID) {
			it := it
			found = &it
		}
	}
	if found == nil {
		return nil, apperr.ErrNotFound
	}
	return found, nil
}

func (s *Store) FindActiveByDotacao(ctx context.Context, year int, ptres budget.PtresCode, dotacaoCode string) (*budget.DotacaoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "FindActiveByDotacao"); err != nil {
		return nil, err
	}
	return s.findActive(year, ptres, func(it budget.DotacaoItem) bool { return it.DotacaoCode == dotacaoCode })
}

func (s *Store) FindActiveByElement(ctx context.Context, year int, ptres budget.PtresCode, elementCode string) (*budget.DotacaoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "FindActiveByElement"); err != nil {
		return nil, err
	}
	return s.findActive(year, ptres, func(it budget.DotacaoItem) bool { return it.ElementCode == elementCode })
}

func (s *Store) UpdateCommitted(ctx context.Context, itemID string, expectedVersion int64, committed decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "UpdateCommitted"); err != nil {
		return err
	}
	it, ok := s.d.items[itemID]
	if !ok {
		return fmt.Errorf("budget item %s: %w", itemID, apperr.ErrNotFound)
	}
	if it.Version != expectedVersion {
		return apperr.ErrConflict
	}
	it.CommittedValue = committed
	it.Version++
	s.d.items[itemID] = it
	return nil
}

func (s *Store) RenewItem(ctx context.Context, oldID string, next *budget.DotacaoItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "RenewItem"); err != nil {
		return err
	}
	old, ok := s.d.items[oldID]
	if !ok {
		return fmt.Errorf("budget item %s: %w", oldID, apperr.ErrNotFound)
	}
	if !old.IsActive {
		return apperr.ErrConflict
	}
	old.IsActive = false
	old.Version++
	s.d.items[oldID] = old
	s.d.items[next.ID] = *next
	return nil
}
