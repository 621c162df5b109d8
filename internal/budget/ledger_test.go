package budget

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/logger"
)

type fakeStore struct {
	mu        sync.Mutex
	plans     map[int]PlanConfig
	items     map[string]*DotacaoItem
	conflicts int
}

func newFakeStore(items ...DotacaoItem) *fakeStore {
	s := &fakeStore{plans: map[int]PlanConfig{}, items: map[string]*DotacaoItem{}}
	for i := range items {
		it := items[i]
		s.items[it.ID] = &it
		s.plans[it.PlanYear] = PlanConfig{Year: it.PlanYear, TotalBudget: d("100000")}
	}
	return s
}

func (s *fakeStore) GetPlan(_ context.Context, year int) (*PlanConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[year]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	ids := make([]string, 0, len(s.items))
	for id, it := range s.items {
		if it.PlanYear == year {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, code := range PtresCodes {
		alloc := PtresAllocation{PtresCode: code}
		for _, id := range ids {
			if it := s.items[id]; it.PtresCode == code {
				alloc.Items = append(alloc.Items, *it)
			}
		}
		if len(alloc.Items) > 0 {
			p.Allocations = append(p.Allocations, alloc)
		}
	}
	return &p, nil
}

func (s *fakeStore) ApplyPlan(_ context.Context, change *PlanChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return apperr.ErrConflict
	}
	for _, it := range append(change.Update, change.Delete...) {
		if cur, ok := s.items[it.ID]; !ok || cur.Version != it.Version {
			return apperr.ErrConflict
		}
	}
	s.plans[change.Year] = PlanConfig{Year: change.Year, TotalBudget: change.TotalBudget, UpdatedAt: change.UpdatedAt}
	for _, it := range change.Delete {
		delete(s.items, it.ID)
	}
	for _, it := range change.Update {
		cur := s.items[it.ID]
		cur.ElementCode, cur.DotacaoCode, cur.AllocatedValue, cur.IsActive = it.ElementCode, it.DotacaoCode, it.AllocatedValue, it.IsActive
		cur.Version++
	}
	for _, it := range change.Insert {
		cp := it
		s.items[it.ID] = &cp
	}
	return nil
}

func (s *fakeStore) GetItem(_ context.Context, id string) (*DotacaoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *fakeStore) find(match func(*DotacaoItem) bool) (*DotacaoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.IsActive && match(it) {
			cp := *it
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *fakeStore) FindActiveByDotacao(_ context.Context, year int, ptres PtresCode, dotacao string) (*DotacaoItem, error) {
	return s.find(func(it *DotacaoItem) bool {
		return it.PlanYear == year && it.PtresCode == ptres && it.DotacaoCode == dotacao
	})
}

func (s *fakeStore) FindActiveByElement(_ context.Context, year int, ptres PtresCode, element string) (*DotacaoItem, error) {
	return s.find(func(it *DotacaoItem) bool {
		return it.PlanYear == year && it.PtresCode == ptres && it.ElementCode == element
	})
}

func (s *fakeStore) UpdateCommitted(_ context.Context, id string, expected int64, committed decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[id]
	if s.conflicts > 0 {
		s.conflicts--
		it.Version++
		return apperr.ErrConflict
	}
	if it.Version != expected {
		return apperr.ErrConflict
	}
	it.CommittedValue = committed
	it.Version++
	return nil
}

func (s *fakeStore) RenewItem(_ context.Context, oldID string, next *DotacaoItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[oldID].IsActive = false
	cp := *next
	s.items[next.ID] = &cp
	return nil
}

func diariasItem(allocated, committed string) DotacaoItem {
	it := item("3.3.90.14", "170", allocated, committed)
	it.ID = "item-170"
	it.PlanYear = 2026
	it.PtresCode = Ptres8193
	return it
}

func TestCommitValue(t *testing.T) {
	store := newFakeStore(diariasItem("1000", "400"))
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()

	res, err := ledger.CommitValue(ctx, 2026, Ptres8193, "170", d("250.50"))
	require.NoError(t, err)
	assert.True(t, res.Available.Equal(d("349.50")))
	assert.True(t, res.Item.CommittedValue.Equal(d("650.50")))

	_, err = ledger.CommitValue(ctx, 2026, Ptres8193, "170", d("349.51"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientBalance))

	stored, _ := store.GetItem(ctx, "item-170")
	assert.True(t, stored.CommittedValue.Equal(d("650.50")), "rejected commitment must not change the item")

	_, err = ledger.CommitValue(ctx, 2026, Ptres8193, "170", d("0"))
	assert.True(t, apperr.Is(err, apperr.KindInvalidValue))
}

func TestCommitValue_RetriesOnConflict(t *testing.T) {
	store := newFakeStore(diariasItem("1000", "0"))
	store.conflicts = 2
	ledger := NewLedger(store, logger.Discard())

	res, err := ledger.CommitValue(context.Background(), 2026, Ptres8193, "170", d("100"))
	require.NoError(t, err)
	assert.True(t, res.Available.Equal(d("900")))
}

func TestCommitValue_ConcurrentCommitsDoNotLoseUpdates(t *testing.T) {
	store := newFakeStore(diariasItem("1000", "0"))
	ledger := NewLedger(store, logger.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.CommitValue(context.Background(), 2026, Ptres8193, "170", d("10"))
		}()
	}
	wg.Wait()

	stored, _ := store.GetItem(context.Background(), "item-170")
	assert.True(t, stored.CommittedValue.Equal(d("200")), "committed=%s", stored.CommittedValue)
}

func TestLookupAvailableBalance(t *testing.T) {
	full := diariasItem("1000", "1000")
	ledger := NewLedger(newFakeStore(full), logger.Discard())

	bal, err := ledger.LookupAvailableBalance(context.Background(), 2026, Ptres8193, "3.3.90.14")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	_, err = ledger.LookupAvailableBalance(context.Background(), 2026, Ptres8193, "3.3.90.33")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRenewItem_KeepsCommitmentsOnOldItem(t *testing.T) {
	store := newFakeStore(diariasItem("1000", "900"))
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()

	next, err := ledger.RenewItem(ctx, 2026, Ptres8193, "170", "175", d("5000"))
	require.NoError(t, err)
	require.NotNil(t, next.ParentID)
	assert.Equal(t, "item-170", *next.ParentID)

	bal, err := ledger.LookupAvailableBalance(ctx, 2026, Ptres8193, "3.3.90.14")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("5000")))

	old, _ := store.GetItem(ctx, "item-170")
	assert.False(t, old.IsActive)
	assert.True(t, old.CommittedValue.Equal(d("900")))

	require.NoError(t, ledger.ReleaseValue(ctx, "item-170", d("100")))
	old, _ = store.GetItem(ctx, "item-170")
	assert.True(t, old.CommittedValue.Equal(d("800")))
}

func TestSavePlan(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedger(store, logger.Discard())
	cfg := &PlanConfig{
		Year:        2026,
		TotalBudget: d("1000"),
		Allocations: []PtresAllocation{{PtresCode: Ptres8193, Items: []DotacaoItem{item("3.3.90.14", "170", "1500", "0")}}},
	}

	_, computed, err := ledger.SavePlan(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, computed.IsOverBudget)
	_, err = store.GetPlan(context.Background(), 2026)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	cfg.TotalBudget = d("2000")
	_, _, err = ledger.SavePlan(context.Background(), cfg)
	require.NoError(t, err)
	saved, err := store.GetPlan(context.Background(), 2026)
	require.NoError(t, err)
	it := saved.Allocations[0].Items[0]
	assert.NotEmpty(t, it.ID)
	assert.Equal(t, Ptres8193, it.PtresCode)
	assert.Equal(t, 2026, it.PlanYear)
}

func savedPlan(t *testing.T, ledger *Ledger) *PlanConfig {
	t.Helper()
	cfg := &PlanConfig{
		Year:        2026,
		TotalBudget: d("20000"),
		Allocations: []PtresAllocation{{PtresCode: Ptres8193, Items: []DotacaoItem{
			item("3.3.90.14", "170", "10000", "0"),
			item("3.3.90.33", "171", "2000", "0"),
		}}},
	}
	saved, _, err := ledger.SavePlan(context.Background(), cfg)
	require.NoError(t, err)
	return saved
}

func TestSavePlan_StaleSnapshotKeepsCommitments(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()
	savedPlan(t, ledger)

	snapshot, _, err := ledger.Summary(ctx, 2026)
	require.NoError(t, err)
	commit, err := ledger.CommitValue(ctx, 2026, Ptres8193, "170", d("4000"))
	require.NoError(t, err)

	saved, computed, err := ledger.SavePlan(ctx, snapshot)
	require.NoError(t, err)
	assert.True(t, computed.TotalCommitted.Equal(d("4000")))
	for _, it := range saved.Allocations[0].Items {
		if it.DotacaoCode == "170" {
			assert.True(t, it.CommittedValue.Equal(d("4000")))
		}
	}

	bal, err := ledger.LookupAvailableBalance(ctx, 2026, Ptres8193, "3.3.90.14")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("6000")), "balance=%s", bal)

	active, err := store.FindActiveByDotacao(ctx, 2026, Ptres8193, "170")
	require.NoError(t, err)
	assert.Equal(t, commit.Item.ID, active.ID, "the commitment keeps pointing at the live item")
}

func TestSavePlan_MatchesItemsWithoutIDByDotacao(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()
	savedPlan(t, ledger)
	commit, err := ledger.CommitValue(ctx, 2026, Ptres8193, "170", d("4000"))
	require.NoError(t, err)

	// a re-import carries no ids and claims nothing was committed
	_, _, err = ledger.SavePlan(ctx, &PlanConfig{
		Year:        2026,
		TotalBudget: d("20000"),
		Allocations: []PtresAllocation{{PtresCode: Ptres8193, Items: []DotacaoItem{item("3.3.90.14", "170", "12000", "0")}}},
	})
	require.NoError(t, err)

	active, err := store.FindActiveByDotacao(ctx, 2026, Ptres8193, "170")
	require.NoError(t, err)
	assert.Equal(t, commit.Item.ID, active.ID)
	assert.True(t, active.AllocatedValue.Equal(d("12000")))
	assert.True(t, active.CommittedValue.Equal(d("4000")))

	_, err = store.FindActiveByDotacao(ctx, 2026, Ptres8193, "171")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "uncommitted items left out are removed")
}

func TestSavePlan_RefusesToDropCommittedItem(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()
	savedPlan(t, ledger)
	_, err := ledger.CommitValue(ctx, 2026, Ptres8193, "170", d("4000"))
	require.NoError(t, err)

	_, _, err = ledger.SavePlan(ctx, &PlanConfig{Year: 2026, TotalBudget: d("20000")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, _, err = ledger.SavePlan(ctx, &PlanConfig{
		Year:        2026,
		TotalBudget: d("20000"),
		Allocations: []PtresAllocation{{PtresCode: Ptres8193, Items: []DotacaoItem{item("3.3.90.14", "170", "3000", "0")}}},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "allocation below the committed value")

	bal, err := ledger.LookupAvailableBalance(ctx, 2026, Ptres8193, "3.3.90.14")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("6000")))
}

func TestSavePlan_KeepsSupersededItems(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()
	saved := savedPlan(t, ledger)
	oldID := saved.Allocations[0].Items[0].ID
	_, err := ledger.CommitValue(ctx, 2026, Ptres8193, "170", d("500"))
	require.NoError(t, err)
	_, err = ledger.RenewItem(ctx, 2026, Ptres8193, "170", "175", d("8000"))
	require.NoError(t, err)

	_, _, err = ledger.SavePlan(ctx, &PlanConfig{
		Year:        2026,
		TotalBudget: d("20000"),
		Allocations: []PtresAllocation{{PtresCode: Ptres8193, Items: []DotacaoItem{item("3.3.90.14", "175", "9000", "0")}}},
	})
	require.NoError(t, err)

	old, err := store.GetItem(ctx, oldID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.True(t, old.CommittedValue.Equal(d("500")))
}

func TestSavePlan_RetriesOnConflict(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()
	savedPlan(t, ledger)

	plan := &PlanConfig{
		Year:        2026,
		TotalBudget: d("20000"),
		Allocations: []PtresAllocation{{PtresCode: Ptres8193, Items: []DotacaoItem{
			item("3.3.90.14", "170", "11000", "0"),
			item("3.3.90.33", "171", "2000", "0"),
		}}},
	}
	store.conflicts = 2
	_, computed, err := ledger.SavePlan(ctx, plan)
	require.NoError(t, err)
	assert.True(t, computed.TotalDistributed.Equal(d("13000")))

	store.conflicts = casRetries + 1
	_, _, err = ledger.SavePlan(ctx, plan)
	assert.Error(t, err)
}

func TestRenewItem_RespectsGlobalBudget(t *testing.T) {
	store := newFakeStore(diariasItem("10000", "0"))
	ledger := NewLedger(store, logger.Discard())
	ctx := context.Background()

	_, err := ledger.RenewItem(ctx, 2026, Ptres8193, "170", "175", d("500000"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	active, err := store.FindActiveByDotacao(ctx, 2026, Ptres8193, "170")
	require.NoError(t, err)
	assert.Equal(t, "item-170", active.ID, "a refused renewal leaves the plan alone")

	_, err = ledger.RenewItem(ctx, 2026, Ptres8193, "170", "175", d("100000"))
	assert.NoError(t, err, "the whole global budget may go to one line")
}

func TestRenewItem_RejectsActiveDotacao(t *testing.T) {
	other := item("3.3.90.33", "171", "1000", "0")
	other.ID, other.PlanYear, other.PtresCode = "item-171", 2026, Ptres8193
	store := newFakeStore(diariasItem("1000", "0"), other)
	ledger := NewLedger(store, logger.Discard())

	_, err := ledger.RenewItem(context.Background(), 2026, Ptres8193, "170", "171", d("500"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ledger.RenewItem(context.Background(), 2026, Ptres8193, "999", "180", d("500"))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
