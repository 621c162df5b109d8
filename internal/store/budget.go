package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
)

type BudgetStore struct {
	db *sqlx.DB
}

const itemColumns = `id, plan_year, ptres_code, element_code, dotacao_code, allocated_value,
	committed_value, is_active, parent_id, version, created_at, updated_at`

func (bs *BudgetStore) GetPlan(ctx context.Context, year int) (*budget.PlanConfig, error) {
	var cfg budget.PlanConfig
	err := bs.db.GetContext(ctx, &cfg, `SELECT year, total_budget, updated_at FROM planos_orcamentarios WHERE year = $1`, year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %d: %w", year, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %d: %w", year, err)
	}

	var items []budget.DotacaoItem
	query := `SELECT ` + itemColumns + ` FROM dotacao_items WHERE plan_year = $1 ORDER BY created_at, dotacao_code`
	if err := bs.db.SelectContext(ctx, &items, query, year); err != nil {
		return nil, fmt.Errorf("get items of plan %d: %w", year, err)
	}

	for _, code := range budget.PtresCodes {
		alloc := budget.PtresAllocation{PtresCode: code}
		for _, it := range items {
			if it.PtresCode == code {
				alloc.Items = append(alloc.Items, it)
			}
		}
		if len(alloc.Items) > 0 {
			cfg.Allocations = append(cfg.Allocations, alloc)
		}
	}
	return &cfg, nil
}

const insertItem = `INSERT INTO dotacao_items (` + itemColumns + `) VALUES (
	:id, :plan_year, :ptres_code, :element_code, :dotacao_code, :allocated_value,
	:committed_value, :is_active, :parent_id, :version, :created_at, :updated_at
)`

// ApplyPlan writes the plan header and its item changes. Deletes run first,
// then updates, then inserts, so a dotação can pass from one item to another
// under uq_dotacao_ativa.
func (bs *BudgetStore) ApplyPlan(ctx context.Context, change *budget.PlanChange) error {
	return withTx(ctx, bs.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO planos_orcamentarios (year, total_budget, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (year) DO UPDATE SET total_budget = EXCLUDED.total_budget, updated_at = EXCLUDED.updated_at`,
			change.Year, change.TotalBudget, change.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save plan %d: %w", change.Year, err)
		}

		for _, it := range change.Delete {
			result, err := tx.ExecContext(ctx, `DELETE FROM dotacao_items
				WHERE id = $1 AND version = $2 AND committed_value = 0`, it.ID, it.Version)
			if err := expectRow(result, err); err != nil {
				return fmt.Errorf("delete item %s of plan %d: %w", it.ID, change.Year, err)
			}
		}

		for _, it := range change.Update {
			result, err := tx.ExecContext(ctx, `UPDATE dotacao_items
				SET element_code = $1, dotacao_code = $2, allocated_value = $3, is_active = $4,
					version = version + 1, updated_at = $5
				WHERE id = $6 AND version = $7`,
				it.ElementCode, it.DotacaoCode, it.AllocatedValue, it.IsActive, it.UpdatedAt, it.ID, it.Version)
			if err := expectRow(result, err); err != nil {
				return fmt.Errorf("update item %s of plan %d: %w", it.ID, change.Year, err)
			}
		}

		for _, it := range change.Insert {
			it.PlanYear = change.Year
			if _, err := tx.NamedExecContext(ctx, insertItem, it); err != nil {
				return fmt.Errorf("insert item %s of plan %d: %w", it.DotacaoCode, change.Year, err)
			}
		}
		return nil
	})
}

// expectRow turns a write that matched nothing into apperr.ErrConflict.
func expectRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrConflict
	}
	return nil
}

func (bs *BudgetStore) getItem(ctx context.Context, where string, args ...any) (*budget.DotacaoItem, error) {
	var it budget.DotacaoItem
	err := bs.db.GetContext(ctx, &it, `SELECT `+itemColumns+` FROM dotacao_items WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get budget item: %w", err)
	}
	return &it, nil
}

func (bs *BudgetStore) GetItem(ctx context.Context, id string) (*budget.DotacaoItem, error) {
	return bs.getItem(ctx, `id = $1`, id)
}

func (bs *BudgetStore) FindActiveByDotacao(ctx context.Context, year int, ptres budget.PtresCode, dotacaoCode string) (*budget.DotacaoItem, error) {
	return bs.getItem(ctx, `plan_year = $1 AND ptres_code = $2 AND dotacao_code = $3 AND is_active
		ORDER BY created_at DESC LIMIT 1`, year, ptres, dotacaoCode)
}

func (bs *BudgetStore) FindActiveByElement(ctx context.Context, year int, ptres budget.PtresCode, elementCode string) (*budget.DotacaoItem, error) {
	return bs.getItem(ctx, `plan_year = $1 AND ptres_code = $2 AND element_code = $3 AND is_active
		ORDER BY created_at DESC LIMIT 1`, year, ptres, elementCode)
}

func (bs *BudgetStore) UpdateCommitted(ctx context.Context, itemID string, expectedVersion int64, committed decimal.Decimal) error {
	result, err := bs.db.ExecContext(ctx, `UPDATE dotacao_items
		SET committed_value = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3`,
		committed, itemID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update committed value of %s: %w", itemID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrConflict
	}
	return nil
}

func (bs *BudgetStore) RenewItem(ctx context.Context, oldID string, next *budget.DotacaoItem) error {
	return withTx(ctx, bs.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE dotacao_items
			SET is_active = FALSE, version = version + 1, updated_at = $1
			WHERE id = $2 AND is_active`, next.CreatedAt, oldID)
		if err != nil {
			return fmt.Errorf("deactivate item %s: %w", oldID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return apperr.ErrConflict
		}

		if _, err := tx.NamedExecContext(ctx, insertItem, next); err != nil {
			return fmt.Errorf("insert successor of %s: %w", oldID, err)
		}
		return nil
	})
}
