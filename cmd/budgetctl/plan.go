package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
)

// planFlags complete a spreadsheet, which carries items but no header.
type planFlags struct {
	year  int
	total string
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.year, "year", 0, "Fiscal year (required for CSV input, overrides YAML)")
	cmd.Flags().StringVar(&f.total, "total", "", "Global budget, e.g. 1.500.000,00 (required for CSV input, overrides YAML)")
}

// loadPlan reads a YAML plan or a CSV spreadsheet, chosen by extension.
func loadPlan(path string, f planFlags) (*budget.PlanConfig, error) {
	var plan *budget.PlanConfig
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file %s: %w", path, err)
		}
		defer file.Close()
		allocations, err := budget.ReadItemsCSV(file)
		if err != nil {
			return nil, err
		}
		if f.year == 0 || f.total == "" {
			return nil, errors.New("--year and --total are required for CSV input")
		}
		plan = &budget.PlanConfig{Allocations: allocations}
	} else {
		var err error
		if plan, err = budget.LoadPlanFile(path); err != nil {
			return nil, err
		}
	}

	if f.year != 0 {
		plan.Year = f.year
	}
	if f.total != "" {
		total, err := budget.ParseBRL(f.total)
		if err != nil {
			return nil, fmt.Errorf("--total: %w", err)
		}
		plan.TotalBudget = total
	}
	for ai := range plan.Allocations {
		for ii := range plan.Allocations[ai].Items {
			plan.Allocations[ai].Items[ii].PlanYear = plan.Year
		}
	}
	return plan, nil
}

func report(plan *budget.PlanConfig, computed budget.ComputedValues, err error) planReport {
	rep := planReport{Year: plan.Year, Total: budget.FormatBRL(plan.TotalBudget), Computed: computed}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		rep.Issues = appErr.Missing
	}
	return rep
}

func newValidateCmd(opts *options) *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a plan file without saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlan(args[0], flags)
			if err != nil {
				return err
			}
			computed := budget.CalculateBudgetValues(*plan)
			verr := plan.Validate()
			if err := printPlanReport(cmd.OutOrStdout(), opts.outputFmt, report(plan, computed, verr)); err != nil {
				return err
			}
			return verr
		},
	}
	flags.register(cmd)
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a plan file into the saved plan of its year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlan(args[0], flags)
			if err != nil {
				return err
			}
			ledger, closeFn, err := opts.ledger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			_, computed, err := ledger.SavePlan(cmd.Context(), plan)
			if perr := printPlanReport(cmd.OutOrStdout(), opts.outputFmt, report(plan, computed, err)); perr != nil {
				return perr
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newSummaryCmd(opts *options) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the saved plan of a year",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, closeFn, err := opts.ledger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			plan, computed, err := ledger.Summary(cmd.Context(), year)
			if err != nil {
				return err
			}
			return printPlanReport(cmd.OutOrStdout(), opts.outputFmt, report(plan, computed, nil))
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Fiscal year")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newBalanceCmd(opts *options) *cobra.Command {
	var (
		year    int
		ptres   string
		element string
	)
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the available balance of an expense element",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, closeFn, err := opts.ledger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			avail, err := ledger.LookupAvailableBalance(cmd.Context(), year, budget.PtresCode(ptres), element)
			if err != nil {
				return err
			}
			if opts.outputFmt == "json" || opts.outputFmt == "yaml" {
				return printOutput(cmd.OutOrStdout(), opts.outputFmt, map[string]string{
					"ptres_code":   ptres,
					"element_code": element,
					"available":    avail.StringFixed(2),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PTRES %s / elemento %s: %s disponível\n", ptres, element, budget.FormatBRL(avail))
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Fiscal year")
	cmd.Flags().StringVar(&ptres, "ptres", "", "PTRES code")
	cmd.Flags().StringVar(&element, "element", "", "Expense element code")
	for _, f := range []string{"year", "ptres", "element"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newRenewCmd(opts *options) *cobra.Command {
	var (
		year      int
		ptres     string
		dotacao   string
		next      string
		allocated string
	)
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Supersede a budget line with a new dotação",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := budget.ParseBRL(allocated)
			if err != nil {
				return fmt.Errorf("--allocated: %w", err)
			}
			ledger, closeFn, err := opts.ledger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			item, err := ledger.RenewItem(cmd.Context(), year, budget.PtresCode(ptres), dotacao, next, amount)
			if err != nil {
				return err
			}
			if opts.outputFmt == "json" || opts.outputFmt == "yaml" {
				return printOutput(cmd.OutOrStdout(), opts.outputFmt, item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dotação %s substituída por %s (%s)\n", dotacao, item.DotacaoCode, budget.FormatBRL(item.AllocatedValue))
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Fiscal year")
	cmd.Flags().StringVar(&ptres, "ptres", "", "PTRES code")
	cmd.Flags().StringVar(&dotacao, "dotacao", "", "Current dotação code")
	cmd.Flags().StringVar(&next, "new-dotacao", "", "New dotação code")
	cmd.Flags().StringVar(&allocated, "allocated", "0", "Allocated value of the new line")
	for _, f := range []string{"year", "ptres", "dotacao", "new-dotacao"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
