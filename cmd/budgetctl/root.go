package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/db"
	"github.com/farxc/tramitacao/internal/env"
	"github.com/farxc/tramitacao/internal/logger"
	"github.com/farxc/tramitacao/internal/store"
)

type options struct {
	outputFmt string
	dbAddr    string
	logLevel  string
}

// openStore connects to the budget tables. Tests replace it.
var openStore = func(ctx context.Context, addr string) (budget.Store, func(), error) {
	if addr == "" {
		return nil, nil, fmt.Errorf("DB_ADDR is not set; use --db or the environment")
	}
	conn, err := db.New(addr, 5, 5, "5m")
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return store.NewStorage(conn), func() { conn.Close() }, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "budgetctl",
		Short: "Administer the yearly budget plan",
		Long: `budgetctl loads, checks and reports the budget plan used to commit
travel expenses.

Plans come either as YAML (year, total_budget, allocations) or as the
semicolon separated spreadsheet exported by the finance system. The
validate command works offline; import, summary, balance and renew
talk to the database named by --db or DB_ADDR.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&opts.dbAddr, "db", env.GetString("DB_ADDR", ""), "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", env.GetString("LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")

	root.AddCommand(
		newValidateCmd(opts),
		newImportCmd(opts),
		newSummaryCmd(opts),
		newBalanceCmd(opts),
		newRenewCmd(opts),
	)
	return root
}

func (o *options) logger() *logger.Logger {
	return logger.New(logger.ParseLevel(o.logLevel), os.Stderr)
}

// ledger opens the store and wraps it in a Ledger. The returned func closes it.
func (o *options) ledger(ctx context.Context) (*budget.Ledger, func(), error) {
	st, closeFn, err := openStore(ctx, o.dbAddr)
	if err != nil {
		return nil, nil, err
	}
	return budget.NewLedger(st, o.logger()), closeFn, nil
}
