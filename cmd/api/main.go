package main

import (
	"log"
	"os"
	"strings"

	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/db"
	"github.com/farxc/tramitacao/internal/documents"
	"github.com/farxc/tramitacao/internal/env"
	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/history"
	"github.com/farxc/tramitacao/internal/logger"
	"github.com/farxc/tramitacao/internal/notify"
	"github.com/farxc/tramitacao/internal/store"
	"github.com/farxc/tramitacao/internal/store/memstore"
	"github.com/farxc/tramitacao/internal/workflow"
)

// backend is everything the services need from persistence.
type backend interface {
	workflow.Repository
	execution.Repository
	budget.Store
	history.Reader
}

func main() {
	const component = "Main"

	if err := env.Load(); err != nil {
		log.Printf("failed to load .env: %v", err)
	}

	cfg := config{
		addr: env.GetString("ADDR", ":8080"),
		db: dbConfig{
			addr:         env.GetString("DB_ADDR", ""),
			maxOpenConns: env.GetInt("DB_MAX_OPEN_CONNS", 25),
			maxIdleConns: env.GetInt("DB_MAX_IDLE_CONNS", 25),
			maxIdleTime:  env.GetString("DB_MAX_IDLE_TIME", "15m"),
			migrate:      env.GetBool("DB_MIGRATE", true),
		},
		docs: docsConfig{
			dir:     env.GetString("DOCS_DIR", "./data/documents"),
			baseURL: env.GetString("DOCS_BASE_URL", "http://localhost:8080/files"),
		},
		callTimeout: env.GetDuration("CALL_TIMEOUT", 0),
		logLevel:    env.GetString("LOG_LEVEL", "info"),
		corsOrigins: strings.Split(env.GetString("CORS_ORIGINS", "http://localhost:5173"), ","),
	}

	appLogger := logger.New(logger.ParseLevel(cfg.logLevel), os.Stdout)

	repo, closeRepo, err := openBackend(cfg.db, appLogger)
	if err != nil {
		appLogger.Fatal(component, "Failed to open storage: %v", err)
	}
	defer closeRepo()

	docs, err := documents.NewLocalStore(cfg.docs.dir, cfg.docs.baseURL)
	if err != nil {
		appLogger.Fatal(component, "Failed to open document store: %v", err)
	}

	sink := notify.NewAsyncSink(notify.NewLogSink(appLogger), appLogger, 100)
	defer sink.Close()

	app := newApplication(cfg, appLogger, repo, docs, sink)

	mux := app.mount()

	if err := app.run(mux); err != nil {
		appLogger.Error(component, "Server stopped: %v", err)
	}
}

// openBackend connects to PostgreSQL when DB_ADDR is set and falls back to
// the in-memory store otherwise.
func openBackend(cfg dbConfig, appLogger *logger.Logger) (backend, func(), error) {
	const component = "Main"
	if cfg.addr == "" {
		appLogger.Warn(component, "DB_ADDR not set, using in-memory storage")
		return memstore.New(), func() {}, nil
	}

	conn, err := db.New(cfg.addr, cfg.maxOpenConns, cfg.maxIdleConns, cfg.maxIdleTime)
	if err != nil {
		return nil, nil, err
	}
	appLogger.Info(component, "Database connection pool established")

	if cfg.migrate {
		if err := db.Migrate(conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		if v, dirty, err := db.SchemaVersion(conn); err == nil {
			appLogger.Info(component, "Schema ready: version=%d dirty=%t", v, dirty)
		}
	}
	return store.NewStorage(conn), func() { conn.Close() }, nil
}

func newApplication(cfg config, appLogger *logger.Logger, repo backend, docs documents.Store, sink notify.Sink) *application {
	ledger := budget.NewLedger(repo, appLogger)
	return &application{
		config: cfg,
		logger: appLogger,
		workflow: workflow.NewService(workflow.Config{
			Repo:     repo,
			Notifier: sink,
			Logger:   appLogger,
			Timeout:  cfg.callTimeout,
		}),
		wizard: execution.NewWizard(execution.Config{
			Repo:     repo,
			Docs:     docs,
			Ledger:   ledger,
			Notifier: sink,
			Logger:   appLogger,
			Timeout:  cfg.callTimeout,
		}),
		ledger:  ledger,
		history: history.NewLog(repo, 0),
	}
}
