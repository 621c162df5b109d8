package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/history"
	"github.com/farxc/tramitacao/internal/logger"
	"github.com/farxc/tramitacao/internal/workflow"
)

const version = "1.0.0"

type application struct {
	config   config
	logger   *logger.Logger
	workflow *workflow.Service
	wizard   *execution.Wizard
	ledger   *budget.Ledger
	history  *history.Log
}

type config struct {
	addr        string
	db          dbConfig
	docs        docsConfig
	callTimeout time.Duration
	logLevel    string
	corsOrigins []string
}

type dbConfig struct {
	addr         string
	maxOpenConns int
	maxIdleConns int
	maxIdleTime  string
	migrate      bool
}

type docsConfig struct {
	dir     string
	baseURL string
}

func (c config) storageMode() string {
	if c.db.addr == "" {
		return "memory"
	}
	return "postgres"
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", actorHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)

		r.Route("/processes", func(r chi.Router) {
			r.Get("/", app.handleListProcesses)
			r.Post("/", app.handleCreateProcess)
			r.Post("/batch-sign", app.handleBatchSign)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.handleGetProcess)
				r.Get("/history", app.handleGetHistory)
				r.Get("/actions", app.handleGetAllowedActions)
				r.Post("/assign", app.handleAssign)
				r.Patch("/fields", app.handleUpdateField)

				r.Post("/forward", app.noteAction(app.workflow.ForwardToLegalReview))
				r.Post("/start-review", app.simpleAction(app.workflow.StartReview))
				r.Post("/opinion", app.handleSubmitOpinion)
				r.Post("/queue-signature", app.simpleAction(app.workflow.QueueForSignature))
				r.Post("/return", app.reasonAction(app.workflow.ReturnForAdjustment))
				r.Post("/resubmit", app.noteAction(app.workflow.Resubmit))
				r.Post("/sign", app.simpleAction(app.workflow.SignDocument))
				r.Post("/presidency/authorize", app.noteAction(app.workflow.AuthorizeByPresidency))
				r.Post("/presidency/reject", app.reasonAction(app.workflow.RejectByPresidency))
				r.Post("/tramitar", app.simpleAction(app.workflow.TramitarToOrdenador))
				r.Post("/conclude", app.noteAction(app.workflow.Conclude))
				r.Post("/reject", app.reasonAction(app.workflow.Reject))
				r.Post("/cancel", app.reasonAction(app.workflow.Cancel))

				r.Route("/execution", func(r chi.Router) {
					r.Get("/", app.handleGetExecutionState)
					r.Post("/portaria", app.handleGeneratePortaria)
					r.Post("/certidao", app.handleGenerateCertidao)
					r.Post("/documents/{kind}", app.handleRegisterFinancialDocument)
					r.Post("/skip", app.handleSkipStep)
				})
			})
		})

		r.Get("/tasks", app.handleListPendingTasks)

		r.Route("/budget/{year}", func(r chi.Router) {
			r.Get("/", app.handleGetBudgetSummary)
			r.Put("/", app.handleSaveBudgetPlan)
			r.Get("/balance", app.handleGetAvailableBalance)
			r.Post("/renew", app.handleRenewItem)
		})
	})

	if app.config.docs.dir != "" {
		fs := http.StripPrefix("/files/", http.FileServer(http.Dir(app.config.docs.dir)))
		r.Get("/files/*", fs.ServeHTTP)
	}

	return r
}

func (app *application) run(mux http.Handler) error {
	const component = "API"

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 120,
		ReadTimeout:  time.Second * 40,
		IdleTimeout:  time.Minute,
	}

	app.logger.Info(component, "Server started: addr=%s storage=%s", app.config.addr, app.config.storageMode())
	return srv.ListenAndServe()
}
