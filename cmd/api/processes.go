package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/history"
	"github.com/farxc/tramitacao/internal/process"
	"github.com/farxc/tramitacao/internal/response"
	"github.com/farxc/tramitacao/internal/workflow"
)

type (
	simpleFunc func(ctx context.Context, recordID, actor string) (*process.Record, error)
	noteFunc   func(ctx context.Context, recordID, actor, note string) (*process.Record, error)
	reasonFunc func(ctx context.Context, recordID, reason, actor string) (*process.Record, error)
)

type ActionRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

func (app *application) readAction(w http.ResponseWriter, r *http.Request) (ActionRequest, bool) {
	var req ActionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	return req, true
}

func (app *application) writeRecord(w http.ResponseWriter, status int, rec *process.Record, message string) {
	writeJSON(w, status, response.APIResponse[*process.Record]{Success: true, Message: message, Data: rec})
}

func (app *application) simpleAction(fn simpleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := fn(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			app.writeAppError(w, r, err)
			return
		}
		app.writeRecord(w, http.StatusOK, rec, "")
	}
}

func (app *application) noteAction(fn noteFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := app.readAction(w, r)
		if !ok {
			return
		}
		rec, err := fn(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Note)
		if err != nil {
			app.writeAppError(w, r, err)
			return
		}
		app.writeRecord(w, http.StatusOK, rec, "")
	}
}

func (app *application) reasonAction(fn reasonFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := app.readAction(w, r)
		if !ok {
			return
		}
		rec, err := fn(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
		if err != nil {
			app.writeAppError(w, r, err)
			return
		}
		app.writeRecord(w, http.StatusOK, rec, "")
	}
}

// @Summary		Register a request
// @Description	creates a process in SODPA with a fresh protocol number
// @Tags			Processes
// @Accept			json
// @Produce		json
// @Param			X-Actor	header		string				true	"operator"
// @Param			body	body		process.NewRequest	true	"request"
// @Success		201		{object}	response.APIResponse[process.Record]
// @Failure		400		{object}	response.ErrorResponse
// @Router			/processes [post]
func (app *application) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	var req process.NewRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := app.workflow.Create(r.Context(), req, actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	app.writeRecord(w, http.StatusCreated, rec, "Solicitação registrada: "+rec.Protocol)
}

// @Summary		Department inbox
// @Description	lists processes by destination and status
// @Tags			Processes
// @Produce		json
// @Param			destino	query		string	false	"destination department"
// @Param			status	query		string	false	"comma separated statuses"
// @Param			limit	query		int		false	"page size"
// @Param			offset	query		int		false	"page offset"
// @Success		200		{object}	response.APIResponse[[]process.Record]
// @Router			/processes [get]
func (app *application) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := workflow.RecordFilter{
		Destination: process.Destination(strings.ToUpper(q.Get("destino"))),
		Limit:       queryInt(r, "limit", 50),
		Offset:      queryInt(r, "offset", 0),
	}
	for _, s := range splitList(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, process.Status(strings.ToUpper(s)))
	}

	recs, err := app.workflow.Inbox(r.Context(), filter)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	if recs == nil {
		recs = []process.Record{}
	}
	writeJSON(w, http.StatusOK, response.APIResponse[[]process.Record]{Success: true, Data: recs})
}

func (app *application) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	rec, err := app.workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	app.writeRecord(w, http.StatusOK, rec, "")
}

// @Summary		Tramitação history
// @Tags			Processes
// @Produce		json
// @Param			id	path		string	true	"process id"
// @Success		200	{object}	response.APIResponse[[]history.Entry]
// @Router			/processes/{id}/history [get]
func (app *application) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := app.workflow.Get(r.Context(), id); err != nil {
		app.writeAppError(w, r, err)
		return
	}

	entries := []history.Entry{}
	for e, err := range app.history.Query(r.Context(), id) {
		if err != nil {
			app.writeAppError(w, r, err)
			return
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, response.APIResponse[[]history.Entry]{Success: true, Data: entries})
}

func (app *application) handleGetAllowedActions(w http.ResponseWriter, r *http.Request) {
	rec, err := app.workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	actions := workflow.AllowedActions(rec)
	if actions == nil {
		actions = []workflow.Action{}
	}
	writeJSON(w, http.StatusOK, response.APIResponse[[]workflow.Action]{Success: true, Data: actions})
}

type AssignRequest struct {
	AssignedTo string `json:"assigned_to"`
}

func (app *application) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec, err := app.workflow.AssignToReviewer(r.Context(), chi.URLParam(r, "id"), req.AssignedTo, actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	app.writeRecord(w, http.StatusOK, rec, "")
}

type OpinionRequest struct {
	Opinion string `json:"opinion"`
}

func (app *application) handleSubmitOpinion(w http.ResponseWriter, r *http.Request) {
	var req OpinionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec, err := app.workflow.SubmitOpinion(r.Context(), chi.URLParam(r, "id"), req.Opinion, actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	app.writeRecord(w, http.StatusOK, rec, "Parecer registrado")
}

type FieldUpdateRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// @Summary		Update an execution field
// @Description	sets one of the NE/DL/OB/PTRES fields of a process
// @Tags			Processes
// @Accept			json
// @Produce		json
// @Param			id		path		string				true	"process id"
// @Param			body	body		FieldUpdateRequest	true	"field and value"
// @Success		200		{object}	response.APIResponse[process.Record]
// @Router			/processes/{id}/fields [patch]
func (app *application) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var req FieldUpdateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec, err := app.workflow.UpdateExecutionField(r.Context(), chi.URLParam(r, "id"), req.Field, req.Value, actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	app.writeRecord(w, http.StatusOK, rec, "")
}

type BatchSignRequest struct {
	IDs []string `json:"ids"`
}

type BatchSignResponse struct {
	Signed  int                    `json:"signed"`
	Failed  int                    `json:"failed"`
	Results []workflow.BatchResult `json:"results"`
}

// @Summary		Sign several processes
// @Description	signs each process independently; one failure does not stop the batch
// @Tags			Processes
// @Accept			json
// @Produce		json
// @Param			body	body		BatchSignRequest	true	"process ids"
// @Success		200		{object}	response.APIResponse[BatchSignResponse]
// @Router			/processes/batch-sign [post]
func (app *application) handleBatchSign(w http.ResponseWriter, r *http.Request) {
	var req BatchSignRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		app.writeAppError(w, r, apperr.New(apperr.KindMissingRequired, "Campo obrigatório", "selecione ao menos um processo"))
		return
	}

	results := app.workflow.BatchSign(r.Context(), req.IDs, actorFrom(r))
	resp := BatchSignResponse{Results: results}
	for _, res := range results {
		if res.OK() {
			resp.Signed++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, response.APIResponse[BatchSignResponse]{Success: resp.Failed == 0, Data: resp})
}

// @Summary		Pending signatures
// @Tags			Tasks
// @Produce		json
// @Param			destino	query		string	true	"department"
// @Success		200		{object}	response.APIResponse[[]workflow.SigningTask]
// @Router			/tasks [get]
func (app *application) handleListPendingTasks(w http.ResponseWriter, r *http.Request) {
	dest := process.Destination(strings.ToUpper(r.URL.Query().Get("destino")))
	tasks, err := app.workflow.PendingTasks(r.Context(), dest)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []workflow.SigningTask{}
	}
	writeJSON(w, http.StatusOK, response.APIResponse[[]workflow.SigningTask]{Success: true, Data: tasks})
}
