package main

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/documents"
	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/response"
)

// maxUploadSize bounds NE, DL and OB uploads.
const maxUploadSize = 10 << 20

func (app *application) handleGetExecutionState(w http.ResponseWriter, r *http.Request) {
	st, err := app.wizard.State(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[*execution.State]{Success: true, Data: st})
}

type PortariaRequest struct {
	PtresCode    string   `json:"ptres_code"`
	DotacaoCodes []string `json:"dotacao_codes"`
}

// @Summary		Generate the Portaria SF
// @Tags			Execution
// @Accept			json
// @Produce		json
// @Param			id		path		string			true	"process id"
// @Param			body	body		PortariaRequest	true	"budget source"
// @Success		200		{object}	response.APIResponse[execution.Result]
// @Failure		422		{object}	response.ErrorResponse
// @Router			/processes/{id}/execution/portaria [post]
func (app *application) handleGeneratePortaria(w http.ResponseWriter, r *http.Request) {
	var req PortariaRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := app.wizard.GeneratePortaria(r.Context(), chi.URLParam(r, "id"), budget.PtresCode(req.PtresCode), req.DotacaoCodes, actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[*execution.Result]{Success: true, Message: "Portaria " + res.State.PortariaNumero, Data: res})
}

func (app *application) handleGenerateCertidao(w http.ResponseWriter, r *http.Request) {
	res, err := app.wizard.GenerateCertidao(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[*execution.Result]{Success: true, Data: res})
}

// @Summary		Register an NE, DL or OB
// @Description	multipart form with numero, valor (decimal, dot or comma), optional dotacao and the PDF in file
// @Tags			Execution
// @Accept			multipart/form-data
// @Produce		json
// @Param			id		path		string	true	"process id"
// @Param			kind	path		string	true	"NE, DL or OB"
// @Success		200		{object}	response.APIResponse[execution.Result]
// @Router			/processes/{id}/execution/documents/{kind} [post]
func (app *application) handleRegisterFinancialDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	in := execution.FinancialInput{
		Kind:    execution.Step(strings.ToUpper(chi.URLParam(r, "kind"))),
		Numero:  strings.TrimSpace(r.FormValue("numero")),
		Dotacao: strings.TrimSpace(r.FormValue("dotacao")),
	}

	if raw := strings.TrimSpace(r.FormValue("valor")); raw != "" {
		v, err := budget.ParseBRL(raw)
		if err != nil {
			app.writeAppError(w, r, apperr.New(apperr.KindInvalidValue, "Valor inválido", "valor %q não é um número", raw))
			return
		}
		in.Valor = v
	}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
			return
		}
		in.File = &documents.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	}

	res, err := app.wizard.RegisterFinancialDocument(r.Context(), chi.URLParam(r, "id"), in, actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	msg := string(in.Kind) + " " + in.Numero + " registrada"
	if res.Mismatch != nil {
		msg = res.Mismatch.Message
	} else if len(res.Dependents) > 0 {
		msg = res.Dependents[0].Message
	}
	writeJSON(w, http.StatusOK, response.APIResponse[*execution.Result]{Success: true, Message: msg, Data: res})
}

type SkipRequest struct {
	Step string `json:"step"`
}

func (app *application) handleSkipStep(w http.ResponseWriter, r *http.Request) {
	var req SkipRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	st, err := app.wizard.Skip(r.Context(), chi.URLParam(r, "id"), execution.Step(strings.ToUpper(req.Step)), actorFrom(r))
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[*execution.State]{Success: true, Data: st})
}
