package main

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/response"
)

type BudgetSummary struct {
	Plan     *budget.PlanConfig    `json:"plan"`
	Computed budget.ComputedValues `json:"computed"`
}

func yearParam(r *http.Request) (int, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 2000 {
		return 0, apperr.Validation("ano inválido: %s", chi.URLParam(r, "year"))
	}
	return year, nil
}

// @Summary		Budget summary
// @Description	plan of the year with per-PTRES totals and the over-budget flag
// @Tags			Budget
// @Produce		json
// @Param			year	path		int	true	"fiscal year"
// @Success		200		{object}	response.APIResponse[BudgetSummary]
// @Router			/budget/{year} [get]
func (app *application) handleGetBudgetSummary(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	plan, computed, err := app.ledger.Summary(r.Context(), year)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[BudgetSummary]{Success: true, Data: BudgetSummary{Plan: plan, Computed: computed}})
}

// @Summary		Save the budget plan
// @Description	accepts the plan as JSON or, with a YAML content type, in the budgetctl file format
// @Tags			Budget
// @Accept			json
// @Produce		json
// @Param			year	path		int	true	"fiscal year"
// @Success		200		{object}	response.APIResponse[BudgetSummary]
// @Failure		400		{object}	response.ErrorResponse
// @Router			/budget/{year} [put]
func (app *application) handleSaveBudgetPlan(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}

	var plan *budget.PlanConfig
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
			return
		}
		if plan, err = budget.ParsePlan(body); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		plan = &budget.PlanConfig{}
		if err := readJSON(w, r, plan); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if plan.Year != 0 && plan.Year != year {
		app.writeAppError(w, r, apperr.Validation("o plano informado é de %d, não de %d", plan.Year, year))
		return
	}
	plan.Year = year

	saved, computed, err := app.ledger.SavePlan(r.Context(), plan)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[BudgetSummary]{Success: true, Message: "Plano salvo", Data: BudgetSummary{Plan: saved, Computed: computed}})
}

type BalanceResponse struct {
	PtresCode   budget.PtresCode `json:"ptres_code"`
	ElementCode string           `json:"element_code"`
	Available   decimal.Decimal  `json:"available"`
	Formatted   string           `json:"formatted"`
}

func (app *application) handleGetAvailableBalance(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	ptres := budget.PtresCode(r.URL.Query().Get("ptres"))
	element := r.URL.Query().Get("element")
	if ptres == "" || element == "" {
		app.writeAppError(w, r, apperr.New(apperr.KindMissingRequired, "Campo obrigatório", "informe ptres e element").WithMissing("ptres", "element"))
		return
	}

	avail, err := app.ledger.LookupAvailableBalance(r.Context(), year, ptres, element)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[BalanceResponse]{Success: true, Data: BalanceResponse{
		PtresCode:   ptres,
		ElementCode: element,
		Available:   avail,
		Formatted:   budget.FormatBRL(avail),
	}})
}

type RenewRequest struct {
	PtresCode      string          `json:"ptres_code"`
	DotacaoCode    string          `json:"dotacao_code"`
	NewDotacaoCode string          `json:"new_dotacao_code"`
	AllocatedValue decimal.Decimal `json:"allocated_value"`
}

// @Summary		Renew a budget line
// @Description	supersedes the active item; commitments stay with the old one
// @Tags			Budget
// @Accept			json
// @Produce		json
// @Param			year	path		int				true	"fiscal year"
// @Param			body	body		RenewRequest	true	"renewal"
// @Success		200		{object}	response.APIResponse[budget.DotacaoItem]
// @Router			/budget/{year}/renew [post]
func (app *application) handleRenewItem(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	var req RenewRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	item, err := app.ledger.RenewItem(r.Context(), year, budget.PtresCode(req.PtresCode), req.DotacaoCode, req.NewDotacaoCode, req.AllocatedValue)
	if err != nil {
		app.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.APIResponse[*budget.DotacaoItem]{Success: true, Data: item})
}
