package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/response"
)

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) error {
	return writeJSON(w, status, &response.ErrorResponse{Error: message})
}

// readJSON decodes the request body into data. An empty body leaves data untouched.
func readJSON(w http.ResponseWriter, r *http.Request, data any) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(data)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:          http.StatusBadRequest,
	apperr.KindMissingRequired:     http.StatusBadRequest,
	apperr.KindInvalidValue:        http.StatusBadRequest,
	apperr.KindMissingDocument:     http.StatusBadRequest,
	apperr.KindInvalidTransition:   http.StatusConflict,
	apperr.KindInsufficientBalance: http.StatusUnprocessableEntity,
	apperr.KindPrerequisitesNotMet: http.StatusUnprocessableEntity,
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindTimedOut:            http.StatusGatewayTimeout,
	apperr.KindStoreFailure:        http.StatusInternalServerError,
}

// writeAppError renders a service error with the status its kind maps to.
func (app *application) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	const component = "API"
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		app.logger.Error(component, "Unclassified error: path=%s err=%v", r.URL.Path, err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status, ok := kindStatus[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		app.logger.Error(component, "Request failed: path=%s kind=%s err=%v", r.URL.Path, appErr.Kind, err)
	}
	writeJSON(w, status, &response.ErrorResponse{
		Error:   appErr.Message,
		Kind:    appErr.Kind,
		Title:   appErr.Title,
		Missing: appErr.Missing,
	})
}
