// Package apperr defines the error taxonomy shared by every workflow
// operation. Each error carries a machine-readable Kind plus a title and
// message meant to be shown to the operator as-is.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindMissingRequired     Kind = "MISSING_REQUIRED_FIELD"
	KindInvalidTransition   Kind = "INVALID_TRANSITION"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindPrerequisitesNotMet Kind = "PREREQUISITES_NOT_MET"
	KindMissingDocument     Kind = "MISSING_DOCUMENT"
	KindInvalidValue        Kind = "INVALID_VALUE"
	KindNotFound            Kind = "NOT_FOUND"
	KindStoreFailure        Kind = "STORE_FAILURE"
	KindTimedOut            Kind = "OPERATION_TIMED_OUT"
)

// ErrConflict is returned by stores when a compare-and-swap update finds a
// version other than the expected one.
var ErrConflict = errors.New("version conflict")

// ErrNotFound is returned by stores when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

type Error struct {
	Kind    Kind     `json:"kind"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
	Err     error    `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if len(e.Missing) > 0 {
		msg += " (" + strings.Join(e.Missing, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, title, format string, args ...any) *Error {
	return &Error{Kind: kind, Title: title, Message: fmt.Sprintf(format, args...)}
}

// WithMissing attaches the enumerated items behind a domain-rule failure.
func (e *Error) WithMissing(items ...string) *Error {
	e.Missing = append(e.Missing, items...)
	return e
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, "Dados inválidos", format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return New(KindInvalidTransition, "Tramitação não permitida", format, args...)
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStore classifies a failure coming back from a persistence call. Domain
// errors pass through untouched; expired deadlines become OPERATION_TIMED_OUT
// and everything else STORE_FAILURE.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:    KindTimedOut,
			Title:   "Tempo esgotado",
			Message: fmt.Sprintf("%s excedeu o tempo limite", op),
			Err:     err,
		}
	}
	if errors.Is(err, ErrNotFound) {
		return &Error{Kind: KindNotFound, Title: "Não encontrado", Message: op + ": registro não encontrado", Err: err}
	}
	if errors.Is(err, ErrConflict) {
		return &Error{
			Kind:    KindInvalidTransition,
			Title:   "Registro alterado",
			Message: op + ": o registro foi alterado por outro usuário; recarregue e tente novamente",
			Err:     err,
		}
	}
	return &Error{
		Kind:    KindStoreFailure,
		Title:   "Falha ao gravar",
		Message: fmt.Sprintf("%s falhou; nenhuma alteração foi aplicada", op),
		Err:     err,
	}
}
