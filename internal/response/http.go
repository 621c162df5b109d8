package response

import "github.com/farxc/tramitacao/internal/apperr"

type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

// ErrorResponse carries the toast shown to the operator when a call fails.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Kind    apperr.Kind `json:"kind,omitempty"`
	Title   string      `json:"title,omitempty"`
	Missing []string    `json:"missing,omitempty"`
}
