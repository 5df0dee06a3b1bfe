// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

// ErrActorRequired indicates a mutating request without an actor header.
var ErrActorRequired = errors.New("actor header required")

// StatusFor maps ledger errors onto HTTP status codes.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrActorRequired):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity, "Validation Failed"
	case errors.Is(err, shared.ErrUnknownAccount):
		return http.StatusUnprocessableEntity, "Unknown Account"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrPostedImmutable):
		return http.StatusConflict, "Posted Transaction Immutable"
	case errors.Is(err, shared.ErrInvalidStateTransition):
		return http.StatusConflict, "Invalid State Transition"
	case errors.Is(err, shared.ErrHasChildren):
		return http.StatusConflict, "Account Has Children"
	case errors.Is(err, shared.ErrHierarchyCycle):
		return http.StatusConflict, "Hierarchy Cycle"
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return http.StatusConflict, "Concurrent Modification"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal errors never leak their message.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	problem := ProblemDetail{Title: title, Status: status, Detail: detail}
	var vErr *shared.ValidationError
	if errors.As(err, &vErr) {
		problem.Field = vErr.Field
	}
	writeProblem(w, problem)
}
