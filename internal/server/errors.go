package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/ctxconf/internal/logging"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
	"github.com/alfredjeanlab/ctxconf/internal/resolver"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

// Error codes returned in the "code" field.
const (
	CodeInvalidContextKind          = "invalid_context_kind"
	CodeMissingContextIdentifier    = "missing_context_identifier"
	CodeUnexpectedContextIdentifier = "unexpected_context_identifier"
	CodeInvalidPayload              = "invalid_payload"
	CodeValidationFailed            = "validation_failed"
	CodeInvalidInput                = "invalid_input"
	CodeNotFound                    = "not_found"
	CodeDuplicateActive             = "duplicate_active_context"
	CodeGlobalRequired              = "global_required"
	CodeMissingGlobal               = "missing_global_configuration"
	CodeUnauthorized                = "unauthorized"
	CodeForbidden                   = "forbidden"
	CodeInternal                    = "internal"
)

// classify maps a domain error onto an HTTP status and error code. The
// sentinel checks come before the generic validation case because a
// ValidationError unwraps to them.
func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	var ve *model.ValidationError
	switch {
	case errors.Is(err, resolver.ErrMissingGlobalConfiguration):
		return http.StatusInternalServerError, CodeMissingGlobal
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, store.ErrDuplicateActive):
		return http.StatusConflict, CodeDuplicateActive
	case errors.Is(err, overrides.ErrGlobalRequired):
		return http.StatusConflict, CodeGlobalRequired
	case errors.Is(err, model.ErrInvalidContextKind):
		return http.StatusBadRequest, CodeInvalidContextKind
	case errors.Is(err, model.ErrMissingContextIdentifier):
		return http.StatusBadRequest, CodeMissingContextIdentifier
	case errors.Is(err, model.ErrUnexpectedContextIdentifier):
		return http.StatusBadRequest, CodeUnexpectedContextIdentifier
	case errors.Is(err, model.ErrInvalidPayload):
		return http.StatusBadRequest, CodeInvalidPayload
	case errors.Is(err, overrides.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.As(err, &ve), errors.As(err, &verrs):
		return http.StatusBadRequest, CodeValidationFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeServiceError maps err and writes it. Internal errors are logged and
// their detail is withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	switch code {
	case CodeInternal:
		logging.FromContext(r.Context()).Error("request failed", "err", err)
		msg = "internal server error"
	case CodeMissingGlobal:
		logging.FromContext(r.Context()).Error("resolution without global configuration", "err", err)
	}
	writeError(w, status, code, msg)
}
