package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/seat-hold-coordinator/api"
	appvalidator "github.com/metinatakli/seat-hold-coordinator/internal/validator"
)

const (
	ErrInternalServer    = "The server encountered a problem and could not process your request"
	ErrNotFound          = "The requested resource not found"
	ErrForeignOwnerToken = "The owner token does not belong to your session"
	ErrSessionRequired   = "A session cookie is required, request any other resource first"
	ErrBookingNotStored  = "The booking could not be stored, your units were released. Please try again"
)

func (app *Application) logError(r *http.Request, err error) {
	app.contextGetLogger(r).Error(err.Error())
}

// The errorResponse() method is a generic helper for sending JSON-formatted error
// messages to the client with a given status code.
func (app *Application) errorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	resp := api.ErrorResponse{
		Message:   message,
		RequestId: middleware.GetReqID(r.Context()),
		Timestamp: time.Now(),
	}

	app.respond(w, r, status, resp)
}

func (app *Application) respond(w http.ResponseWriter, r *http.Request, status int, resp any) {
	err := app.writeJSON(w, status, resp, nil)
	if err != nil {
		app.logError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (app *Application) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logError(r, err)

	app.errorResponse(w, r, http.StatusInternalServerError, ErrInternalServer)
}

func (app *Application) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusNotFound, ErrNotFound)
}

func (app *Application) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	message := "The " + r.Method + " method is not supported for this resource"
	app.errorResponse(w, r, http.StatusMethodNotAllowed, message)
}

func (app *Application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func (app *Application) sessionRequiredResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusUnauthorized, ErrSessionRequired)
}

func (app *Application) forbiddenResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusForbidden, ErrForeignOwnerToken)
}

func (app *Application) editConflictResponseWithErr(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusConflict, err.Error())
}

func (app *Application) selectionExpiredResponse(w http.ResponseWriter, r *http.Request, err error, unitIDs []string) {
	resp := api.SelectionExpiredResponse{
		Message:       err.Error(),
		RequestId:     middleware.GetReqID(r.Context()),
		Timestamp:     time.Now(),
		FailedUnitIds: unitIDs,
	}

	app.respond(w, r, http.StatusConflict, resp)
}

func (app *Application) serviceUnavailableResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logError(r, err)

	app.errorResponse(w, r, http.StatusServiceUnavailable, ErrBookingNotStored)
}

func (app *Application) failedValidationResponse(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		app.badRequestResponse(w, r, err)
		return
	}

	resp := api.ValidationErrorResponse{
		Message:          "One or more fields have invalid values",
		RequestId:        middleware.GetReqID(r.Context()),
		Timestamp:        time.Now(),
		ValidationErrors: toApiValidationErrors(validationErrors),
	}

	app.respond(w, r, http.StatusUnprocessableEntity, resp)
}

func toApiValidationErrors(errs validator.ValidationErrors) []api.ValidationError {
	out := make([]api.ValidationError, len(errs))
	for i, fe := range errs {
		out[i] = api.ValidationError{
			Field: fe.Field(),
			Issue: appvalidator.ValidationMessage(fe),
		}
	}

	return out
}
