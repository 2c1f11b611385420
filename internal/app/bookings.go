package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/metinatakli/seat-hold-coordinator/api"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

// FinalizeBooking turns the caller's held units into a durable booking.
func (app *Application) FinalizeBooking(w http.ResponseWriter, r *http.Request, showtimeId int) {
	if showtimeId < 1 {
		app.badRequestResponse(w, r, fmt.Errorf("showtime ID must be greater than zero"))
		return
	}

	var input api.FinalizeBookingRequest
	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.validator.Struct(input)
	if err != nil {
		app.failedValidationResponse(w, r, err)
		return
	}

	logger := app.contextGetLogger(r).With("showtime_id", showtimeId, "owner_token", input.OwnerToken)

	// A disconnected owner has no holds left, so Finalize reports every unit
	// as failed for it. Only a live connection needs the session check.
	conn, ok := app.coordinator.Connection(input.OwnerToken)
	if ok && conn.SessionID() != app.sessionManager.Token(r.Context()) {
		logger.Warn("owner token used from another session")
		app.forbiddenResponse(w, r)
		return
	}

	receipt, err := app.coordinator.Finalize(r.Context(), showtimeId, input.OwnerToken, input.UnitIds)
	if err != nil {
		var finalizeErr *domain.FinalizeError
		var writeErr *domain.ExternalWriteError

		switch {
		case errors.As(err, &finalizeErr):
			app.selectionExpiredResponse(w, r, err, finalizeErr.Units)
		case errors.Is(err, domain.ErrUnitAlreadyBooked):
			app.editConflictResponseWithErr(w, r, domain.ErrUnitAlreadyBooked)
		case errors.As(err, &writeErr):
			app.serviceUnavailableResponse(w, r, err)
		case errors.Is(err, domain.ErrShowtimeNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, domain.ErrEmptySelection):
			app.badRequestResponse(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	logger.Info("booking finalized", "booking_id", receipt.BookingID, "reference", receipt.Reference)

	resp := api.BookingResponse{
		Booking: api.Booking{
			Id:         receipt.BookingID,
			Reference:  receipt.Reference,
			ShowtimeId: receipt.ShowtimeID,
			UnitIds:    receipt.UnitIDs,
			TotalPrice: receipt.TotalPrice,
			CreatedAt:  receipt.CreatedAt,
		},
	}

	err = app.writeJSON(w, http.StatusCreated, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
