package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/metinatakli/seat-hold-coordinator/api"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

func (app *Application) GetShowtimeInventory(w http.ResponseWriter, r *http.Request, showtimeId int) {
	if showtimeId < 1 {
		app.badRequestResponse(w, r, fmt.Errorf("showtime ID must be greater than zero"))
		return
	}

	units, err := app.coordinator.Snapshot(r.Context(), showtimeId)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrShowtimeNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	resp := api.InventoryResponse{
		ShowtimeId: showtimeId,
		Units:      toApiInventoryUnits(units),
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func toApiInventoryUnits(units []domain.Unit) []api.InventoryUnit {
	out := make([]api.InventoryUnit, len(units))
	for i, u := range units {
		out[i] = api.InventoryUnit{
			Id:       u.ID,
			Kind:     string(u.Kind),
			Category: string(u.Category),
			Price:    u.Price,
			Status:   string(u.Status),
			Version:  u.Version,
		}
	}

	return out
}
