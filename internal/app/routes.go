package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
)

func (app *Application) Routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(app.notFoundResponse)
	r.MethodNotAllowed(app.methodNotAllowedResponse)

	r.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(r)))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(app.requestLogger)
	r.Use(app.recoverPanic)

	// LoadAndSave buffers the response, so the upgrade route reads the
	// session cookie itself.
	r.Get("/ws", app.ServeWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(app.sessionManager.LoadAndSave)
		r.Use(app.ensureGuestUserSession)

		r.Get("/v1/healthcheck", app.GetHealth)

		r.Route("/showtimes/{showtimeId}", func(r chi.Router) {
			r.Get("/inventory", app.withShowtimeID(app.GetShowtimeInventory))
			r.Post("/bookings", app.withShowtimeID(app.FinalizeBooking))
		})
	})

	return r
}
