package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the API router with the global middleware stack.
func NewRouter(h *TicketingHandler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger)                  // access log + latency histogram
	r.Use(CORS)                    // permissive CORS for browser clients

	r.Get("/health", HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Get("/{id}/availability", h.GetAvailability)
		r.Get("/{id}/attendees", h.ListAttendees)
		r.Post("/{id}/registrations", h.Register)
		r.Get("/{id}/registrations", h.ListRegistrations)
	})

	r.Route("/registrations", func(r chi.Router) {
		r.Get("/{id}", h.GetRegistration)
		r.Post("/{id}/confirm", h.ConfirmPayment)
		r.Post("/{id}/cancel", h.CancelRegistration)
		r.Get("/{id}/ticket", h.GetTicket)
	})

	return r
}
