package notifications

import (
	"github.com/go-chi/chi/v5"
)

// Router builds the notification HTTP surface.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/notifications", notifications.Router(notifications.Handlers{
//	    Engine:      eng,
//	    Preferences: resolver,
//	}))
func Router(h Handlers) chi.Router {
	r := chi.NewRouter()

	r.Post("/send", h.send)
	r.Post("/bulk", h.sendBulk)

	r.Route("/deliveries", func(d chi.Router) {
		d.Get("/", h.listDeliveries)
		d.Get("/{id}", h.getDelivery)
		d.Delete("/{id}", h.cancelDelivery)
	})

	if h.Preferences != nil {
		r.Route("/preferences/{userID}", func(p chi.Router) {
			p.Get("/", h.getPreferences)
			p.Put("/", h.updatePreferences)
		})
	}

	// Engagement tracking: the pixel and redirect are the source of
	// opened/clicked status updates.
	r.Route("/track", func(t chi.Router) {
		t.Get("/open/{id}.gif", h.trackOpen)
		t.Get("/click/{id}", h.trackClick)
	})

	return r
}
