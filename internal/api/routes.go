package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes returns the campaign API. The server mounts it under /api.
func Routes(h *CampaignHandler, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", UserHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/", h.HandleGet)
		r.Delete("/", h.HandleDelete)
		r.Post("/start", h.HandleStart)
		r.Post("/pause", h.HandlePause)
		r.Post("/resume", h.HandleResume)
	})
	return r
}
