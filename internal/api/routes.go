package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sendquill/sendquill/internal/metrics"
	"github.com/sendquill/sendquill/internal/tracking"
)

// NewRouter mounts the JSON API under /api, the tracking endpoints at the
// root and Prometheus metrics at /metrics.
func NewRouter(h *Handlers, track *tracking.Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Tracking and health (no auth required)
	if track != nil {
		r.Get(tracking.OpenPath, track.HandleOpen)
		r.Get(tracking.ClickPath, track.HandleClick)
		r.Get("/health", track.HandleHealth)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/merge-tags", h.MergeTags)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Patch("/", h.UpdateCampaign)
				r.Delete("/", h.DeleteCampaign)
				r.Post("/schedule", h.ScheduleCampaign)
				r.Post("/unschedule", h.UnscheduleCampaign)
				r.Post("/send", h.SendCampaign)
				r.Post("/process", h.ProcessCampaign)
				r.Post("/resend", h.ResendFailed)
				r.Post("/recipients/{rid}/resend", h.ResendRecipient)
				r.Get("/stats", h.CampaignStats)
			})
		})

		r.Route("/lists", func(r chi.Router) {
			r.Get("/", h.ListLists)
			r.Post("/", h.CreateList)
			r.Get("/{id}/contacts", h.ListContacts)
			r.Post("/{id}/contacts", h.AddContacts)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
		})
	})

	return r
}
