package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check — public, no auth required
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Audio artifacts — public so <audio> elements can stream without headers
		r.Get("/audio/{ritualId}/{filename}", h.ServeAudio)

		// Everything else is protected by API key auth when a key is configured
		r.Group(func(r chi.Router) {
			if cfg.BackendAPIKey != "" {
				r.Use(APIKeyAuth(cfg.BackendAPIKey))
			}

			// Rituals
			r.Get("/rituals", h.ListRituals)
			r.Post("/rituals", h.CreateRitual)
			r.Get("/rituals/{id}", h.GetRitual)
			r.Put("/rituals/{id}", h.UpdateRitual)
			r.Delete("/rituals/{id}", h.DeleteRitual)

			// Script generation
			r.Post("/generate/ritual", h.GenerateRitual)

			// TTS
			r.Post("/tts/synthesize", h.Synthesize)
			r.Get("/tts/voices", h.ListVoices)
			r.Get("/tts/voices/{provider}", h.ListProviderVoices)
			r.Post("/tts/generate-ritual-audio", h.GenerateRitualAudio)
			r.Get("/tts/audio-status/{ritualId}", h.GetAudioStatus)
		})
	})

	return r
}
