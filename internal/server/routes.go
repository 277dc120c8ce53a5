package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/platewise/boardsync/internal/config"
	"github.com/platewise/boardsync/internal/feed"
	mw "github.com/platewise/boardsync/internal/middleware"
)

// NewRouter creates a Chi router with the gateway's routes wired up.
func NewRouter(cfg *config.Config, store OrderStore, hub *Hub) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/restaurants/{rid}/board", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication + restaurant scope)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/restaurants/{rid}", func(r chi.Router) {
			r.Use(mw.RequireRestaurant)

			orderHandler := NewOrderHandler(store)
			r.Route("/orders", orderHandler.RegisterRoutes)

			r.Get("/presence", presenceHandler(hub))
		})
	})

	return r
}

// presenceHandler serves GET /restaurants/{rid}/presence: who is
// currently viewing this restaurant's board.
func presenceHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
			return
		}

		records := hub.Presence(restaurantID)
		if records == nil {
			records = []feed.Presence{}
		}
		writeJSON(w, http.StatusOK, map[string][]feed.Presence{"viewers": records})
	}
}
