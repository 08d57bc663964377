package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/proposal-pulse/internal/auth"
)

// SetupRoutes configures the router.
//
// Three access tiers:
//   - token routes under /api/track: the tracking token is the credential
//   - proposal client routes: reachable by anyone holding the proposal link
//   - owner routes (analytics, deliveries): cookie session required
func SetupRoutes(h *Handlers, authManager *auth.Manager, limiter *RateLimiter, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Auth routes (no auth required)
	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	devMode := os.Getenv("DEV_MODE") == "true" || os.Getenv("ENVIRONMENT") == "development"

	r.Route("/api", func(r chi.Router) {
		// The pixel sits outside the limiter: it must answer 200 with a GIF
		// no matter what, and mail-client prefetch storms are expected.
		r.Get("/track/open/{token}", h.HandleOpenPixel)

		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.Middleware)
			}

			r.Post("/track/view/{token}", h.HandleDeliveryView)
			r.Post("/track/time/{token}", h.HandleTimeSpent)
			r.Post("/track/scroll/{token}", h.HandleScroll)

			r.Post("/proposals/{proposalID}/view", h.HandleProposalView)
			r.Post("/proposals/{proposalID}/events", h.HandleEngagementEvent)
			r.Post("/proposals/{proposalID}/signature", h.HandleSubmitSignature)
			r.Get("/proposals/{proposalID}/signature", h.HandleGetSignature)
		})

		// Owner surface
		r.Group(func(r chi.Router) {
			if authManager != nil && !devMode {
				r.Use(requireSession(authManager))
			}

			r.Get("/proposals/{proposalID}/analytics", h.HandleAnalytics)
			r.Post("/proposals/{proposalID}/deliveries", h.HandleCreateDelivery)
			r.Get("/proposals/{proposalID}/deliveries", h.HandleListDeliveries)
		})
	})

	return r
}

func requireSession(authManager *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			session := authManager.GetSession(req)
			if session == nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, req.WithContext(auth.WithSession(req.Context(), session)))
		})
	}
}
