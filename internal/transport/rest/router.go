package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/cors"

	"github.com/danuarta/archive-management/internal/auth"
	"github.com/danuarta/archive-management/internal/cache"
	"github.com/danuarta/archive-management/internal/letter"
	"github.com/danuarta/archive-management/internal/transport/middleware"
	"github.com/danuarta/archive-management/internal/transport/swagger"
	"github.com/danuarta/archive-management/internal/user"
)

// RegisterAllRoutes mounts the full API surface under /api/v1.
func RegisterAllRoutes(router *chi.Mux, db *sql.DB, store *cache.Store, authHandler *auth.Handler, userHandler *user.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, store)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if authHandler != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/register", authHandler.Register)
				sr.Post("/login", authHandler.Login)
				sr.Post("/refresh", authHandler.RefreshToken)

				sr.Group(func(pr chi.Router) {
					pr.Use(authHandler.AuthMiddleware)
					pr.Post("/logout", authHandler.Logout)
					pr.Get("/session", authHandler.Session)
				})
			})
		}

		if authHandler == nil {
			return
		}

		// Everything below requires authentication
		r.Group(func(pr chi.Router) {
			pr.Use(authHandler.AuthMiddleware)

			if userHandler != nil {
				pr.Route("/users", func(ur chi.Router) {
					// Admin-only management surface
					ur.Group(func(ar chi.Router) {
						ar.Use(authHandler.RequireRole(user.RoleAdmin))
						ar.Post("/", userHandler.Create)
						ar.Get("/", userHandler.List)
						ar.Get("/stats", userHandler.Stats)
						ar.Get("/search", userHandler.Search)
						ar.Get("/{id}", userHandler.Get)
						ar.Patch("/{id}", userHandler.Update)
						ar.Patch("/{id}/toggle-active", userHandler.ToggleActive)
						ar.Delete("/{id}", userHandler.Delete)
					})

					// Users may rotate their own password; admins anyone's
					ur.Group(func(sr chi.Router) {
						sr.Use(authHandler.RequireSelfOrRole(user.RoleAdmin))
						sr.Patch("/{id}/password", userHandler.ChangePassword)
					})
				})
			}

			pr.Route("/incoming-letters", letter.NewIncomingHandler().RegisterRoutes)
			pr.Route("/outgoing-letters", letter.NewOutgoingHandler().RegisterRoutes)
			pr.Route("/dispositions", letter.NewDispositionHandler().RegisterRoutes)
		})
	})
}
