/**
 * @description
 * This file sets up the HTTP router for the budget-approval-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies any necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BudgetRoutes creates and returns a new router for the budget approval service.
func BudgetRoutes(h *BudgetHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Request lifecycle endpoints.
		r.Post("/requests", h.CreateDraftHandler)
		r.Post("/requests/{requestID}/submit", h.SubmitHandler)
		r.Post("/requests/{requestID}/review", h.StartReviewHandler)
		r.Post("/requests/{requestID}/decision", h.DecideHandler)
		r.Post("/requests/{requestID}/lock", h.LockHandler)

		// Read endpoints.
		r.Get("/requests", h.ListMyRequestsHandler)
		r.Get("/requests/assigned", h.ListAssignedRequestsHandler)
		r.Get("/requests/{requestID}", h.GetRequestHandler)
		r.Get("/pools/{poolID}", h.GetPoolHandler)
	})

	return r
}
