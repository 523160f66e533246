/**
 * @description
 * This file sets up the HTTP router for the vault-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * any necessary middleware, such as for authentication.
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

// VaultRoutes creates and returns a new router for the vault service.
func VaultRoutes(h *VaultHandlers, signingSecret string) http.Handler {
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

	// Login is per registry and unauthenticated.
	r.Post("/auth/{registry}/login", h.LoginHandler)

	// Group routes that require an authenticated session.
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(signingSecret))

		r.Post("/auth/change-secret", h.ChangeSecretHandler)

		// Wallet endpoints
		r.Get("/wallet/balance", h.BalanceHandler)
		r.Get("/wallet/transactions", h.HistoryHandler)
		r.Post("/wallet/deposit", h.DepositHandler)
		r.Post("/wallet/withdraw", h.WithdrawHandler)
		r.Post("/wallet/refund", h.RefundHandler)

		// Payment endpoints
		r.Post("/payments/wallet", h.WalletPaymentHandler)
		r.Post("/payments/card", h.CardPaymentHandler)

		// Stored card management endpoints
		r.Get("/cards", h.ListCardsHandler)
		r.Post("/cards", h.AddCardHandler)
		r.Delete("/cards/{cardID}", h.RemoveCardHandler)
	})

	return r
}
