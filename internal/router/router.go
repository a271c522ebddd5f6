package router

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/jurismatch/backend/internal/auth"
	"github.com/jurismatch/backend/internal/handlers"
	"github.com/jurismatch/backend/internal/middleware"
)

// New returns an http.Handler that serves the API under /api/v1.
func New(h *handlers.Handler, tokens middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	authn := middleware.Authenticate(tokens)
	lawyer := func(fn http.HandlerFunc) http.Handler {
		return authn(middleware.RequireRole(auth.RoleLawyer)(fn))
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return authn(middleware.RequireRole(auth.RoleAdmin)(fn))
	}

	mux.HandleFunc("GET /healthz", h.Healthz)

	mux.Handle("POST "+base+"/leads/{id}/accept", lawyer(h.AcceptLead))
	mux.Handle("GET "+base+"/leads/queue", lawyer(h.LeadQueue))

	mux.Handle("GET "+base+"/credits/balance", lawyer(h.Balance))
	mux.Handle("GET "+base+"/credits/transactions", lawyer(h.Transactions))
	mux.Handle("GET "+base+"/credits/stats", lawyer(h.Stats))
	mux.HandleFunc("GET "+base+"/credits/packages", h.Packages)

	mux.Handle("GET "+base+"/admin/leads/{id}/matches", admin(h.LeadMatches))
	mux.Handle("PUT "+base+"/admin/leads/{id}/matches", admin(h.TransitionMatch))
	mux.Handle("POST "+base+"/admin/leads/{id}/distribute", admin(h.DistributeLead))
	mux.Handle("POST "+base+"/admin/lawyers/{id}/credits", admin(h.AdjustCredits))

	// Authenticated by the Stripe-Signature header, not a bearer token.
	mux.HandleFunc("POST "+base+"/payments/stripe/webhook", h.StripeWebhook)

	return mux
}

// WithCORS wraps next with the browser CORS policy for origins.
func WithCORS(next http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(next)
}
