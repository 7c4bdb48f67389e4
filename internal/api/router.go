package api

import (
	"net/http"

	"github.com/fastprodman/gameledger/internal/services/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter registers every endpoint on a chi router.
func NewRouter(d Deps) http.Handler {
	h := NewHandler(d)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	// X-Forwarded-For and X-Real-IP are client-controlled unless a proxy in
	// front of the api overwrites them.
	if d.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Device-Fingerprint"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Get("/balance", h.GetBalance)
		r.Get("/balance/history", h.GetHistory)
		r.With(h.RateLimit(ratelimit.EndpointBalanceSync)).Post("/balance/sync", h.SyncBalance)

		r.With(h.RateLimit(ratelimit.EndpointCreateSession)).Post("/sessions", h.CreateSession)
		r.With(h.RateLimit(ratelimit.EndpointSubmitScore)).Post("/scores", h.SubmitScore)
		r.With(h.RateLimit(ratelimit.EndpointEnterCompetition)).Post("/competitions/{competitionId}/entries", h.EnterCompetition)
		r.With(h.RateLimit(ratelimit.EndpointDailyBonus)).Post("/bonus/daily", h.ClaimDailyBonus)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Use(h.RateLimit(ratelimit.EndpointAdmin))

			r.Get("/users/{userId}/reconcile", h.Reconcile)
			r.Post("/users/{userId}/adjustments", h.AdjustBalance)
			r.Post("/users/{userId}/refunds", h.RefundEntry)
			r.Post("/competitions/{competitionId}/settle", h.Settle)
		})
	})

	return r
}
