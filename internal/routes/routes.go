package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/pulsepoll/voteguard/internal/handlers"
	"github.com/pulsepoll/voteguard/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	voteHandler *handlers.VoteHandler,
	accountHandler *handlers.AccountHandler,
	pollHandler *handlers.PollHandler,
	trustedProxies []string,
) {
	// Transport-level flood guard for the vote pipeline; the
	// per-identity integrity rate limit is enforced inside assessment.
	rateLimitConfig := middleware.DefaultVoteRateLimit(trustedProxies)

	router.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))

			r.Post("/votes/assess", voteHandler.Assess)
			r.Post("/votes/challenge", voteHandler.Challenge)
			r.Post("/votes/challenge/resend", voteHandler.ResendCode)
			r.Post("/votes/commit", voteHandler.Commit)

			r.Post("/accounts", accountHandler.Register)
		})

		r.Get("/accounts/{id}/verification", accountHandler.VerificationStatus)
		r.Get("/polls/{id}/tally", pollHandler.Tally)
	})
}
