package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/pulsepoll/voteguard/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	TrustedProxies    []string
}

// DefaultVoteRateLimit returns the transport-level limit for the vote
// endpoints. This is a crude flood guard; the per-identity integrity
// rate limit lives in the dedup service.
func DefaultVoteRateLimit(trustedProxies []string) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		TrustedProxies:    trustedProxies,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	ipConfig := &pkghttp.IPConfig{TrustedProxies: config.TrustedProxies}

	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		}),
	)
}
