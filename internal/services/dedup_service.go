package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsepoll/voteguard/internal/config"
	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/store"
	"github.com/pulsepoll/voteguard/pkg/crypto"
)

// DedupService owns the TTL-store keyspace for vote deduplication and
// per-IP rate limiting. Keys only ever hold hashes; raw identifiers,
// fingerprints and IPs never reach the store.
type DedupService struct {
	store  store.TTLStore
	config config.IntegrityConfig
	logger *slog.Logger
}

func NewDedupService(ttlStore store.TTLStore, cfg config.IntegrityConfig, logger *slog.Logger) *DedupService {
	return &DedupService{
		store:  ttlStore,
		config: cfg,
		logger: logger,
	}
}

// Identity resolves the dedup identity hash for an attempt. An
// authenticated account always wins; anonymous attempts fall back to
// the device fingerprint, optionally combined with the IP hash.
func (s *DedupService) Identity(accountID string, fp *models.DeviceFingerprint, clientIP string) string {
	if accountID != "" {
		return crypto.HashIdentifier("account:"+accountID, s.config.HashSecret)
	}

	canonical := ""
	if fp != nil {
		canonical = fp.CanonicalString()
	}
	fpHash := crypto.HashIdentifier("fingerprint:"+canonical, s.config.HashSecret)

	if s.config.IdentityFallback == config.FallbackFingerprintIP {
		ipHash := crypto.HashIdentifier("ip:"+clientIP, s.config.HashSecret)
		return crypto.HashIdentifier(fpHash+":"+ipHash, s.config.HashSecret)
	}
	return fpHash
}

// IPHash returns the keyed hash of a client IP for rate-limit keys.
func (s *DedupService) IPHash(clientIP string) string {
	return crypto.HashIdentifier("ip:"+clientIP, s.config.HashSecret)
}

func rateLimitKey(ipHash string) string {
	return "rate_limit:vote:" + ipHash
}

func dedupKey(pollID, identityHash string) string {
	return fmt.Sprintf("vote_check:%s:%s", pollID, identityHash)
}

// RecordAttempt counts this attempt against the per-IP window and
// reports whether the cap is now exceeded. The window TTL is fixed when
// the counter is created; attempts inside the window never extend it.
func (s *DedupService) RecordAttempt(ctx context.Context, ipHash string) (ProbeResult, error) {
	count, err := s.store.IncrementWithTTL(ctx, rateLimitKey(ipHash), s.config.RateLimitWindow)
	if err != nil {
		s.logger.Error("rate limit counter unavailable", slog.Any("error", err))
		return ProbeResult{Unavailable: true}, err
	}
	return ProbeResult{Exceeded: count > int64(s.config.RateLimitCap)}, nil
}

// ProbeDuplicate is the read-only dedup check used during assessment.
// It never claims the marker; only CommitMarker does that.
func (s *DedupService) ProbeDuplicate(ctx context.Context, pollID, identityHash string) (ProbeResult, error) {
	exists, err := s.store.Exists(ctx, dedupKey(pollID, identityHash))
	if err != nil {
		s.logger.Error("dedup probe unavailable", slog.Any("error", err))
		return ProbeResult{Unavailable: true}, err
	}
	return ProbeResult{Exceeded: exists}, nil
}

// CommitMarker atomically claims the dedup marker for this (poll,
// identity) pair. Returns ErrDuplicateVote if another attempt claimed
// it first, ErrStoreUnavailable if the claim could not be attempted.
func (s *DedupService) CommitMarker(ctx context.Context, pollID, identityHash string, window *models.PollWindow, now time.Time) error {
	claimed, err := s.store.SetIfAbsentWithTTL(ctx, dedupKey(pollID, identityHash), s.markerTTL(window, now))
	if err != nil {
		s.logger.Error("dedup marker claim unavailable", slog.Any("error", err))
		return err
	}
	if !claimed {
		return models.ErrDuplicateVote
	}
	return nil
}

// ReleaseMarker is the compensating delete used when the tally write
// fails after the marker was claimed.
func (s *DedupService) ReleaseMarker(ctx context.Context, pollID, identityHash string) error {
	if err := s.store.Delete(ctx, dedupKey(pollID, identityHash)); err != nil {
		// A failed compensation leaves a stale marker that expires on its
		// own TTL. Logged for operators; the voter sees the tally error.
		s.logger.Error("dedup marker release failed",
			slog.String("poll_id", pollID),
			slog.Any("error", err))
		return err
	}
	return nil
}

const reputationFlagTTL = 30 * 24 * time.Hour

func reputationKey(identityHash string) string {
	return "fraud_flags:" + identityHash
}

// FlagIdentity records a fraud flag against an identity hash, e.g.
// after a challenge retry budget is exhausted. Flags age out on their
// own TTL.
func (s *DedupService) FlagIdentity(ctx context.Context, identityHash string) {
	if _, err := s.store.IncrementWithTTL(ctx, reputationKey(identityHash), reputationFlagTTL); err != nil {
		s.logger.Error("failed to record fraud flag", slog.Any("error", err))
	}
}

// ReputationFlags reads the current fraud-flag count for an identity
// hash. A store failure degrades to zero flags; the hard gates already
// cover the unavailable-store case.
func (s *DedupService) ReputationFlags(ctx context.Context, identityHash string) int {
	count, err := s.store.GetCounter(ctx, reputationKey(identityHash))
	if err != nil {
		return 0
	}
	return int(count)
}

// markerTTL covers the poll's remaining lifetime so a marker cannot
// expire while its poll is still open, capped so an effectively
// unbounded poll cannot pin store memory forever.
func (s *DedupService) markerTTL(window *models.PollWindow, now time.Time) time.Duration {
	ttl := s.config.DedupTTL
	if window != nil {
		if remaining := window.ClosesAt.Sub(now); remaining > ttl {
			ttl = remaining
		}
	}
	if ttl > s.config.DedupTTLMax {
		ttl = s.config.DedupTTLMax
	}
	return ttl
}
