package services

import (
	"fmt"
	"strings"

	"github.com/pulsepoll/voteguard/internal/ipintel"
	"github.com/pulsepoll/voteguard/internal/models"
)

// Score increments for the individual sub-checks. The sub-scores are
// additive deltas; the weighted total is clamped to [0,100].
const (
	deltaUnverifiedBoth   = 60
	deltaUnverifiedOne    = 30
	deltaImplausiblyFast  = 40
	deltaSignalMismatch   = 20
	deltaVPN              = 20
	deltaProxy            = 20
	deltaDatacenter       = 25
	deltaTorExit          = 35
	deltaGeoMismatch      = 10
	deltaIPLookupFailed   = 15
	deltaReputationFlag   = 20
	maxBehavioralSubScore = deltaImplausiblyFast + deltaSignalMismatch
	maxReputationSubScore = 60

	// fastVoteFloorMs is the page-load-to-vote floor below which, with
	// zero mouse movement, the interaction is implausible for a human.
	fastVoteFloorMs = 800
)

// ProbeResult is the outcome of a read-only dedup or rate-limit probe.
type ProbeResult struct {
	Exceeded    bool
	Unavailable bool
}

// AssessmentInput bundles everything the engine needs for one verdict.
// All fields are plain data: Assess is a pure function of this input.
type AssessmentInput struct {
	Fingerprint    *models.DeviceFingerprint
	Behavior       *models.BehavioralSignals
	IPIntel        *ipintel.Intel
	IPLookupFailed bool
	// Verification is nil for anonymous attempts, which score as
	// fully unverified.
	Verification   *models.VerificationState
	ProfileCountry string
	// ReputationFlags counts prior fraud flags on this identity hash,
	// supplied by the external reputation service.
	ReputationFlags int

	RateProbe  ProbeResult
	DedupProbe ProbeResult
}

// RiskWeights scale each sub-score before summation. Defaults of 1.0
// preserve the raw increments.
type RiskWeights struct {
	Verification float64
	Behavioral   float64
	IP           float64
	History      float64
}

func DefaultRiskWeights() RiskWeights {
	return RiskWeights{Verification: 1, Behavioral: 1, IP: 1, History: 1}
}

// RiskService computes risk assessments. It holds only configuration;
// Assess never reads the clock, randomness or any store, so identical
// inputs always produce identical assessments.
type RiskService struct {
	bands   models.BandThresholds
	weights RiskWeights
}

func NewRiskService(bands models.BandThresholds, weights RiskWeights) *RiskService {
	return &RiskService{bands: bands, weights: weights}
}

// Assess produces the verdict for one vote attempt. Hard gates (rate
// limit, duplicate vote, store outage) force a block regardless of the
// weighted score; they are not weighted inputs.
func (s *RiskService) Assess(input AssessmentInput) *models.RiskAssessment {
	// Store outage short-circuits: "can't check duplicates" is never
	// treated as "not a duplicate".
	if input.RateProbe.Unavailable || input.DedupProbe.Unavailable {
		return blocked(models.BlockReasonIntegrityUnavail, nil)
	}
	if input.RateProbe.Exceeded {
		return blocked(models.BlockReasonRateLimited, nil)
	}
	if input.DedupProbe.Exceeded {
		return blocked(models.BlockReasonDuplicateVote, nil)
	}

	verificationScore, verificationFactors := scoreVerification(input.Verification)
	behavioralScore, behavioralFactors := scoreBehavior(input.Fingerprint, input.Behavior)
	ipScore, ipFactors := scoreIP(input.IPIntel, input.IPLookupFailed, input.ProfileCountry)
	historyScore, historyFactors := scoreHistory(input.ReputationFlags)

	total := s.weights.Verification*verificationScore +
		s.weights.Behavioral*behavioralScore +
		s.weights.IP*ipScore +
		s.weights.History*historyScore

	score := models.Clamp(total)
	level := s.bands.Band(score)

	factors := make([]models.RiskFactor, 0,
		len(verificationFactors)+len(behavioralFactors)+len(ipFactors)+len(historyFactors))
	factors = append(factors, verificationFactors...)
	factors = append(factors, behavioralFactors...)
	factors = append(factors, ipFactors...)
	factors = append(factors, historyFactors...)

	assessment := &models.RiskAssessment{
		RiskScore: score,
		RiskLevel: level,
		Factors:   factors,
	}

	switch level {
	case models.RiskLow:
		assessment.RequiredChallenge = models.ChallengeNone
		assessment.AllowVote = true
	case models.RiskMedium:
		assessment.RequiredChallenge = models.ChallengeCaptcha
		assessment.AllowVote = true
	case models.RiskHigh:
		assessment.RequiredChallenge = models.ChallengeSMSVerify
		assessment.AllowVote = true
		// A phone-verified voter flagged purely on behavioral signals
		// gets a captcha instead of re-proving a phone they already
		// proved.
		if input.Verification != nil && input.Verification.PhoneVerified &&
			behavioralOnly(verificationScore, behavioralScore, ipScore, historyScore) {
			assessment.RequiredChallenge = models.ChallengeCaptcha
		}
	case models.RiskCritical:
		assessment.RequiredChallenge = models.ChallengeBlock
		assessment.AllowVote = false
		assessment.BlockReason = models.BlockReasonCriticalRisk
	}

	return assessment
}

func blocked(reason string, factors []models.RiskFactor) *models.RiskAssessment {
	return &models.RiskAssessment{
		RiskScore:         100,
		RiskLevel:         models.RiskCritical,
		RequiredChallenge: models.ChallengeBlock,
		AllowVote:         false,
		BlockReason:       reason,
		Factors:           factors,
	}
}

func behavioralOnly(verification, behavioral, ip, history float64) bool {
	return behavioral > 0 && verification == 0 && ip == 0 && history == 0
}

func scoreVerification(state *models.VerificationState) (float64, []models.RiskFactor) {
	if state == nil {
		return deltaUnverifiedBoth, []models.RiskFactor{{
			Name:        "anonymous_voter",
			Description: "No authenticated account for this attempt",
			ScoreDelta:  deltaUnverifiedBoth,
		}}
	}

	switch {
	case state.EmailVerified && state.PhoneVerified:
		return 0, nil
	case state.EmailVerified || state.PhoneVerified:
		return deltaUnverifiedOne, []models.RiskFactor{{
			Name:        "partially_verified",
			Description: "Only one of email/phone is verified",
			ScoreDelta:  deltaUnverifiedOne,
		}}
	default:
		return deltaUnverifiedBoth, []models.RiskFactor{{
			Name:        "unverified_account",
			Description: "Neither email nor phone is verified",
			ScoreDelta:  deltaUnverifiedBoth,
		}}
	}
}

func scoreBehavior(fp *models.DeviceFingerprint, b *models.BehavioralSignals) (float64, []models.RiskFactor) {
	// Missing or malformed signal payloads contribute the maximal
	// behavioral score. Degrading instead of rejecting keeps the
	// checked fields opaque to bots.
	if fp == nil || b == nil {
		return maxBehavioralSubScore, []models.RiskFactor{{
			Name:        "signals_missing",
			Description: "Fingerprint or behavioral payload absent",
			ScoreDelta:  maxBehavioralSubScore,
		}}
	}
	if findings := fp.Validate(); len(findings) > 0 {
		return maxBehavioralSubScore, []models.RiskFactor{{
			Name:        "fingerprint_malformed",
			Description: fmt.Sprintf("%d fingerprint fields failed validation", len(findings)),
			ScoreDelta:  maxBehavioralSubScore,
		}}
	}
	if findings := b.Validate(); len(findings) > 0 {
		return maxBehavioralSubScore, []models.RiskFactor{{
			Name:        "behavior_malformed",
			Description: fmt.Sprintf("%d behavioral fields failed validation", len(findings)),
			ScoreDelta:  maxBehavioralSubScore,
		}}
	}

	var score float64
	var factors []models.RiskFactor

	if b.PageLoadToVoteMs < fastVoteFloorMs && b.MouseMoves == 0 {
		score += deltaImplausiblyFast
		factors = append(factors, models.RiskFactor{
			Name:        "implausibly_fast",
			Description: fmt.Sprintf("Voted %dms after page load with no mouse movement", b.PageLoadToVoteMs),
			ScoreDelta:  deltaImplausiblyFast,
		})
	}

	if touchMismatch(fp, b) {
		score += deltaSignalMismatch
		factors = append(factors, models.RiskFactor{
			Name:        "signal_mismatch",
			Description: "Touch capability contradicts user-agent platform",
			ScoreDelta:  deltaSignalMismatch,
		})
	}

	return score, factors
}

// touchMismatch flags a touch-device claim paired with a desktop
// user-agent, or the reverse.
func touchMismatch(fp *models.DeviceFingerprint, b *models.BehavioralSignals) bool {
	ua := strings.ToLower(fp.UserAgent)
	mobileUA := strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad")
	desktopUA := strings.Contains(ua, "windows nt") || strings.Contains(ua, "macintosh") ||
		strings.Contains(ua, "x11;")

	if b.TouchDevice && desktopUA && !mobileUA {
		return true
	}
	if !b.TouchDevice && mobileUA {
		return true
	}
	return false
}

func scoreIP(intel *ipintel.Intel, lookupFailed bool, profileCountry string) (float64, []models.RiskFactor) {
	if lookupFailed || intel == nil {
		// A failed reputation lookup is conservative, not fatal: the
		// IP sub-score elevates but the assessment proceeds.
		return deltaIPLookupFailed, []models.RiskFactor{{
			Name:        "ip_intel_unavailable",
			Description: "IP reputation lookup failed",
			ScoreDelta:  deltaIPLookupFailed,
		}}
	}

	var score float64
	var factors []models.RiskFactor
	add := func(name, desc string, delta float64) {
		score += delta
		factors = append(factors, models.RiskFactor{Name: name, Description: desc, ScoreDelta: delta})
	}

	if intel.IsTorExit {
		add("tor_exit", "Request originated from a Tor exit node", deltaTorExit)
	}
	if intel.IsVPN {
		add("vpn", "Request originated from a known VPN range", deltaVPN)
	}
	if intel.IsProxy {
		add("proxy", "Request originated from an open proxy", deltaProxy)
	}
	if intel.IsDatacenter {
		add("datacenter", "Request originated from a datacenter range", deltaDatacenter)
	}
	if profileCountry != "" && intel.Country != "" &&
		!strings.EqualFold(profileCountry, intel.Country) {
		add("geo_mismatch",
			fmt.Sprintf("IP country (%s) does not match profile country (%s)", intel.Country, profileCountry),
			deltaGeoMismatch)
	}

	if score > 100 {
		score = 100
	}
	return score, factors
}

func scoreHistory(reputationFlags int) (float64, []models.RiskFactor) {
	if reputationFlags <= 0 {
		return 0, nil
	}

	score := float64(reputationFlags) * deltaReputationFlag
	if score > maxReputationSubScore {
		score = maxReputationSubScore
	}
	return score, []models.RiskFactor{{
		Name:        "prior_fraud_flags",
		Description: fmt.Sprintf("Identity hash carries %d prior fraud flags", reputationFlags),
		ScoreDelta:  score,
	}}
}
