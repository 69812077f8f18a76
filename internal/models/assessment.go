package models

// RiskLevel is a discrete banding of the continuous risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Challenge is the verification step required before a vote may commit.
type Challenge string

const (
	ChallengeNone        Challenge = "none"
	ChallengeCaptcha     Challenge = "captcha"
	ChallengeSMSVerify   Challenge = "sms_verify"
	ChallengeEmailVerify Challenge = "email_verify"
	ChallengeBlock       Challenge = "block"
)

// Block reasons surfaced in RiskAssessment.BlockReason.
const (
	BlockReasonRateLimited        = "rate_limited"
	BlockReasonDuplicateVote      = "duplicate_vote"
	BlockReasonCriticalRisk       = "critical_risk"
	BlockReasonIntegrityUnavail   = "integrity_check_unavailable"
	BlockReasonChallengeExhausted = "challenge_retries_exhausted"
)

// RiskFactor is one contribution to the weighted score, kept for audit
// logging and operator review. Descriptions never contain raw PII.
type RiskFactor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ScoreDelta  float64 `json:"score_delta"`
}

// RiskAssessment is the engine's verdict on a single vote attempt.
// It is a pure computed value: never stored, recomputed on every
// attempt including retries after a challenge is satisfied.
type RiskAssessment struct {
	RiskScore         Score        `json:"risk_score"`
	RiskLevel         RiskLevel    `json:"risk_level"`
	RequiredChallenge Challenge    `json:"required_challenge"`
	AllowVote         bool         `json:"allow_vote"`
	BlockReason       string       `json:"block_reason,omitempty"`
	Factors           []RiskFactor `json:"factors,omitempty"`
}

// Score is a clamped risk score in [0,100].
type Score float64

// Clamp bounds a raw weighted sum to the score range.
func Clamp(v float64) Score {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return Score(v)
}

// BandThresholds are the inclusive lower bounds of the medium, high and
// critical bands. Boundary values band upward (the more suspicious
// direction).
type BandThresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// DefaultBandThresholds match the banding: low <25, medium <50,
// high <80, critical >=80.
func DefaultBandThresholds() BandThresholds {
	return BandThresholds{Medium: 25, High: 50, Critical: 80}
}

// Band maps a score onto its risk level.
func (t BandThresholds) Band(s Score) RiskLevel {
	switch {
	case float64(s) >= t.Critical:
		return RiskCritical
	case float64(s) >= t.High:
		return RiskHigh
	case float64(s) >= t.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}
