package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pulsepoll/voteguard/internal/models"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, models.Score(0), models.Clamp(-15))
	assert.Equal(t, models.Score(0), models.Clamp(0))
	assert.Equal(t, models.Score(42.5), models.Clamp(42.5))
	assert.Equal(t, models.Score(100), models.Clamp(100))
	assert.Equal(t, models.Score(100), models.Clamp(160))
}

func TestBandThresholds_BoundariesBandUpward(t *testing.T) {
	bands := models.DefaultBandThresholds()

	tests := []struct {
		score models.Score
		want  models.RiskLevel
	}{
		{0, models.RiskLow},
		{24.99, models.RiskLow},
		{25, models.RiskMedium},
		{49.99, models.RiskMedium},
		{50, models.RiskHigh},
		{79.99, models.RiskHigh},
		{80, models.RiskCritical},
		{100, models.RiskCritical},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, bands.Band(tc.score), "score %v", tc.score)
	}
}

func TestHarder(t *testing.T) {
	assert.True(t, models.Harder(models.ChallengeCaptcha, models.ChallengeNone))
	assert.True(t, models.Harder(models.ChallengeSMSVerify, models.ChallengeCaptcha))
	assert.True(t, models.Harder(models.ChallengeBlock, models.ChallengeSMSVerify))

	assert.False(t, models.Harder(models.ChallengeNone, models.ChallengeNone))
	assert.False(t, models.Harder(models.ChallengeCaptcha, models.ChallengeSMSVerify))
	// sms_verify and email_verify are peers, neither is harder.
	assert.False(t, models.Harder(models.ChallengeSMSVerify, models.ChallengeEmailVerify))
	assert.False(t, models.Harder(models.ChallengeEmailVerify, models.ChallengeSMSVerify))
}

func TestChallengeSessionTerminal(t *testing.T) {
	for state, terminal := range map[models.AttemptState]bool{
		models.StateAssessed:           false,
		models.StateChallengePending:   false,
		models.StateChallengeSatisfied: false,
		models.StateChallengeFailed:    false,
		models.StateCommitted:          true,
		models.StateBlocked:            true,
	} {
		session := &models.ChallengeSession{State: state}
		assert.Equal(t, terminal, session.Terminal(), "state %s", state)
	}
}
