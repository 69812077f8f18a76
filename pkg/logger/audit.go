package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents one integrity audit event. Identity fields are
// always hashes; raw IPs, fingerprints and PII never enter the audit
// stream.
type AuditEvent struct {
	EventType    string
	PollID       string
	AttemptID    string
	IdentityHash string
	RiskScore    float64
	RiskLevel    string
	Challenge    string
	Allowed      bool
	BlockReason  string
	Metadata     map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAssessment records the verdict for one vote attempt.
func (al *AuditLogger) LogAssessment(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "assessment"),
		slog.String("poll_id", event.PollID),
		slog.String("attempt_id", event.AttemptID),
		slog.String("identity_hash", event.IdentityHash),
		slog.Float64("risk_score", event.RiskScore),
		slog.String("risk_level", event.RiskLevel),
		slog.String("required_challenge", event.Challenge),
		slog.Bool("allow_vote", event.Allowed),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if event.BlockReason != "" {
		attrs = append(attrs, slog.String("block_reason", event.BlockReason))
	}

	level := slog.LevelInfo
	if !event.Allowed {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogChallengeTransition records a challenge state machine transition.
func (al *AuditLogger) LogChallengeTransition(attemptID, fromState, toState, challenge string) {
	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit",
		slog.String("audit_type", "challenge"),
		slog.String("attempt_id", attemptID),
		slog.String("from_state", fromState),
		slog.String("to_state", toState),
		slog.String("challenge", challenge),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// LogCommit records a committed or rejected tally write.
func (al *AuditLogger) LogCommit(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "commit"),
		slog.String("poll_id", event.PollID),
		slog.String("attempt_id", event.AttemptID),
		slog.String("identity_hash", event.IdentityHash),
		slog.Bool("success", event.Allowed),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if event.BlockReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.BlockReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Allowed {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogKeyRotation records key rotation progress.
func (al *AuditLogger) LogKeyRotation(targetVersion, rotated int, done bool) {
	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit",
		slog.String("audit_type", "key_rotation"),
		slog.Int("target_version", targetVersion),
		slog.Int("accounts_rotated", rotated),
		slog.Bool("completed", done),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}
