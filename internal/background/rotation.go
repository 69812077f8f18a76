package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/repositories"
	"github.com/pulsepoll/voteguard/pkg/crypto"
	"github.com/pulsepoll/voteguard/pkg/logger"
)

const rotationBatchSize = 200

// Alerter is the subset of the alert service the rotator needs.
type Alerter interface {
	RotationStalled(ctx context.Context, targetVersion int, cause error)
}

// RotationManager re-encrypts stored PII envelopes under the standby
// key in batches, resuming from a persisted cursor. Lookup hashes are
// untouched throughout, so equality search keeps working mid-rotation,
// and re-running a completed rotation is a no-op.
type RotationManager struct {
	accountRepo   *repositories.AccountRepository
	activeKey     []byte
	standbyKey    []byte
	targetVersion int
	audit         *logger.AuditLogger
	alerts        Alerter
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
}

// NewRotationManager creates a new rotation manager
func NewRotationManager(
	accountRepo *repositories.AccountRepository,
	activeKey, standbyKey []byte,
	targetVersion int,
	audit *logger.AuditLogger,
	alerts Alerter,
	log *slog.Logger,
	interval time.Duration,
) *RotationManager {
	return &RotationManager{
		accountRepo:   accountRepo,
		activeKey:     activeKey,
		standbyKey:    standbyKey,
		targetVersion: targetVersion,
		audit:         audit,
		alerts:        alerts,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins periodic rotation passes
func (rm *RotationManager) Start(ctx context.Context) {
	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	rm.runPass(ctx)

	for {
		select {
		case <-ticker.C:
			rm.runPass(ctx)
		case <-rm.stopCh:
			rm.logger.Info("rotation manager stopped")
			return
		case <-ctx.Done():
			rm.logger.Info("rotation manager context cancelled")
			return
		}
	}
}

// RunOnce executes a single rotation pass and returns. Operational
// tooling uses this to drive rotation outside the periodic loop.
func (rm *RotationManager) RunOnce(ctx context.Context) {
	rm.runPass(ctx)
}

// runPass rotates batches until the table is exhausted or an error
// stops progress. The cursor is persisted after every batch, so a
// crashed pass resumes where it left off.
func (rm *RotationManager) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cursor, err := rm.accountRepo.RotationCursor(passCtx, rm.targetVersion)
	if err != nil {
		rm.alerts.RotationStalled(passCtx, rm.targetVersion, err)
		return
	}

	rotated := 0
	for {
		batch, err := rm.accountRepo.ListForRotation(passCtx, rm.targetVersion, cursor, rotationBatchSize)
		if err != nil {
			rm.alerts.RotationStalled(passCtx, rm.targetVersion, err)
			return
		}
		if len(batch.Accounts) == 0 {
			break
		}

		for _, account := range batch.Accounts {
			if err := rm.rotateAccount(passCtx, account); err != nil {
				rm.alerts.RotationStalled(passCtx, rm.targetVersion, err)
				return
			}
			rotated++
		}

		cursor = batch.LastID
		if err := rm.accountRepo.SaveRotationCursor(passCtx, rm.targetVersion, cursor, false); err != nil {
			rm.alerts.RotationStalled(passCtx, rm.targetVersion, err)
			return
		}
	}

	if err := rm.accountRepo.SaveRotationCursor(passCtx, rm.targetVersion, cursor, true); err != nil {
		rm.alerts.RotationStalled(passCtx, rm.targetVersion, err)
		return
	}

	rm.audit.LogKeyRotation(rm.targetVersion, rotated, true)
	if rotated > 0 {
		rm.logger.Info("key rotation pass completed",
			slog.Int("accounts_rotated", rotated),
			slog.Int("target_version", rm.targetVersion))
	}
}

func (rm *RotationManager) rotateAccount(ctx context.Context, account *models.Account) error {
	email, err := crypto.RotateEnvelope(account.Email.Envelope, rm.activeKey, rm.standbyKey)
	if err != nil {
		return err
	}

	var phone []byte
	if len(account.Phone.Envelope) > 0 {
		phone, err = crypto.RotateEnvelope(account.Phone.Envelope, rm.activeKey, rm.standbyKey)
		if err != nil {
			return err
		}
	}

	return rm.accountRepo.UpdateEnvelopes(ctx, account.ID, email, phone, rm.targetVersion)
}

// Stop signals the rotation manager to stop
func (rm *RotationManager) Stop() {
	close(rm.stopCh)
}
