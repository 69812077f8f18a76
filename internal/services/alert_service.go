package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AlertService notifies operators of integrity incidents that need a
// human: a stored PII envelope that no longer decrypts means key
// mismatch or data corruption, and no amount of retrying fixes it.
type AlertService interface {
	DecryptionFailure(ctx context.Context, accountID string, cause error)
	RotationStalled(ctx context.Context, targetVersion int, cause error)
}

// AWSSESAlertService delivers operator alerts using AWS SES.
type AWSSESAlertService struct {
	sesClient   *ses.Client
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewAWSSESAlertService creates a new AWS SES alert service
func NewAWSSESAlertService(region, fromAddress, toAddress string, logger *slog.Logger) (*AWSSESAlertService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESAlertService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}, nil
}

func (s *AWSSESAlertService) DecryptionFailure(ctx context.Context, accountID string, cause error) {
	subject := "[voteguard] PII envelope failed to decrypt"
	body := fmt.Sprintf(`A stored PII envelope failed authenticated decryption.

Account ID: %s
Error:      %v
Time:       %s

This indicates key mismatch or data corruption and requires manual
investigation. The affected request was rejected; no plaintext was
exposed.
`, accountID, cause, time.Now().UTC().Format(time.RFC3339))

	s.send(ctx, subject, body, slog.String("account_id", accountID))
}

func (s *AWSSESAlertService) RotationStalled(ctx context.Context, targetVersion int, cause error) {
	subject := "[voteguard] key rotation stalled"
	body := fmt.Sprintf(`The background key rotation pass stopped before completion.

Target key version: %d
Error:              %v
Time:               %s

Rotation resumes from its persisted cursor on the next pass; repeated
alerts mean it is not making progress.
`, targetVersion, cause, time.Now().UTC().Format(time.RFC3339))

	s.send(ctx, subject, body, slog.Int("target_version", targetVersion))
}

func (s *AWSSESAlertService) send(ctx context.Context, subject, body string, attrs ...any) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{s.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send operator alert via SES",
			append(attrs, slog.Any("error", err))...)
		return
	}

	s.logger.Warn("operator alert sent",
		append(attrs, slog.String("message_id", *result.MessageId))...)
}

// LogAlertService is the fallback when no alert recipient is
// configured. Incidents still land in the structured log.
type LogAlertService struct {
	logger *slog.Logger
}

func NewLogAlertService(logger *slog.Logger) *LogAlertService {
	return &LogAlertService{logger: logger}
}

func (s *LogAlertService) DecryptionFailure(ctx context.Context, accountID string, cause error) {
	s.logger.Error("PII envelope failed to decrypt",
		slog.String("account_id", accountID),
		slog.Any("error", cause))
}

func (s *LogAlertService) RotationStalled(ctx context.Context, targetVersion int, cause error) {
	s.logger.Error("key rotation stalled",
		slog.Int("target_version", targetVersion),
		slog.Any("error", cause))
}
