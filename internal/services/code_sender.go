package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/pulsepoll/voteguard/internal/models"
)

// EmailResolver recovers the delivery address for a verified account.
// Decryption happens here, at the delivery boundary, and the plaintext
// goes straight into the provider call.
type EmailResolver interface {
	DecryptEmail(ctx context.Context, accountID string) (string, error)
}

// SESCodeSender delivers email_verify codes through AWS SES. SMS
// channels fall through to the logger until an SMS provider is wired.
type SESCodeSender struct {
	sesClient   *ses.Client
	fromAddress string
	resolver    EmailResolver
	logger      *slog.Logger
}

func NewSESCodeSender(region, fromAddress string, resolver EmailResolver, logger *slog.Logger) (*SESCodeSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESCodeSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		resolver:    resolver,
		logger:      logger,
	}, nil
}

func (s *SESCodeSender) SendCode(ctx context.Context, channel models.Challenge, accountID, code string) error {
	if channel != models.ChallengeEmailVerify {
		// TODO: wire an SMS provider for sms_verify delivery.
		s.logger.Warn("no SMS provider configured, code not delivered",
			slog.String("account_id", accountID),
			slog.String("channel", string(channel)))
		return nil
	}

	email, err := s.resolver.DecryptEmail(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to resolve delivery address: %w", err)
	}

	body := fmt.Sprintf(`Your verification code is: %s

Enter this code to confirm your vote. The code is valid for this
attempt only; requesting a new code invalidates it.

If you did not try to vote, you can ignore this message.
`, code)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your vote verification code"),
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
		s.logger.Error("failed to send verification code via SES",
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return fmt.Errorf("failed to send verification code: %w", err)
	}

	s.logger.Info("verification code sent",
		slog.String("account_id", accountID),
		slog.String("channel", string(channel)),
		slog.String("message_id", *result.MessageId))
	return nil
}

// LogCodeSender stands in for a real provider in development and
// tests. The code itself never reaches the log.
type LogCodeSender struct {
	logger *slog.Logger
}

func NewLogCodeSender(logger *slog.Logger) *LogCodeSender {
	return &LogCodeSender{logger: logger}
}

func (s *LogCodeSender) SendCode(ctx context.Context, channel models.Challenge, accountID, code string) error {
	s.logger.Info("verification code issued",
		slog.String("account_id", accountID),
		slog.String("channel", string(channel)),
		slog.Int("code_length", len(code)))
	return nil
}
