package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPCaptchaVerifier checks captcha response tokens against the
// captcha provider's server-side verification endpoint.
type HTTPCaptchaVerifier struct {
	verifyURL string
	secret    string
	client    *http.Client
	logger    *slog.Logger
}

func NewHTTPCaptchaVerifier(verifyURL, secret string, logger *slog.Logger) *HTTPCaptchaVerifier {
	return &HTTPCaptchaVerifier{
		verifyURL: verifyURL,
		secret:    secret,
		client:    &http.Client{Timeout: 5 * time.Second},
		logger:    logger,
	}
}

type captchaVerifyRequest struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

type captchaVerifyResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Verify posts the token to the provider. Provider outages surface as
// errors, not as a pass: the caller decides how to degrade, and for
// vote integrity that means the challenge stays unsatisfied.
func (v *HTTPCaptchaVerifier) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	payload, err := json.Marshal(captchaVerifyRequest{Token: token, Secret: v.secret})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Error("captcha verification request failed", slog.Any("error", err))
		return false, fmt.Errorf("captcha provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha provider returned status %d", resp.StatusCode)
	}

	var result captchaVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("captcha provider returned malformed response: %w", err)
	}

	if !result.Success {
		v.logger.Info("captcha rejected", slog.String("reason", result.Reason))
	}
	return result.Success, nil
}

// StubCaptchaVerifier accepts any non-empty token. Development only.
type StubCaptchaVerifier struct{}

func (StubCaptchaVerifier) Verify(ctx context.Context, token string) (bool, error) {
	return token != "", nil
}
