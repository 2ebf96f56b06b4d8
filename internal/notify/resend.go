// Package notify delivers reminder messages to users.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prisoners-dilemma/internal/config"
)

// Resend sends plain text email through the Resend HTTP API
type Resend struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// NewResend creates a Resend notifier from configuration
func NewResend(cfg *config.NotifierConfig, logger *slog.Logger) *Resend {
	return &Resend{
		apiKey:  cfg.ResendAPIKey,
		from:    cfg.FromAddress,
		baseURL: cfg.ResendURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Send emails one message to address
func (r *Resend) Send(ctx context.Context, address, subject, body string) error {
	payload, err := json.Marshal(emailRequest{
		From:    r.from,
		To:      []string{address},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return fmt.Errorf("marshaling email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		r.logger.Warn("email API error", "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}

	r.logger.Debug("email sent", "to", address)
	return nil
}
