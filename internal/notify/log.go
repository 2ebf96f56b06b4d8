package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes reminders to the log instead of delivering them
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message
func (n *LogNotifier) Send(_ context.Context, address, subject, body string) error {
	n.logger.Info("reminder", "to", address, "subject", subject, "body", body)
	return nil
}
