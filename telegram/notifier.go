package telegram

import (
	"context"
	"log/slog"

	"github.com/dhcgn/mail-to-telegram/model"
)

// Notifier formats notifications and sends them best effort.
type Notifier struct {
	client *Client
	dryRun bool
	logger *slog.Logger
}

func NewNotifier(cfg Config, client *Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = NewClient(cfg, nil)
	}
	return &Notifier{client: client, dryRun: cfg.DryRun, logger: logger}
}

// Notify delivers n and reports whether the chat accepted it. Failures are
// logged and never returned: a lost notification must not fail the email.
func (n *Notifier) Notify(ctx context.Context, notification model.Notification) bool {
	text := Format(notification)

	if n.dryRun {
		if n.logger != nil {
			n.logger.Info("dry-run notification", "recipient", notification.Recipient, "subject", notification.Subject, "text", text)
		}
		return true
	}

	if err := n.client.SendMessage(ctx, text); err != nil {
		if n.logger != nil {
			n.logger.Error("telegram delivery failed", "recipient", notification.Recipient, "subject", notification.Subject, "err", err)
		}
		return false
	}

	if n.logger != nil {
		n.logger.Debug("telegram notification sent", "recipient", notification.Recipient, "subject", notification.Subject, "chars", len([]rune(text)))
	}
	return true
}
