// Package forward turns inbound emails into chat notifications.
package forward

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/dhcgn/mail-to-telegram/collect"
	"github.com/dhcgn/mail-to-telegram/mimetext"
	"github.com/dhcgn/mail-to-telegram/model"
)

// Notifier delivers a notification best effort and reports whether it got
// through. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) bool
}

// Result describes one processed email.
type Result struct {
	Notification model.Notification
	Size         int
	Delivered    bool
}

// Processor runs the extraction pipeline for one email at a time. It holds no
// per-message state and may be shared by concurrent callers.
type Processor struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewProcessor(notifier Notifier, logger *slog.Logger) *Processor {
	return &Processor{notifier: notifier, logger: logger}
}

// Extract drains the email source and builds the notification without
// sending it. Stream failures come back as *collect.StreamReadError and a
// message without a multipart boundary as mimetext.ErrBoundaryNotFound.
func Extract(ctx context.Context, email model.InboundEmail) (model.Notification, int, error) {
	raw, err := collect.All(ctx, email.Source)
	if err != nil {
		return model.Notification{}, 0, err
	}

	body, err := mimetext.ParseBody(mimetext.DecodeUTF8(raw))
	if err != nil {
		return model.Notification{}, len(raw), errors.Wrapf(err, "message %s", displayID(email))
	}

	header := email.Header
	if header == nil {
		header = model.ParseHeader(raw)
	}
	recipient := strings.TrimSpace(email.To)
	if recipient == "" {
		recipient = model.Recipient(header)
	}

	return model.Notification{
		Recipient: recipient,
		Subject:   header.Get("Subject"),
		Body:      body,
	}, len(raw), nil
}

// Process extracts the email and hands the notification to the notifier.
// Only extraction errors are returned; delivery problems are reported through
// Result.Delivered.
func (p *Processor) Process(ctx context.Context, email model.InboundEmail) (Result, error) {
	n, size, err := Extract(ctx, email)
	if err != nil {
		return Result{Size: size}, err
	}

	delivered := p.notifier.Notify(ctx, n)
	if p.logger != nil {
		p.logger.Debug("email processed", "messageID", email.ID, "recipient", n.Recipient, "bytes", size, "delivered", delivered)
	}

	return Result{Notification: n, Size: size, Delivered: delivered}, nil
}

func displayID(email model.InboundEmail) string {
	if email.ID != "" {
		return email.ID
	}
	return "(no id)"
}
