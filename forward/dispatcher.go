package forward

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dhcgn/mail-to-telegram/mimetext"
	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/runner"
	"github.com/dhcgn/mail-to-telegram/state"
	"github.com/dhcgn/mail-to-telegram/stats"
)

// Dispatcher is the runner stage that processes queued emails one by one.
type Dispatcher struct {
	processor *Processor
	runner    *runner.Runner
	tracker   state.Tracker
	logger    *slog.Logger
}

func NewDispatcher(p *Processor, r *runner.Runner, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		processor: p,
		runner:    r,
		tracker:   r.Tracker(),
		logger:    logger,
	}
	r.AddStage("forward", d.run)
	return d
}

func (d *Dispatcher) run(ctx context.Context) error {
	outgoing := d.runner.Outgoing()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case email, ok := <-outgoing:
			if !ok {
				return nil
			}
			if err := d.handle(ctx, email); err != nil {
				return err
			}
		}
	}
}

// handle returns an error only when the state file can no longer be written.
func (d *Dispatcher) handle(ctx context.Context, email model.InboundEmail) error {
	res, err := d.processor.Process(ctx, email)
	if err != nil {
		d.runner.EmitEvent(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeError, MessageID: email.ID, Err: err})
		if d.logger != nil {
			d.logger.Warn("email not forwarded", "messageID", email.ID, "err", err)
		}
		// the message will never parse, do not try again on the next run
		if errors.Is(err, mimetext.ErrBoundaryNotFound) {
			return d.mark(email)
		}
		return nil
	}

	if !res.Delivered {
		d.runner.EmitEvent(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeDeliveryFailed, MessageID: email.ID})
		return nil
	}

	if strings.TrimSpace(res.Notification.Body) == "" {
		d.runner.EmitEvent(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeEmptyBody, MessageID: email.ID})
	}
	d.runner.EmitEvent(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeForwarded, MessageID: email.ID, Detail: res.Notification.Subject})
	return d.mark(email)
}

func (d *Dispatcher) mark(email model.InboundEmail) error {
	if email.Hash == "" {
		return nil
	}
	if err := d.tracker.MarkForwarded(state.Record{Hash: email.Hash, MessageID: email.ID, Recipient: email.To}); err != nil {
		d.runner.EmitEvent(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeError, MessageID: email.ID, Err: err})
		return err
	}
	return nil
}
