package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/filter"
	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/state"
	"github.com/dhcgn/mail-to-telegram/stats"
)

type StageFunc func(context.Context) error

// Runner wires sources, the forward stage and stats subscribers together:
// sources write envelopes to the inbox, the bridge filters and de-duplicates
// them and hands the survivors to the outgoing channel.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox    chan model.Envelope
	outgoing chan model.InboundEmail
	events   chan stats.Event

	tracker state.Tracker
	filter  *filter.Filter

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeInboxOnce    sync.Once
	closeOutgoingOnce sync.Once
	closeEventsOnce   sync.Once
	since             time.Time
}

// New builds a runner bound to parent. Cancelling parent stops every stage.
func New(parent context.Context, cfg config.Config, logger *slog.Logger) (*Runner, error) {
	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("state tracker: %w", err)
	}
	return NewWithTracker(parent, cfg, tracker, logger)
}

// NewWithTracker is New with a caller supplied tracker.
func NewWithTracker(parent context.Context, cfg config.Config, tracker state.Tracker, logger *slog.Logger) (*Runner, error) {
	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.Filter.IncludeHeader,
		IncludeBody:   cfg.Filter.IncludeBody,
		ExcludeHeader: cfg.Filter.ExcludeHeader,
		ExcludeBody:   cfg.Filter.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan model.Envelope, 32),
		outgoing: make(chan model.InboundEmail, 32),
		events:   make(chan stats.Event, 128),
		tracker:  tracker,
		filter:   f,
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

func (r *Runner) InboxWriter() chan<- model.Envelope {
	return r.inbox
}

// CloseInbox signals that every source is done.
func (r *Runner) CloseInbox() {
	r.closeInboxOnce.Do(func() {
		close(r.inbox)
	})
}

func (r *Runner) Outgoing() <-chan model.InboundEmail {
	return r.outgoing
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start blocks until every stage returned, then drains the stats subscribers
// and closes the tracker.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	if err := r.tracker.Close(); err != nil {
		r.fail(fmt.Errorf("close state: %w", err))
	}

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeOutgoing()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.inbox:
			if !ok {
				return nil
			}

			// a broken message must not stop a long running watcher
			if envelope.Err != nil {
				r.logger.Warn("source error", "err", envelope.Err)
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Err: envelope.Err})
				continue
			}

			email := envelope.Email
			r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeReceived, MessageID: email.ID})

			if email.Raw != nil && !r.filter.AllowsMessage(email.Raw) {
				r.logger.Debug("message filtered", "messageID", email.ID)
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeFiltered, MessageID: email.ID})
				continue
			}

			if email.Hash != "" && r.tracker.AlreadyForwarded(email.Hash) {
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeDuplicate, MessageID: email.ID})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.outgoing <- email:
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeEnqueued, MessageID: email.ID})
			}
		}
	}
}

func (r *Runner) closeOutgoing() {
	r.closeOutgoingOnce.Do(func() {
		close(r.outgoing)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
