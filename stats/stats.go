package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageSource  Stage = "source"
	StageForward Stage = "forward"
)

type EventType string

const (
	EventTypeReceived       EventType = "received"
	EventTypeFiltered       EventType = "filtered"
	EventTypeDuplicate      EventType = "duplicate"
	EventTypeEnqueued       EventType = "enqueued"
	EventTypeForwarded      EventType = "forwarded"
	EventTypeEmptyBody      EventType = "empty_body"
	EventTypeDeliveryFailed EventType = "delivery_failed"
	EventTypeError          EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

type Summary struct {
	Received       int
	Filtered       int
	Duplicates     int
	Enqueued       int
	Forwarded      int
	EmptyBodies    int
	DeliveryFailed int
	Errors         int
	LastError      error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"received", s.Received,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"enqueued", s.Enqueued,
		"forwarded", s.Forwarded,
		"emptyBodies", s.EmptyBodies,
		"deliveryFailed", s.DeliveryFailed,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Apply folds one event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeReceived:
		c.summary.Received++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeEnqueued:
		c.summary.Enqueued++
	case EventTypeForwarded:
		c.summary.Forwarded++
	case EventTypeEmptyBody:
		c.summary.EmptyBodies++
	case EventTypeDeliveryFailed:
		c.summary.DeliveryFailed++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Info("stats summary (interrupted)", attrs...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
