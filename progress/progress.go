package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-to-telegram/stats"
)

// Bar manages a progress bar for an archive replay.
type Bar struct {
	pb          *pterm.ProgressbarPrinter
	total       int
	alreadyDone int
	received    int
	stopped     bool
	mu          sync.Mutex
	enabled     bool
}

// New creates a progress bar. It stays silent unless enabled.
func New(total int, alreadyDone int, enabled bool) *Bar {
	bar := &Bar{
		total:       total,
		alreadyDone: alreadyDone,
		enabled:     enabled && total > 0,
	}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Forwarding messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages in archive: %d\n", total)
		pterm.Info.Printf("Already forwarded: %d\n", alreadyDone)
		pterm.Println()
	}

	return bar
}

func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar on every received message and prints problems
// above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	switch evt.Type {
	case stats.EventTypeReceived:
		b.received++
		b.pb.Increment()
		if evt.MessageID != "" {
			displayID := evt.MessageID
			if len(displayID) > 40 {
				displayID = displayID[:37] + "..."
			}
			b.pb.UpdateTitle("Forwarding: " + displayID)
		}
	case stats.EventTypeDeliveryFailed:
		pterm.Warning.Printf("Delivery failed: %s\n", evt.MessageID)
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Replay complete!")
}

// Reporter feeds one event subscription into both the bar and a stats
// collector, since the runner delivers every event to a single subscriber.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("progress", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan stats.Event) error {
	defer r.bar.Stop()
	for {
		select {
		case <-ctx.Done():
			r.printSummary()
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				r.bar.Stop()
				r.printSummary()
				return nil
			}
			r.collector.Apply(evt)
			r.bar.Update(evt)
		}
	}
}

func (r *Reporter) Summary() stats.Summary {
	return r.collector.Snapshot()
}

func (r *Reporter) printSummary() {
	summary := r.collector.Snapshot()
	duration := time.Since(r.started)

	if !r.bar.Enabled() {
		if r.logger != nil {
			r.logger.Info("stats summary", append(summary.LogAttrs(), "duration", duration)...)
		}
		return
	}

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Received: %d\n", summary.Received)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Already forwarded (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Forwarded: %d\n", summary.Forwarded)
	pterm.Info.Printf("Without text body: %d\n", summary.EmptyBodies)
	pterm.Info.Printf("Delivery failed: %d\n", summary.DeliveryFailed)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}
