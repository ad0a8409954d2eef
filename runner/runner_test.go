package runner

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/state"
	"github.com/dhcgn/mail-to-telegram/stats"
)

func feed(r *Runner, envelopes ...model.Envelope) {
	r.AddStage("source", func(ctx context.Context) error {
		defer r.CloseInbox()
		for _, env := range envelopes {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.InboxWriter() <- env:
			}
		}
		return nil
	})
}

func collectOutgoing(r *Runner) *[]model.InboundEmail {
	var got []model.InboundEmail
	r.AddStage("sink", func(context.Context) error {
		for email := range r.Outgoing() {
			got = append(got, email)
		}
		return nil
	})
	return &got
}

func TestBridge_FiltersAndDeduplicates(t *testing.T) {
	tracker := state.NewMemoryTracker()
	seen := model.NewBufferedEmail([]byte("Subject: seen\r\n\r\nbody"))
	require.NoError(t, tracker.MarkForwarded(state.Record{Hash: seen.Hash}))

	cfg := config.Config{Filter: config.FilterConfig{ExcludeBody: []string{"unsubscribe"}}}
	r, err := NewWithTracker(context.Background(), cfg, tracker, nil)
	require.NoError(t, err)
	reporter := stats.NewReporter(r, nil)

	fresh := model.NewBufferedEmail([]byte("Subject: fresh\r\n\r\nbody"))
	feed(r,
		model.Envelope{Email: fresh},
		model.Envelope{Email: seen},
		model.Envelope{Email: model.NewBufferedEmail([]byte("Subject: promo\r\n\r\nclick unsubscribe"))},
		model.Envelope{Err: errors.New("broken message")},
	)
	got := collectOutgoing(r)

	require.NoError(t, r.Start())

	require.Len(t, *got, 1)
	assert.Equal(t, fresh.Hash, (*got)[0].Hash)

	summary := reporter.Summary()
	assert.Equal(t, 3, summary.Received)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 1, summary.Filtered)
	assert.Equal(t, 1, summary.Enqueued)
	assert.Equal(t, 1, summary.Errors)
}

func TestRunner_StageErrorIsReturned(t *testing.T) {
	r, err := NewWithTracker(context.Background(), config.Config{}, state.NewMemoryTracker(), nil)
	require.NoError(t, err)
	stats.NewReporter(r, nil)

	boom := errors.New("boom")
	r.AddStage("failing", func(context.Context) error {
		return boom
	})
	collectOutgoing(r)

	err = r.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing stage")
}

func TestRunner_CanceledParentIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, err := NewWithTracker(ctx, config.Config{}, state.NewMemoryTracker(), nil)
	require.NoError(t, err)
	stats.NewReporter(r, nil)
	collectOutgoing(r)

	cancel()
	assert.NoError(t, r.Start())
}

func TestNewWithTracker_InvalidFilter(t *testing.T) {
	cfg := config.Config{Filter: config.FilterConfig{IncludeHeader: []string{"("}}}
	_, err := NewWithTracker(context.Background(), cfg, state.NewMemoryTracker(), nil)
	assert.Error(t, err)
}

func TestNew_FileTracker(t *testing.T) {
	r, err := New(context.Background(), config.Config{StateDir: t.TempDir()}, nil)
	require.NoError(t, err)
	stats.NewReporter(r, nil)
	collectOutgoing(r)
	feed(r)

	require.NoError(t, r.Start())
	assert.Zero(t, r.Tracker().Snapshot().Forwarded)
}
