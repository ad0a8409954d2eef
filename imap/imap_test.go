package imap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/runner"
	"github.com/dhcgn/mail-to-telegram/state"
	"github.com/dhcgn/mail-to-telegram/stats"
)

type fakeMailbox struct {
	mu      sync.Mutex
	batches [][][]byte
	err     error
	polls   int
}

func (f *fakeMailbox) FetchUnseen(_ context.Context) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func drain(r *runner.Runner) *[]model.InboundEmail {
	var got []model.InboundEmail
	r.AddStage("drain", func(ctx context.Context) error {
		for email := range r.Outgoing() {
			got = append(got, email)
		}
		return nil
	})
	return &got
}

func newRunner(t *testing.T, ctx context.Context) (*runner.Runner, *stats.Reporter) {
	t.Helper()
	r, err := runner.NewWithTracker(ctx, config.Config{}, state.NewMemoryTracker(), nil)
	require.NoError(t, err)
	return r, stats.NewReporter(r, nil)
}

func TestNewPoller_Validation(t *testing.T) {
	r, _ := newRunner(t, context.Background())
	defer func() {
		r.CloseInbox()
		_ = r.Start()
	}()

	_, err := NewPoller(Options{Port: 993}, r, nil)
	assert.Error(t, err)

	_, err = NewPoller(Options{Host: "mail.example.org"}, r, nil)
	assert.Error(t, err)

	_, err = newPoller(Options{Schedule: "every now and then"}, r, &fakeMailbox{}, nil)
	assert.Error(t, err)
}

func TestPoller_OnceEmitsUnseenMessages(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][][]byte{{
		[]byte("Message-Id: <a@example.org>\r\nTo: ops@example.org\r\nSubject: one\r\n\r\nbody"),
		[]byte("To: ops@example.org\r\nSubject: two\r\n\r\nbody"),
	}}}

	r, reporter := newRunner(t, context.Background())
	got := drain(r)
	_, err := newPoller(Options{Once: true}, r, mailbox, nil)
	require.NoError(t, err)

	require.NoError(t, r.Start())

	require.Len(t, *got, 2)
	assert.Equal(t, "a@example.org", (*got)[0].ID)
	assert.NotEmpty(t, (*got)[1].ID, "a missing Message-Id gets a generated id")
	assert.Equal(t, "ops@example.org", (*got)[1].To)
	assert.Equal(t, 2, reporter.Summary().Received)
	assert.Equal(t, 1, mailbox.polls)
}

func TestPoller_OnceFailureStopsRun(t *testing.T) {
	r, _ := newRunner(t, context.Background())
	drain(r)
	_, err := newPoller(Options{Once: true}, r, &fakeMailbox{err: errors.New("connection refused")}, nil)
	require.NoError(t, err)

	err = r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPoller_ScheduledPollSurvivesErrorsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailbox := &fakeMailbox{err: errors.New("temporary failure")}
	r, reporter := newRunner(t, ctx)
	drain(r)
	_, err := newPoller(Options{Schedule: "@every 1h"}, r, mailbox, nil)
	require.NoError(t, err)

	go func() {
		defer cancel()
		deadline := time.Now().Add(5 * time.Second)
		for reporter.Summary().Errors == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}()

	require.NoError(t, r.Start())
	assert.Equal(t, 1, reporter.Summary().Errors)
}
