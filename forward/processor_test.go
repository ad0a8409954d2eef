package forward

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-to-telegram/collect"
	"github.com/dhcgn/mail-to-telegram/mimetext"
	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/telegram"
)

const sampleMessage = "To: alerts@example.org\r\n" +
	"Subject: Nightly backup\r\n" +
	"Message-Id: <backup-1@example.org>\r\n" +
	"Content-Type: multipart/alternative; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=UTF-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Backup finished=20in 3 min.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>Backup finished</p>\r\n" +
	"--XYZ--\r\n"

type fakeNotifier struct {
	mu        sync.Mutex
	sent      []model.Notification
	delivered bool
}

func (f *fakeNotifier) Notify(_ context.Context, n model.Notification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.delivered
}

func (f *fakeNotifier) notifications() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.sent...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcess_ChunkedStreamWithEventHeaders(t *testing.T) {
	notifier := &fakeNotifier{delivered: true}
	p := NewProcessor(notifier, quietLogger())

	raw := []byte(sampleMessage)
	email := model.InboundEmail{
		To:     "event-recipient@example.org",
		Header: model.ParseHeader(raw),
		Source: collect.FromChunks(raw[:10], raw[10:100], raw[100:]),
	}

	res, err := p.Process(context.Background(), email)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, len(raw), res.Size)

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "event-recipient@example.org", sent[0].Recipient)
	assert.Equal(t, "Nightly backup", sent[0].Subject)
	assert.Equal(t, "Backup finished in 3 min.\n\n", sent[0].Body)
}

func TestProcess_HeaderFromRawWhenEventHasNone(t *testing.T) {
	notifier := &fakeNotifier{delivered: true}
	p := NewProcessor(notifier, nil)

	_, err := p.Process(context.Background(), model.InboundEmail{Source: collect.FromBytes([]byte(sampleMessage))})
	require.NoError(t, err)

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "alerts@example.org", sent[0].Recipient)
	assert.Equal(t, "Nightly backup", sent[0].Subject)
}

func TestProcess_BoundaryNotFoundSendsNothing(t *testing.T) {
	notifier := &fakeNotifier{delivered: true}
	p := NewProcessor(notifier, nil)

	raw := "Subject: plain\r\nContent-Type: text/plain\r\n\r\nno multipart here\r\n"
	_, err := p.Process(context.Background(), model.InboundEmail{ID: "m1", Source: collect.FromBytes([]byte(raw))})

	assert.ErrorIs(t, err, mimetext.ErrBoundaryNotFound)
	assert.Contains(t, err.Error(), "m1")
	assert.Empty(t, notifier.notifications())
}

func TestProcess_StreamReadErrorSendsNothing(t *testing.T) {
	notifier := &fakeNotifier{delivered: true}
	p := NewProcessor(notifier, nil)

	_, err := p.Process(context.Background(), model.InboundEmail{
		Source: collect.FromReader(iotest.ErrReader(errors.New("stream aborted")), 0),
	})

	var readErr *collect.StreamReadError
	assert.ErrorAs(t, err, &readErr)
	assert.Empty(t, notifier.notifications())
}

func TestProcess_NoPlainPartsStillNotifies(t *testing.T) {
	notifier := &fakeNotifier{delivered: true}
	p := NewProcessor(notifier, nil)

	raw := "Subject: html only\r\nContent-Type: multipart/alternative; boundary=\"h\"\r\n\r\n" +
		"--h\r\nContent-Type: text/html\r\n\r\n<b>x</b>\r\n--h--\r\n"
	_, err := p.Process(context.Background(), model.InboundEmail{Source: collect.FromBytes([]byte(raw))})
	require.NoError(t, err)

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Body)
}

func TestProcess_TelegramServerErrorDoesNotPropagate(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
	}))
	defer srv.Close()

	cfg := telegram.Config{Token: "1:t", ChatID: "9", APIBase: srv.URL, Silent: true}
	notifier := telegram.NewNotifier(cfg, nil, quietLogger())
	p := NewProcessor(notifier, quietLogger())

	res, err := p.Process(context.Background(), model.InboundEmail{Source: collect.FromBytes([]byte(sampleMessage))})
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, "Backup finished in 3 min.\n\n", res.Notification.Body)
	assert.Equal(t, 1, calls)
}
