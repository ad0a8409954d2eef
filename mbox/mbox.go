package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/google/uuid"

	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/runner"
)

// Options selects the archive. Source, when set, is read instead of Path.
type Options struct {
	Path   string
	Source io.Reader
}

func (o Options) open() (io.Reader, func(), error) {
	if o.Source != nil {
		return o.Source, func() {}, nil
	}
	path := strings.TrimSpace(o.Path)
	if path == "" {
		return nil, nil, fmt.Errorf("mbox path is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open mbox: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// Each calls fn with the raw bytes of every message in archive order. It
// stops at the first error returned by fn or by the archive reader.
func Each(ctx context.Context, opts Options, fn func(idx int, raw []byte) error) error {
	src, closeFn, err := opts.open()
	if err != nil {
		return err
	}
	defer closeFn()

	reader := mboxlib.NewReader(src)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}

// CountMessages counts the messages in an archive without parsing them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return count, fmt.Errorf("message %d read: %w", count, err)
		}
		count++
	}
}

// Producer is the runner source that replays an archive into the inbox.
type Producer struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if opts.Source == nil {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, fmt.Errorf("mbox path is empty")
		}
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, fmt.Errorf("mbox archive: %w", err)
		}
	}
	p := &Producer{opts: opts, runner: r, logger: logger}
	r.AddStage("mbox", p.run)
	return p, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseInbox()
	return p.Stream(ctx, p.runner.InboxWriter())
}

// Stream sends one envelope per archive message. A broken archive ends the
// stream with an error envelope instead of failing the run.
func (p *Producer) Stream(ctx context.Context, out chan<- model.Envelope) error {
	err := Each(ctx, p.opts, func(_ int, raw []byte) error {
		email := model.NewBufferedEmail(raw)
		if email.ID == "" {
			email.ID = uuid.NewString()
		}
		return emit(ctx, out, model.Envelope{Email: email})
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}

	if p.logger != nil {
		p.logger.Error("mbox stream error", "path", p.opts.Path, "err", err)
	}
	return emit(ctx, out, model.Envelope{Err: err})
}

func emit(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}
