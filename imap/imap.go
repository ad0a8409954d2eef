package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/runner"
	"github.com/dhcgn/mail-to-telegram/stats"
)

const DefaultSchedule = "@every 1m"

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	Schedule           string
	Once               bool
}

// Mailbox returns the raw bytes of every unseen message and marks them seen.
type Mailbox interface {
	FetchUnseen(ctx context.Context) ([][]byte, error)
}

// Poller is the runner source that feeds unseen IMAP messages into the inbox.
type Poller struct {
	opts    Options
	runner  *runner.Runner
	mailbox Mailbox
	logger  *slog.Logger
}

func NewPoller(opts Options, r *runner.Runner, logger *slog.Logger) (*Poller, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	return newPoller(opts, r, &Session{opts: opts, logger: logger}, logger)
}

func newPoller(opts Options, r *runner.Runner, mailbox Mailbox, logger *slog.Logger) (*Poller, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if !opts.Once {
		if _, err := cronv3.ParseStandard(opts.Schedule); err != nil {
			return nil, fmt.Errorf("poll schedule %q: %w", opts.Schedule, err)
		}
	}
	p := &Poller{
		opts:    opts,
		runner:  r,
		mailbox: mailbox,
		logger:  logger,
	}
	r.AddStage("imap", p.run)
	return p, nil
}

func (p *Poller) run(ctx context.Context) error {
	defer p.runner.CloseInbox()

	if p.opts.Once {
		return p.poll(ctx)
	}

	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronv3.DiscardLogger),
		cronv3.Recover(cronv3.DiscardLogger),
	))
	if _, err := c.AddFunc(p.opts.Schedule, func() { p.pollAndLog(ctx) }); err != nil {
		return fmt.Errorf("poll schedule %q: %w", p.opts.Schedule, err)
	}

	p.pollAndLog(ctx)
	c.Start()
	if p.logger != nil {
		p.logger.Info("imap watcher started", "folder", p.folder(), "schedule", p.opts.Schedule)
	}

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// pollAndLog keeps the watcher alive across failed polls.
func (p *Poller) pollAndLog(ctx context.Context) {
	if err := p.poll(ctx); err != nil && ctx.Err() == nil {
		p.runner.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Err: err})
		if p.logger != nil {
			p.logger.Warn("imap poll failed", "err", err)
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	messages, err := p.mailbox.FetchUnseen(ctx)
	if err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.Debug("imap poll finished", "folder", p.folder(), "unseen", len(messages))
	}

	for _, raw := range messages {
		email := model.NewBufferedEmail(raw)
		if email.ID == "" {
			email.ID = uuid.NewString()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.runner.InboxWriter() <- model.Envelope{Email: email}:
		}
	}
	return nil
}

func (p *Poller) folder() string {
	return folderName(p.opts.Folder)
}

func folderName(folder string) string {
	if folder == "" {
		return "INBOX"
	}
	return folder
}

// Session opens one IMAP connection per poll.
type Session struct {
	opts   Options
	logger *slog.Logger
}

func (s *Session) FetchUnseen(ctx context.Context) ([][]byte, error) {
	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	folder := folderName(s.opts.Folder)
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	criteria := &imapv2.SearchCriteria{NotFlag: []imapv2.Flag{imapv2.FlagSeen}}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	// BODY[] without PEEK sets \Seen, so the next poll skips these messages.
	section := &imapv2.FetchItemBodySection{}
	fetchCmd := client.Fetch(imapv2.UIDSetNum(uids...), &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	messages := make([][]byte, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return messages, fmt.Errorf("collect message: %w", err)
		}
		if raw := buf.FindBodySection(section); raw != nil {
			messages = append(messages, raw)
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetch unseen: %w", err)
	}
	return messages, nil
}

func (s *Session) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "tls", s.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && s.logger != nil {
				s.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && s.logger != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}
