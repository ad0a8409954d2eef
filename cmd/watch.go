package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/forward"
	"github.com/dhcgn/mail-to-telegram/imap"
	"github.com/dhcgn/mail-to-telegram/runner"
	"github.com/dhcgn/mail-to-telegram/stats"
	"github.com/dhcgn/mail-to-telegram/telegram"
)

func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll an IMAP folder for unseen mail and forward it to Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			if err := cfg.ValidateIMAP(); err != nil {
				return err
			}
			if err := cfg.ValidateTelegram(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting mail-to-telegram watcher", "host", cfg.IMAP.Host, "folder", cfg.IMAP.Folder, "once", cfg.IMAP.Once, "dryRun", cfg.DryRun)

			r, err := runner.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("runner.New: %w", err)
			}
			stats.NewReporter(r, logger)

			notifier := telegram.NewNotifier(cfg.TelegramOptions(), nil, logger)
			forward.NewDispatcher(forward.NewProcessor(notifier, logger), r, logger)

			pollerOpts := imap.Options{
				Host:               cfg.IMAP.Host,
				Port:               cfg.IMAP.Port,
				Username:           cfg.IMAP.User,
				Password:           cfg.IMAP.Pass,
				UseTLS:             cfg.IMAP.UseTLS,
				InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
				Folder:             cfg.IMAP.Folder,
				Schedule:           cfg.IMAP.Schedule,
				Once:               cfg.IMAP.Once,
			}
			if _, err := imap.NewPoller(pollerOpts, r, logger); err != nil {
				r.CloseInbox()
				_ = r.Start()
				return fmt.Errorf("imap.NewPoller: %w", err)
			}

			return r.Start()
		},
	}
	config.RegisterWatchFlags(cmd)
	return cmd
}
