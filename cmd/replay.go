package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/forward"
	"github.com/dhcgn/mail-to-telegram/mbox"
	"github.com/dhcgn/mail-to-telegram/progress"
	"github.com/dhcgn/mail-to-telegram/runner"
	"github.com/dhcgn/mail-to-telegram/telegram"
)

func NewReplayCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Forward every message of an mbox archive to Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			if err := cfg.ValidateReplay(); err != nil {
				return err
			}
			if err := cfg.ValidateTelegram(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting mail-to-telegram replay", "mbox", cfg.MboxPath, "dryRun", cfg.DryRun)

			total, err := mbox.CountMessages(cfg.MboxPath)
			if err != nil {
				return fmt.Errorf("count messages: %w", err)
			}

			r, err := runner.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("runner.New: %w", err)
			}

			bar := progress.New(total, r.Tracker().Snapshot().Forwarded, cfg.Progress && cfg.LogLevel == "info")
			progress.NewReporter(r, bar, logger)

			notifier := telegram.NewNotifier(cfg.TelegramOptions(), nil, logger)
			forward.NewDispatcher(forward.NewProcessor(notifier, logger), r, logger)

			if _, err := mbox.NewProducer(mbox.Options{Path: cfg.MboxPath}, r, logger); err != nil {
				r.CloseInbox()
				_ = r.Start()
				return fmt.Errorf("mbox.NewProducer: %w", err)
			}

			return r.Start()
		},
	}
	if err := config.RegisterReplayFlags(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}
