package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/forward"
	"github.com/dhcgn/mail-to-telegram/server"
	"github.com/dhcgn/mail-to-telegram/telegram"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept raw emails on an HTTP webhook and forward them to Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			if err := cfg.ValidateTelegram(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting mail-to-telegram webhook", "listen", cfg.Server.ListenAddr, "dryRun", cfg.DryRun, "secret", cfg.Server.WebhookSecret != "")

			notifier := telegram.NewNotifier(cfg.TelegramOptions(), nil, logger)
			processor := forward.NewProcessor(notifier, logger)
			return server.New(cfg.Server, processor, logger).Run(ctx)
		},
	}
	config.RegisterServeFlags(cmd)
	return cmd
}
