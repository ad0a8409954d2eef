package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-to-telegram/config"
)

// NewRootCommand assembles the mail-to-telegram CLI.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "mail-to-telegram",
		Short:         "Forward the plain-text body of inbound email to a Telegram chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterGlobalFlags(rootCmd)

	replayCmd, err := NewReplayCommand()
	if err != nil {
		return nil, err
	}

	rootCmd.AddCommand(
		NewServeCommand(),
		NewWatchCommand(),
		replayCmd,
		NewPreviewCommand(),
		NewInspectCommand(),
	)
	return rootCmd, nil
}
