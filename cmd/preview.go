package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-to-telegram/collect"
	"github.com/dhcgn/mail-to-telegram/forward"
	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/telegram"
)

func NewPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview [message.eml|-]",
		Short: "Print the Telegram notification for one raw email without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open message: %w", err)
				}
				defer file.Close()
				in = file
			}

			n, size, err := forward.Extract(cmd.Context(), model.InboundEmail{
				ID:     args[0],
				Source: collect.FromReader(in, collect.DefaultChunkSize),
			})
			if err != nil {
				return err
			}
			logger.Debug("message parsed", "bytes", size, "recipient", n.Recipient)

			_, err = fmt.Fprintln(cmd.OutOrStdout(), telegram.Format(n))
			return err
		},
	}
}
