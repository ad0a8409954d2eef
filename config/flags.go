package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterGlobalFlags attaches the options shared by every command.
func RegisterGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("env-file", "", "Load environment variables from this file (default .env if present)")
	flags.Bool("dry-run", false, "Log the notifications instead of sending them to Telegram")
	flags.Bool("silent", true, "Deliver Telegram messages without notification sound (TELEGRAM_SILENT)")
	flags.String("telegram-chat", "", "Destination chat id (overrides TELEGRAM_CHAT_ID)")
	flags.String("telegram-api", "", "Telegram Bot API base url (overrides TELEGRAM_API_BASE)")
}

// RegisterServeFlags attaches the webhook server options.
func RegisterServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("listen", "", "Address the webhook server listens on (overrides LISTEN_ADDR, default :8080)")
}

// RegisterWatchFlags attaches the IMAP polling options.
func RegisterWatchFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname (IMAP_HOST)")
	flags.Int("imap-port", 993, "IMAP server port (IMAP_PORT)")
	flags.String("imap-user", "", "IMAP username (IMAP_USER)")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "", "Folder to watch for unseen mail (IMAP_FOLDER, default INBOX)")
	flags.String("poll-schedule", "", "Cron spec for polling, e.g. \"@every 30s\" (IMAP_POLL_SCHEDULE)")
	flags.Bool("once", false, "Poll a single time and exit")
	flags.String("state-dir", "", "Directory for the forwarded-message state file")
	registerFilterFlags(flags)
}

// RegisterReplayFlags attaches the mbox replay options.
func RegisterReplayFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("mbox", "", "Path to the .mbox file to forward")
	flags.String("state-dir", "", "Directory for the forwarded-message state file")
	flags.Bool("progress", true, "Show a progress bar while replaying")
	registerFilterFlags(flags)

	return cmd.MarkFlagRequired("mbox")
}

func registerFilterFlags(flags *pflag.FlagSet) {
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// stringFlag copies a flag into target unless the flag was left at its
// default and the environment already provided a value.
func stringFlag(flags *pflag.FlagSet, name string, target *string) error {
	f := flags.Lookup(name)
	if f == nil {
		return nil
	}
	if !f.Changed && *target != "" {
		return nil
	}
	v, err := flags.GetString(name)
	if err != nil {
		return err
	}
	if v == "" && *target != "" {
		return nil
	}
	*target = v
	return nil
}

func boolFlag(flags *pflag.FlagSet, name string, target *bool) error {
	if flags.Lookup(name) == nil {
		return nil
	}
	v, err := flags.GetBool(name)
	if err != nil {
		return err
	}
	*target = v
	return nil
}

// boolOverride only applies flags the user set, env values win otherwise.
func boolOverride(flags *pflag.FlagSet, name string, target *bool) error {
	f := flags.Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	return boolFlag(flags, name, target)
}

func intFlag(flags *pflag.FlagSet, name string, target *int) error {
	f := flags.Lookup(name)
	if f == nil {
		return nil
	}
	if !f.Changed && *target != 0 {
		return nil
	}
	v, err := flags.GetInt(name)
	if err != nil {
		return err
	}
	*target = v
	return nil
}

func stringArrayFlag(flags *pflag.FlagSet, name string, target *[]string) error {
	if flags.Lookup(name) == nil {
		return nil
	}
	v, err := flags.GetStringArray(name)
	if err != nil {
		return err
	}
	*target = v
	return nil
}

// RegisterInspectFlags attaches the filter options of the archive analysis.
func RegisterInspectFlags(cmd *cobra.Command) {
	registerFilterFlags(cmd.Flags())
}
