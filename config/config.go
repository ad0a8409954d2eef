package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-to-telegram/telegram"
)

// TelegramConfig holds the bot secrets. They only come from the environment.
type TelegramConfig struct {
	Token   string        `env:"TELEGRAM_BOT_TOKEN"`
	ChatID  string        `env:"TELEGRAM_CHAT_ID"`
	APIBase string        `env:"TELEGRAM_API_BASE" envDefault:"https://api.telegram.org"`
	Silent  bool          `env:"TELEGRAM_SILENT" envDefault:"true"`
	Timeout time.Duration `env:"TELEGRAM_TIMEOUT" envDefault:"10s"`
}

type ServerConfig struct {
	ListenAddr    string `env:"LISTEN_ADDR" envDefault:":8080"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	MaxBodyBytes  int64  `env:"MAX_BODY_BYTES" envDefault:"26214400"`
}

type IMAPConfig struct {
	Host               string `env:"IMAP_HOST"`
	Port               int    `env:"IMAP_PORT" envDefault:"993"`
	User               string `env:"IMAP_USER"`
	Pass               string `env:"IMAP_PASS"`
	UseTLS             bool   `env:"IMAP_USE_TLS" envDefault:"true"`
	InsecureSkipVerify bool   `env:"IMAP_INSECURE_SKIP_VERIFY"`
	Folder             string `env:"IMAP_FOLDER" envDefault:"INBOX"`
	Schedule           string `env:"IMAP_POLL_SCHEDULE" envDefault:"@every 1m"`
	Once               bool
}

type FilterConfig struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

func (f FilterConfig) includeActive() bool {
	return len(f.IncludeHeader) > 0 || len(f.IncludeBody) > 0
}

func (f FilterConfig) excludeActive() bool {
	return len(f.ExcludeHeader) > 0 || len(f.ExcludeBody) > 0
}

// Config captures the environment and command-line options of one command.
type Config struct {
	LogLevel string
	LogDir   string
	DryRun   bool
	StateDir string
	EnvFile  string
	MboxPath string
	Progress bool

	Telegram TelegramConfig
	Server   ServerConfig
	IMAP     IMAPConfig
	Filter   FilterConfig
}

type envConfig struct {
	Telegram *TelegramConfig
	Server   *ServerConfig
	IMAP     *IMAPConfig
}

// TelegramOptions converts the loaded settings for the notifier.
func (c Config) TelegramOptions() telegram.Config {
	return telegram.Config{
		Token:   c.Telegram.Token,
		ChatID:  c.Telegram.ChatID,
		APIBase: c.Telegram.APIBase,
		Silent:  c.Telegram.Silent,
		Timeout: c.Telegram.Timeout,
		DryRun:  c.DryRun,
	}
}

// LoadConfig reads the environment (and .env file) first, then applies the
// flags registered on cmd. Flags the user set explicitly win over the
// environment.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	cfg := Config{}
	if err := stringFlag(flags, "env-file", &cfg.EnvFile); err != nil {
		return Config{}, err
	}
	if err := loadEnv(&cfg); err != nil {
		return Config{}, err
	}

	for name, target := range map[string]*string{
		"log-level":     &cfg.LogLevel,
		"log-dir":       &cfg.LogDir,
		"state-dir":     &cfg.StateDir,
		"mbox":          &cfg.MboxPath,
		"listen":        &cfg.Server.ListenAddr,
		"imap-host":     &cfg.IMAP.Host,
		"imap-user":     &cfg.IMAP.User,
		"imap-pass":     &cfg.IMAP.Pass,
		"imap-folder":   &cfg.IMAP.Folder,
		"poll-schedule": &cfg.IMAP.Schedule,
		"telegram-chat": &cfg.Telegram.ChatID,
		"telegram-api":  &cfg.Telegram.APIBase,
	} {
		if err := stringFlag(flags, name, target); err != nil {
			return Config{}, err
		}
	}

	for name, target := range map[string]*bool{
		"dry-run":  &cfg.DryRun,
		"progress": &cfg.Progress,
		"once":     &cfg.IMAP.Once,
	} {
		if err := boolFlag(flags, name, target); err != nil {
			return Config{}, err
		}
	}

	for name, target := range map[string]*bool{
		"use-tls":              &cfg.IMAP.UseTLS,
		"insecure-skip-verify": &cfg.IMAP.InsecureSkipVerify,
		"silent":               &cfg.Telegram.Silent,
	} {
		if err := boolOverride(flags, name, target); err != nil {
			return Config{}, err
		}
	}

	if err := intFlag(flags, "imap-port", &cfg.IMAP.Port); err != nil {
		return Config{}, err
	}

	for name, target := range map[string]*[]string{
		"include-header": &cfg.Filter.IncludeHeader,
		"include-body":   &cfg.Filter.IncludeBody,
		"exclude-header": &cfg.Filter.ExcludeHeader,
		"exclude-body":   &cfg.Filter.ExcludeBody,
	} {
		if err := stringArrayFlag(flags, name, target); err != nil {
			return Config{}, err
		}
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return Config{}, err
		}
		cfg.StateDir = dir
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadEnv(cfg *Config) error {
	envFile := cfg.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if cfg.EnvFile != "" {
			return fmt.Errorf("load env file %s: %w", cfg.EnvFile, err)
		}
		slog.Debug("no .env file loaded", "err", err)
	}

	parsed := envConfig{
		Telegram: &cfg.Telegram,
		Server:   &cfg.Server,
		IMAP:     &cfg.IMAP,
	}
	if err := env.Parse(&parsed); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	if cfg.Filter.includeActive() && cfg.Filter.excludeActive() {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	return nil
}

// ValidateTelegram checks the bot credentials unless this is a dry run.
func (c Config) ValidateTelegram() error {
	if err := c.TelegramOptions().Validate(); err != nil {
		return fmt.Errorf("%w (set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID or use --dry-run)", err)
	}
	return nil
}

// ValidateIMAP checks the settings the watch command needs.
func (c Config) ValidateIMAP() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("--imap-host or IMAP_HOST is required")
	}
	if c.IMAP.User == "" {
		return fmt.Errorf("--imap-user or IMAP_USER is required")
	}
	if c.IMAP.Pass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if !c.IMAP.Once && strings.TrimSpace(c.IMAP.Schedule) == "" {
		return fmt.Errorf("--poll-schedule must not be empty")
	}
	return nil
}

// ValidateReplay checks the settings the replay command needs.
func (c Config) ValidateReplay() error {
	if c.MboxPath == "" {
		return fmt.Errorf("--mbox is required")
	}
	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mail-to-telegram", "state"), nil
}
