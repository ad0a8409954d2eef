// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultAPIBase = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
	parseModeHTML  = "html"
)

var (
	ErrMissingToken  = errors.New("telegram bot token is empty")
	ErrMissingChatID = errors.New("telegram chat id is empty")
)

// Config holds the bot credentials and delivery options.
type Config struct {
	Token   string
	ChatID  string
	APIBase string
	Silent  bool
	Timeout time.Duration
	DryRun  bool
}

// Validate reports missing credentials. Dry runs need none.
func (c Config) Validate() error {
	if c.DryRun {
		return nil
	}
	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}
	if strings.TrimSpace(c.ChatID) == "" {
		return ErrMissingChatID
	}
	return nil
}

// APIError is a sendMessage call answered with a non-2xx status or ok=false.
type APIError struct {
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("telegram api: status %d: %s", e.StatusCode, e.Description)
}

type sendMessageRequest struct {
	ChatID              string `json:"chat_id"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification"`
	Text                string `json:"text"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Client posts messages to one chat.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient returns a client for cfg. A nil httpClient gets one with
// cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.APIBase, "/") + "/bot" + c.cfg.Token + "/sendMessage"
}

// SendMessage posts text with HTML parse mode to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:              c.cfg.ChatID,
		ParseMode:           parseModeHTML,
		DisableNotification: c.cfg.Silent,
		Text:                text,
	})
	if err != nil {
		return errors.Wrap(err, "encode sendMessage request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build sendMessage request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the url carries the bot token
		return errors.Errorf("sendMessage request failed: %v", redact(err, c.cfg.Token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read sendMessage response")
	}

	var decoded apiResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || (decodeErr == nil && !decoded.OK) {
		return &APIError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   decoded.ErrorCode,
			Description: decoded.Description,
		}
	}
	if decodeErr != nil {
		return errors.Wrap(decodeErr, "decode sendMessage response")
	}
	return nil
}

func redact(err error, token string) string {
	if token == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), token, "<redacted>")
}
