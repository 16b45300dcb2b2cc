package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-monitor/pkg/config"
)

// TelegramSink sends messages through the Telegram Bot API
type TelegramSink struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTelegramSink creates a Telegram sink. timeout bounds every API call.
func NewTelegramSink(cfg config.TelegramConfig, timeout time.Duration, logger zerolog.Logger) *TelegramSink {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramSink{
		token:      cfg.BotToken,
		chatID:     cfg.ChatID,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether credentials are present
func (t *TelegramSink) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type botInfo struct {
	Username string `json:"username"`
}

func (t *TelegramSink) Deliver(ctx context.Context, msg Message) error {
	if !t.Enabled() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  msg.Text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := t.do(req); err != nil {
		return err
	}

	t.logger.Info().Str("kind", msg.Kind).Str("location", msg.Location).Msg("message sent to Telegram")
	return nil
}

// TestConnection checks the bot token with getMe and returns the bot username
func (t *TelegramSink) TestConnection(ctx context.Context) (string, error) {
	if !t.Enabled() {
		return "", ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("getMe"), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := t.do(req)
	if err != nil {
		return "", err
	}

	var info botInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return "", fmt.Errorf("decode bot info: %w", err)
	}
	return info.Username, nil
}

func (t *TelegramSink) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

func (t *TelegramSink) do(req *http.Request) (*apiResponse, error) {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, data)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !apiResp.OK {
		return nil, fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, apiResp.Description)
	}
	return &apiResp, nil
}
