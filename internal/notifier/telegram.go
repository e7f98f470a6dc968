package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	telegramAPIBase   = "https://api.telegram.org"
	defaultSendTries  = 3
	defaultHTTPWindow = 30 * time.Second
)

// Noop discards notifications. Used when Telegram is not configured.
type Noop struct{}

// Notify implements the notifier contract as a no-op.
func (Noop) Notify(context.Context, string) {}

// TelegramConfig configures the Telegram Bot API sender.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Logger   *zap.Logger
}

// Telegram sends messages via the Telegram Bot API.
type Telegram struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTelegram constructs a Telegram notifier. Returns an error when the token
// or chat id is missing; callers fall back to Noop instead.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("notifier: telegram bot token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("notifier: telegram chat id is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = telegramAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultHTTPWindow},
		logger:     logger,
	}, nil
}

// Notify sends the text with retry, logging failures rather than surfacing
// them: a lost notification never fails the triggering operation.
func (t *Telegram) Notify(ctx context.Context, text string) {
	if err := t.sendWithRetry(ctx, text, defaultSendTries); err != nil {
		t.logger.Warn("telegram notification failed", zap.Error(err))
	}
}

func (t *Telegram) send(ctx context.Context, text string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (t *Telegram) sendWithRetry(ctx context.Context, text string, maxTries int) error {
	var lastErr error
	for attempt := 0; attempt < maxTries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := t.send(ctx, text); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
