// Package telegram предоставляет клиент Bot API для отправки уведомлений
// и типы входящих обновлений вебхука.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Update описывает входящее обновление от Telegram.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message описывает сообщение пользователя боту.
type Message struct {
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

// Chat описывает чат, из которого пришло сообщение.
type Chat struct {
	ID int64 `json:"id"`
}

// Client инкапсулирует HTTP-взаимодействие с Telegram Bot API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент Bot API по указанному адресу и токену бота.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// SendMessage отправляет текстовое сообщение в указанный чат.
// Ответы 429 и 5xx считаются временными и ретраятся с экспоненциальной задержкой.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if c == nil || c.token == "" {
		return fmt.Errorf("telegram client not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.methodURL("sendMessage"), bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("do request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("transient status: %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return nil
	})
}

// SetWebhook регистрирует URL вебхука для получения обновлений.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	if c == nil || c.token == "" {
		return fmt.Errorf("telegram client not configured")
	}

	payload, err := json.Marshal(map[string]string{"url": webhookURL})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.methodURL("setWebhook"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

func (c *Client) methodURL(method string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/bot%s/%s", base, c.token, method)
}
