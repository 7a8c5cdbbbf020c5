package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Alerter posts short admin alerts.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Bot sends messages to one chat through the Telegram Bot API.
type Bot struct {
	chatID  string
	baseURL string
	client  *http.Client
}

func NewBot(token, chatID string) *Bot {
	return &Bot{
		chatID:  chatID,
		baseURL: "https://api.telegram.org/bot" + token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *Bot) Alert(ctx context.Context, text string) error {
	params := url.Values{}
	params.Add("chat_id", b.chatID)
	params.Add("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/sendMessage", strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: %s", resp.Status)
	}
	return nil
}
