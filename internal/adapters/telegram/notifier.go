// Package telegram delivers operator alerts through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tripwireBot/internal/ports"
)

const defaultBaseURL = "https://api.telegram.org"

// Notifier implements ports.Notifier.
type Notifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func New(token, chatID string) *Notifier {
	return &Notifier{
		token:   token,
		chatID:  chatID,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether both credentials are set.
func (n *Notifier) Enabled() bool {
	return n.token != "" && n.chatID != ""
}

// Notify posts text to the configured chat. It is a no-op when the notifier
// is not configured.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"chat_id": n.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w: %w", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ports.RateLimitedError{Err: fmt.Errorf("telegram: status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("telegram: %w: status %d", ports.ErrUnknown, resp.StatusCode)
	}
	return nil
}
