package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var _ Notifier = (*TelegramService)(nil)

// TelegramService posts messages to the Telegram Bot API with HTML
// formatting, reusing one client connection across sends.
type TelegramService struct {
	cli    *http.Client
	token  string
	chatID string
}

func NewTelegramService(token, chatID string) *TelegramService {
	return &TelegramService{
		cli:    &http.Client{Timeout: 10 * time.Second},
		token:  token,
		chatID: chatID,
	}
}

func (s *TelegramService) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    s.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.cli.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("telegram responded %d: %s", res.StatusCode, string(body))
	}
	return nil
}
