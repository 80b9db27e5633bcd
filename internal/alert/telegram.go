package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TelegramNotifier delivers alert lines to one Telegram chat. Messages carry
// order ids and state paths, so link previews are disabled on every send.
type TelegramNotifier struct {
	enabled  bool
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

func NewTelegramNotifier(enabled bool, botToken, chatID, baseURL string, timeout time.Duration) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		enabled:  enabled,
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, msg string) error {
	if t == nil || !t.enabled {
		return nil
	}
	status, body, err := t.send(ctx, telegramSendMessageRequest{
		ChatID:                t.chatID,
		Text:                  msg,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		var throttled telegramErrorResponse
		if json.Unmarshal(body, &throttled) == nil && throttled.Parameters.RetryAfter > 0 {
			return fmt.Errorf("telegram rate limited, retry after %ds", throttled.Parameters.RetryAfter)
		}
		return fmt.Errorf("telegram rate limited")
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("telegram status=%d body=%s", status, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		return nil
	}
	var parsed telegramSendMessageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	if !parsed.OK {
		if parsed.ErrorCode != 0 {
			return fmt.Errorf("telegram api error %d: %s", parsed.ErrorCode, strings.TrimSpace(parsed.Description))
		}
		return fmt.Errorf("telegram api error: %s", strings.TrimSpace(parsed.Description))
	}
	return nil
}

func (t *TelegramNotifier) send(ctx context.Context, payload telegramSendMessageRequest) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	endpoint := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, respBody, nil
}

type telegramSendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramSendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

type telegramErrorResponse struct {
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}
