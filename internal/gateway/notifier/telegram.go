package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// 中文说明：
// Telegram 通知器：成交、跳过、OCO 挂单等事件推送至指定群/频道（纯文本）。

const (
	defaultTelegramAPI = "https://api.telegram.org"
	telegramAttempts   = 3
	maxRetryAfter      = 30 * time.Second
)

type Telegram struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client
	// attempt i waits (i+1)*Backoff unless the API sends retry_after.
	Backoff time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  defaultTelegramAPI,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Backoff:  time.Second,
	}
}

// telegramError is a failed sendMessage; retryable for 429 and 5xx.
type telegramError struct {
	status     int
	desc       string
	retryAfter time.Duration
}

func (e *telegramError) Error() string {
	if e.desc == "" {
		return fmt.Sprintf("telegram status=%d", e.status)
	}
	return fmt.Sprintf("telegram status=%d: %s", e.status, e.desc)
}

func (e *telegramError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// SendText 发送文本消息；429/5xx/网络错误最多重试 3 次，其余 4xx 直接返回。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	body, err := json.Marshal(map[string]any{"chat_id": t.ChatID, "text": text})
	if err != nil {
		return err
	}
	var lastErr error
	for i := 0; i < telegramAttempts; i++ {
		wait := time.Duration(i+1) * t.Backoff
		lastErr = t.send(ctx, body)
		if lastErr == nil {
			return nil
		}
		var tgErr *telegramError
		if errors.As(lastErr, &tgErr) {
			if !tgErr.retryable() {
				return lastErr
			}
			if tgErr.retryAfter > 0 {
				wait = min(tgErr.retryAfter, maxRetryAfter)
			}
		}
		if i == telegramAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func (t *Telegram) send(ctx context.Context, body []byte) error {
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/bot"+t.BotToken+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 == 2 {
		return nil
	}
	doc := gjson.ParseBytes(raw)
	return &telegramError{
		status:     resp.StatusCode,
		desc:       doc.Get("description").String(),
		retryAfter: time.Duration(doc.Get("parameters.retry_after").Int()) * time.Second,
	}
}
