package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qxtrader/model"
	"qxtrader/utils/log"
	"qxtrader/utils/resty"
)

const (
	DefaultTelegramAPI = "https://api.telegram.org"
	sendMessagePath    = "/bot%s/sendMessage"
	sendTimeout        = 10 * time.Second
)

var ErrNotConfigured = errors.New("telegram notifier is not configured")

type TelegramNotifier struct {
	BotToken string
	ChatID   string

	apiBase string
	client  resty.RestyClient
}

type Option func(*TelegramNotifier)

func WithRestyClient(client resty.RestyClient) Option {
	return func(t *TelegramNotifier) {
		t.client = client
	}
}

func WithAPIBase(base string) Option {
	return func(t *TelegramNotifier) {
		t.apiBase = strings.TrimRight(base, "/")
	}
}

func NewTelegramNotifier(botToken, chatID string, options ...Option) *TelegramNotifier {
	t := &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		apiBase:  DefaultTelegramAPI,
	}
	for _, option := range options {
		option(t)
	}
	if t.client == nil {
		t.client = resty.NewDefaultRestyClientWithRetryCount(false, 2, sendTimeout)
	}
	return t
}

func (t *TelegramNotifier) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

func (t *TelegramNotifier) SendNotification(message string) error {
	if !t.Enabled() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	apiURL := t.apiBase + fmt.Sprintf(sendMessagePath, t.BotToken)
	body := map[string]string{
		"chat_id": t.ChatID,
		"text":    message,
	}
	resp, err := t.client.MakeRequest(ctx, body, nil, resty.ContentTypeJSON).Post(apiURL)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// OperationNotifier 는 매수 결과(성공/실패/정산)를 알림으로 보낸다. 전송 실패는 로그만 남긴다.
func (t *TelegramNotifier) OperationNotifier(op model.Operation, err error) {
	if sendErr := t.SendNotification(FormatOperation(op, err)); sendErr != nil {
		log.Warnf("[NOTIFY] telegram send failed: %v", sendErr)
	}
}

func FormatOperation(op model.Operation, err error) string {
	action := strings.ToUpper(string(op.Direction))
	switch {
	case err != nil:
		return fmt.Sprintf("%s Failed: %s | Reason: %v", action, op.Asset, err)
	case op.Settled():
		return fmt.Sprintf("%s %s: %s | Amount: %.2f | Profit: %.2f",
			action, op.Result, op.Asset, op.Amount, op.Profit)
	}
	return fmt.Sprintf("%s Executed: %s at %.5f | Amount: %.2f | ID: %s",
		action, op.Asset, op.OpenPrice, op.Amount, op.ID)
}

// FormatSignal 전략 신호 알림 문구
func FormatSignal(asset string, direction model.Direction, confidence float64) string {
	return fmt.Sprintf("%s Signal for %s! Confidence: %.2f%%", strings.ToUpper(string(direction)), asset, confidence)
}
