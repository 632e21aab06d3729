package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/masking"
	"go.uber.org/zap"
)

// Message: то, что уходит в канальный шлюз
type Message struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Channel        domain.Channel `json:"channel"`
	Recipient      string         `json:"recipient"`
	Content        string         `json:"content"`
}

func messageFrom(rec *domain.OutboxRecord) Message {
	return Message{
		ID:             rec.ID,
		TenantID:       rec.TenantID,
		IdempotencyKey: rec.IdempotencyKey,
		Channel:        rec.Channel,
		Recipient:      rec.Recipient,
		Content:        rec.Content,
	}
}

// Transport: канальный шлюз (SMS/e-mail/push/чат)
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// LogTransport ничего не отправляет: пишет замаскированную строку в лог.
// Для локального запуска и стендов без шлюза.
type LogTransport struct {
	logger     *zap.Logger
	masker     *masking.Masker
	maxLatency time.Duration
}

func NewLogTransport(logger *zap.Logger, maxLatency time.Duration) *LogTransport {
	return &LogTransport{logger: logger.Named("log-transport"), masker: masking.New(), maxLatency: maxLatency}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	if t.maxLatency > 0 {
		// Имитируем задержку шлюза
		latency := time.Duration(rand.Int64N(int64(t.maxLatency)))
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.logger.Info("message delivered",
		zap.String("outbox_id", msg.ID),
		zap.String("tenant_id", msg.TenantID),
		zap.String("channel", string(msg.Channel)),
		t.masker.Field("recipient", msg.Recipient),
		zap.Int("content_len", len(msg.Content)),
	)
	return nil
}

// WebhookTransport отдаёт сообщение во внешний шлюз POST-запросом с JSON.
// 429 -> ThrottleError (Retry-After), прочие 4xx -> PermanentError, 5xx -> временная ошибка.
type WebhookTransport struct {
	url    string
	client *http.Client
}

func NewWebhookTransport(url string, timeout time.Duration) *WebhookTransport {
	return &WebhookTransport{url: url, client: &http.Client{Timeout: timeout}}
}

func (t *WebhookTransport) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &PermanentError{Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	// Шлюз может дедуплицировать по этому заголовку
	req.Header.Set("Idempotency-Key", msg.IdempotencyKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ThrottleError{RetryAfter: retryAfter(resp.Header.Get("Retry-After")), Cause: fmt.Errorf("webhook: status %d", resp.StatusCode)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &PermanentError{Cause: fmt.Errorf("webhook: status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return time.Second
}
