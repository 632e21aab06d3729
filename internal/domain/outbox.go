package domain

import "time"

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxRecord: намерение отправить сообщение. Одна строка на idempotency_key.
type OutboxRecord struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	IdempotencyKey string       `json:"idempotency_key"`
	TaskID         string       `json:"task_id"`
	IntentKey      string       `json:"intent_key"`
	Channel        Channel      `json:"channel"`
	Recipient      string       `json:"recipient"`
	Content        string       `json:"content"`
	Status         OutboxStatus `json:"status"`
	RetryCount     int          `json:"retry_count"`
	MaxRetries     int          `json:"max_retries"`
	SuccessCount   int          `json:"success_count"`
	FailureCount   int          `json:"failure_count"`
	LastError      *string      `json:"last_error,omitempty"`
	NextAttemptAt  time.Time    `json:"next_attempt_at"`
	LeaseUntil     *time.Time   `json:"lease_until,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
}

// OutboxMessage вход диспетчера: всё, из чего собирается запись и её ключ
type OutboxMessage struct {
	TenantID    string
	TaskID      string
	IntentKey   string
	TargetID    string // объект сигнала
	RecipientID string
	Channel     Channel
	Recipient   string
	TemplateID  string
	Content     string
	MaxRetries  int
	Day         time.Time
}

// DeliveryAttempt: одна попытка воркера отправить запись (для журнала попыток)
type DeliveryAttempt struct {
	ID         string        `json:"id"`
	OutboxID   string        `json:"outbox_id"`
	TenantID   string        `json:"tenant_id"`
	Channel    Channel       `json:"channel"`
	Attempt    int           `json:"attempt"`
	Outcome    OutboxStatus  `json:"outcome"` // sent, pending (ретрай), failed
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurred_at"`
}
