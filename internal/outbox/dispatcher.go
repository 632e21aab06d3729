package outbox

/*
Диспетчер outbox: превращает сообщение хендлера в строку outbox_records.
Ключ идемпотентности детерминирован по (тенант, интент, объект сигнала,
получатель, канал, шаблон, день), поэтому повторные исполнения и дубли триггеров сходятся к одной строке.
Сам диспетчер ничего не отправляет: это делает Worker.
*/

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Store: запись outbox с семантикой insert-or-return-existing
type Store interface {
	CreateOutbox(ctx context.Context, rec *domain.OutboxRecord) (*domain.OutboxRecord, bool, error)
}

const defaultMaxRetries = 5

// IdempotencyKey = hex(BLAKE2b-256("tenant|intent|target|recipient|channel|template|day")), день в UTC
func IdempotencyKey(tenantID, intentKey, targetID, recipientID string, ch domain.Channel, templateID string, day time.Time) string {
	raw := strings.Join([]string{tenantID, intentKey, targetID, recipientID, string(ch), templateID, domain.DayKey(day)}, "|")
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type Dispatcher struct {
	store   Store
	rdb     *redis.Client // nil: без пробуждения воркера, он найдёт запись опросом
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewDispatcher(store Store, rdb *redis.Client, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		store:   store,
		rdb:     rdb,
		logger:  logger.Named("outbox-dispatcher"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Dispatch создаёт pending запись или возвращает существующую (второй результат false)
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.OutboxMessage) (*domain.OutboxRecord, bool, error) {
	if msg.TenantID == "" || msg.IntentKey == "" || msg.TargetID == "" || msg.RecipientID == "" || msg.Recipient == "" || msg.Channel == "" {
		return nil, false, domain.NewError(domain.CodeInvalidParams, "outbox message is missing tenant, intent, target, channel or recipient")
	}
	if msg.Content == "" {
		return nil, false, domain.NewError(domain.CodeNotificationCreationFailed, "outbox message has empty content")
	}

	now := d.now().UTC()
	day := msg.Day
	if day.IsZero() {
		day = now
	}
	maxRetries := msg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	rec := &domain.OutboxRecord{
		ID:             uuid.New().String(),
		TenantID:       msg.TenantID,
		IdempotencyKey: IdempotencyKey(msg.TenantID, msg.IntentKey, msg.TargetID, msg.RecipientID, msg.Channel, msg.TemplateID, day),
		TaskID:         msg.TaskID,
		IntentKey:      msg.IntentKey,
		Channel:        msg.Channel,
		Recipient:      msg.Recipient,
		Content:        msg.Content,
		Status:         domain.OutboxPending,
		MaxRetries:     maxRetries,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	saved, created, err := d.store.CreateOutbox(ctx, rec)
	if err != nil {
		d.metrics.Dispatched.WithLabelValues("error").Inc()
		return nil, false, domain.WrapError(domain.CodeOutboxCreationFailed, "create outbox record", err)
	}
	if !created {
		d.metrics.Dispatched.WithLabelValues("deduplicated").Inc()
		d.logger.Debug("outbox record already exists",
			zap.String("outbox_id", saved.ID),
			zap.String("status", string(saved.Status)))
		return saved, false, nil
	}

	d.metrics.Dispatched.WithLabelValues("created").Inc()
	d.nudge(ctx, saved.ID)
	return saved, true, nil
}

// nudge: advisory сигнал воркеру. Ошибка не влияет на результат: запись уже в БД.
func (d *Dispatcher) nudge(ctx context.Context, id string) {
	if d.rdb == nil {
		return
	}
	if err := d.rdb.Publish(ctx, infra.RedisChanOutboxWake, id).Err(); err != nil {
		d.logger.Warn("outbox wake-up publish failed", zap.String("outbox_id", id), zap.Error(err))
	}
}
