package outbox

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/infra"
	"github.com/xela07ax/academy-automation/internal/masking"
	"go.uber.org/zap"
)

// WorkerStore: аренда и завершение записей outbox
type WorkerStore interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.OutboxRecord, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	RecordFailure(ctx context.Context, id, errMsg string, next time.Time, terminal bool, now time.Time) error
}

// AttemptRecorder: журнал попыток (audit.DeliveryLog)
type AttemptRecorder interface {
	Record(a domain.DeliveryAttempt)
	Len() int
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c *WorkerConfig) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
}

// Worker забирает готовые записи и отправляет их через Transport.
// Опрос: источник истины; сигнал Redis только будит раньше.
type Worker struct {
	store     WorkerStore
	transport Transport
	attempts  AttemptRecorder
	rdb       *redis.Client
	cfg       WorkerConfig
	metrics   *Metrics
	masker    *masking.Masker
	logger    *zap.Logger
	wake      chan struct{}
	now       func() time.Time
}

func NewWorker(store WorkerStore, transport Transport, attempts AttemptRecorder, rdb *redis.Client, cfg WorkerConfig, metrics *Metrics, logger *zap.Logger) *Worker {
	cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Worker{
		store:     store,
		transport: transport,
		attempts:  attempts,
		rdb:       rdb,
		cfg:       cfg,
		metrics:   metrics,
		masker:    masking.New(),
		logger:    logger.Named("outbox-worker"),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Nudge будит воркер, не блокируясь
func (w *Worker) Nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run крутится до отмены ctx
func (w *Worker) Run(ctx context.Context) error {
	if w.rdb != nil {
		go infra.ListenResilient(ctx, w.rdb, w.logger, infra.RedisChanOutboxWake,
			func(context.Context) error {
				// После переподключения могли пропустить сигналы: проверяем очередь сразу
				w.Nudge()
				return nil
			},
			func(string) { w.Nudge() },
		)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopping")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}

		// Вычерпываем очередь, пока приходят полные пачки
		for {
			n, err := w.ProcessBatch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("outbox batch failed", zap.Error(err))
				}
				break
			}
			if n < w.cfg.BatchSize || ctx.Err() != nil {
				break
			}
		}
	}
}

// ProcessBatch арендует до BatchSize записей и обрабатывает их по очереди
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	recs, err := w.store.ClaimDue(ctx, w.now().UTC(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			// Остальные вернутся в очередь по истечении аренды
			return len(recs), ctx.Err()
		}
		w.deliver(ctx, rec)
	}
	if w.attempts != nil {
		w.metrics.AttemptBufferFill.Set(float64(w.attempts.Len()))
	}
	return len(recs), nil
}

func (w *Worker) deliver(ctx context.Context, rec *domain.OutboxRecord) {
	start := w.now()
	err := w.transport.Send(ctx, messageFrom(rec))
	elapsed := w.now().Sub(start)
	w.metrics.SendDuration.WithLabelValues(string(rec.Channel)).Observe(elapsed.Seconds())

	log := w.logger.With(
		zap.String("outbox_id", rec.ID),
		zap.String("tenant_id", rec.TenantID),
		zap.String("channel", string(rec.Channel)),
		w.masker.Field("recipient", rec.Recipient),
	)
	now := w.now().UTC()

	if err == nil {
		if mErr := w.store.MarkSent(ctx, rec.ID, now); mErr != nil {
			log.Error("mark sent failed", zap.Error(mErr))
			return
		}
		w.metrics.Deliveries.WithLabelValues(string(rec.Channel), "sent").Inc()
		w.record(rec, rec.RetryCount+1, domain.OutboxSent, "", elapsed, now)
		log.Debug("outbox record sent")
		return
	}

	// Шлюз выбит или нас остановили: попытку не засчитываем, запись вернётся после аренды
	if errors.Is(err, ErrCircuitOpen) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		w.metrics.Deliveries.WithLabelValues(string(rec.Channel), "skipped").Inc()
		log.Warn("delivery skipped", zap.Error(err))
		return
	}

	terminal := IsPermanent(err) || rec.RetryCount+1 >= rec.MaxRetries
	next := now.Add(w.backoff(rec.RetryCount))
	msg := w.masker.MaskString(err.Error())
	if fErr := w.store.RecordFailure(ctx, rec.ID, msg, next, terminal, now); fErr != nil {
		log.Error("record failure failed", zap.Error(fErr))
		return
	}

	outcome := domain.OutboxPending
	label := "retry"
	if terminal {
		outcome = domain.OutboxFailed
		label = "failed"
	}
	w.metrics.Deliveries.WithLabelValues(string(rec.Channel), label).Inc()
	w.record(rec, rec.RetryCount+1, outcome, msg, elapsed, now)

	if terminal {
		log.Error("outbox record failed permanently", zap.Int("retry_count", rec.RetryCount+1), zap.Error(err))
	} else {
		log.Warn("outbox delivery failed, will retry", zap.Time("next_attempt_at", next), zap.Error(err))
	}
}

// backoff экспоненциальный: base * 2^retry, не больше MaxBackoff
func (w *Worker) backoff(retry int) time.Duration {
	d := float64(w.cfg.BaseBackoff) * math.Pow(2, float64(retry))
	if d > float64(w.cfg.MaxBackoff) {
		return w.cfg.MaxBackoff
	}
	return time.Duration(d)
}

func (w *Worker) record(rec *domain.OutboxRecord, attempt int, outcome domain.OutboxStatus, errMsg string, d time.Duration, at time.Time) {
	if w.attempts == nil {
		return
	}
	w.attempts.Record(domain.DeliveryAttempt{
		ID:         uuid.New().String(),
		OutboxID:   rec.ID,
		TenantID:   rec.TenantID,
		Channel:    rec.Channel,
		Attempt:    attempt,
		Outcome:    outcome,
		Error:      errMsg,
		Duration:   d,
		OccurredAt: at,
	})
}
