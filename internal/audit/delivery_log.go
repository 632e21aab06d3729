package audit

/*
Файл delivery_log.go: журнал попыток доставки outbox-воркера.

Попытки пишутся асинхронно: воркер не ждёт БД на каждом сообщении,
события копятся в буфере и сбрасываются пачкой (COPY) по таймеру или
при достижении размера пачки. Stop закрывает вход и дожидается финального
flush, поэтому при остановке воркера попытки не теряются.
Источник истины по статусу: сама outbox_records; этот журнал для разбора
инцидентов, поэтому при переполнении буфера событие сбрасывается в лог.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
	"go.uber.org/zap"
)

// AttemptStore определяет, куда физически пишутся попытки
type AttemptStore interface {
	WriteBatch(ctx context.Context, batch []domain.DeliveryAttempt) error
}

const (
	defaultBufferSize = 10000
	flushBatchSize    = 100
	flushInterval     = 500 * time.Millisecond
)

type DeliveryLog struct {
	ch     chan domain.DeliveryAttempt
	repo   AttemptStore
	logger *zap.Logger
	wg     sync.WaitGroup
	// После Stop запись в закрытый канал недопустима
	isClosed int32
}

func NewDeliveryLog(repo AttemptStore, logger *zap.Logger, bufferSize int) *DeliveryLog {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &DeliveryLog{
		ch:     make(chan domain.DeliveryAttempt, bufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "delivery-log")),
	}
}

func (l *DeliveryLog) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop запирает вход и ждёт, пока воркер всё допишет
func (l *DeliveryLog) Stop() {
	if !atomic.CompareAndSwapInt32(&l.isClosed, 0, 1) {
		return
	}
	// Даём текущим Record проскочить
	time.Sleep(10 * time.Millisecond)

	l.logger.Info("stopping delivery log: closing channel and flushing buffer...")
	close(l.ch)
	l.wg.Wait()
	l.logger.Info("delivery log stopped gracefully")
}

// Len текущая заполненность буфера (для метрики backpressure)
func (l *DeliveryLog) Len() int { return len(l.ch) }

func (l *DeliveryLog) Record(a domain.DeliveryAttempt) {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}
	if atomic.LoadInt32(&l.isClosed) == 1 {
		l.logger.Warn("delivery attempt dropped: log is stopping", zap.String("outbox_id", a.OutboxID))
		return
	}

	// Load shedding: доставку не тормозим из-за журнала
	select {
	case l.ch <- a:
	default:
		l.logger.Error("delivery_log_buffer_overflow",
			zap.String("outbox_id", a.OutboxID),
			zap.String("tenant_id", a.TenantID),
			zap.String("outcome", string(a.Outcome)),
		)
	}
}

func (l *DeliveryLog) worker() {
	defer l.wg.Done()

	batch := make([]domain.DeliveryAttempt, 0, flushBatchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст сервиса к этому моменту может быть отменён
		if err := l.repo.WriteBatch(context.Background(), batch); err != nil {
			l.logger.Error("delivery log flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case a, ok := <-l.ch:
			if !ok {
				flush()
				l.logger.Info("delivery log worker finished")
				return
			}
			batch = append(batch, a)
			if len(batch) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
