package engine

/*
Лимитер безопасности: суточный бюджет действий на (тенант, action type).
Счётчик живёт только в БД, одна строка на окно. Допуск: один условный UPDATE,
поэтому параллельные исполнения не превышают max_allowed. Первый отказ
переводит окно в paused; снять паузу изнутри подсистемы нельзя,
только оператор через ResumeWindow. Окно на паузе отклоняется раньше,
чем читается max_allowed из политики.
*/

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/infra"
	"go.uber.org/zap"
)

var (
	ErrSafetyPaused  = domain.NewError(domain.CodePaused, "automation window is paused")
	ErrLimitExceeded = domain.NewError(domain.CodeLimitExceeded, "daily automation limit exceeded")
)

// SafetyStore: операции над automation_safety_state
type SafetyStore interface {
	EnsureWindow(ctx context.Context, w domain.SafetyWindow) error
	TryIncrement(ctx context.Context, tenantID string, at domain.ActionType, start time.Time, maxAllowed int, now time.Time) (int, bool, error)
	Pause(ctx context.Context, tenantID string, at domain.ActionType, start time.Time, now time.Time) (bool, error)
	GetWindow(ctx context.Context, tenantID string, at domain.ActionType, start time.Time) (*domain.SafetyWindow, error)
}

// LimitSource: откуда берётся max_allowed (policy.Evaluator)
type LimitSource interface {
	MaxAllowed(ctx context.Context, tenantID string, at domain.ActionType) (int, error)
}

type SafetyLimiter struct {
	store   SafetyStore
	limits  LimitSource
	board   *PauseBoard // nil: без быстрого пути
	rdb     *redis.Client
	metrics *Metrics
	logger  *zap.Logger
}

func NewSafetyLimiter(store SafetyStore, limits LimitSource, board *PauseBoard, rdb *redis.Client, metrics *Metrics, logger *zap.Logger) *SafetyLimiter {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &SafetyLimiter{
		store:   store,
		limits:  limits,
		board:   board,
		rdb:     rdb,
		metrics: metrics,
		logger:  logger.Named("safety-limiter"),
	}
}

// Admit резервирует одно действие в сегодняшнем окне.
// Ошибки: ErrSafetyPaused, ErrLimitExceeded, ErrPolicyMissing (нет лимита), QUERY_FAILED.
func (l *SafetyLimiter) Admit(ctx context.Context, tenantID string, at domain.ActionType, now time.Time) (domain.Admission, error) {
	start, end := domain.DayWindow(now)
	log := l.logger.With(
		zap.String("tenant_id", tenantID),
		zap.String("action_type", string(at)),
		zap.String("window", domain.DayKey(start)),
	)

	// Подсказка из Redis: окно уже на паузе, в БД не ходим
	if l.board != nil && l.board.IsPaused(tenantID, at, start) {
		l.metrics.LimiterDecisions.WithLabelValues(string(at), string(domain.CodePaused)).Inc()
		return domain.Admission{}, ErrSafetyPaused
	}

	maxAllowed, err := l.limits.MaxAllowed(ctx, tenantID, at)
	if err != nil {
		// Пауза в БД важнее пропавшей политики
		if w, wErr := l.store.GetWindow(ctx, tenantID, at, start); wErr == nil && w.State == domain.SafetyPaused {
			l.metrics.LimiterDecisions.WithLabelValues(string(at), string(domain.CodePaused)).Inc()
			log.Info("limiter rejected: window paused")
			return domain.Admission{}, ErrSafetyPaused
		}
		l.metrics.LimiterDecisions.WithLabelValues(string(at), "no_policy").Inc()
		log.Warn("limiter rejected: max_allowed unavailable", zap.Error(err))
		return domain.Admission{}, err
	}

	if err := l.store.EnsureWindow(ctx, domain.SafetyWindow{
		TenantID:    tenantID,
		ActionType:  at,
		WindowStart: start,
		WindowEnd:   end,
		MaxAllowed:  maxAllowed,
		State:       domain.SafetyNormal,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}); err != nil {
		return domain.Admission{}, domain.WrapError(domain.CodeQueryFailed, "ensure safety window", err)
	}

	count, ok, err := l.store.TryIncrement(ctx, tenantID, at, start, maxAllowed, now.UTC())
	if err != nil {
		return domain.Admission{}, domain.WrapError(domain.CodeQueryFailed, "increment safety window", err)
	}
	if ok {
		l.metrics.LimiterDecisions.WithLabelValues(string(at), "admitted").Inc()
		return domain.Admission{
			TenantID:      tenantID,
			ActionType:    at,
			WindowStart:   start,
			ExecutedCount: count,
			MaxAllowed:    maxAllowed,
		}, nil
	}

	// Строка не обновилась: окно уже на паузе или бюджет исчерпан
	flipped, err := l.store.Pause(ctx, tenantID, at, start, now.UTC())
	if err != nil {
		return domain.Admission{}, domain.WrapError(domain.CodeQueryFailed, "pause safety window", err)
	}
	if !flipped {
		l.metrics.LimiterDecisions.WithLabelValues(string(at), string(domain.CodePaused)).Inc()
		log.Info("limiter rejected: window paused")
		return domain.Admission{}, ErrSafetyPaused
	}

	l.metrics.LimiterDecisions.WithLabelValues(string(at), string(domain.CodeLimitExceeded)).Inc()
	log.Warn("daily limit reached, window paused", zap.Int("max_allowed", maxAllowed))
	if l.board != nil {
		l.board.MarkPaused(tenantID, at, start)
	}
	l.announce(ctx, tenantID, at, start)
	return domain.Admission{}, ErrLimitExceeded
}

// announce: advisory: другие инстансы узнают о паузе без запроса в БД
func (l *SafetyLimiter) announce(ctx context.Context, tenantID string, at domain.ActionType, start time.Time) {
	if l.rdb == nil {
		return
	}
	member := PauseMember(tenantID, at, start)
	pipe := l.rdb.TxPipeline()
	pipe.SAdd(ctx, infra.SafetyPausedSetKey(start), member)
	pipe.Expire(ctx, infra.SafetyPausedSetKey(start), 48*time.Hour)
	pipe.Publish(ctx, infra.RedisChanSafetyPause, member)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn("pause announcement failed", zap.String("member", member), zap.Error(err))
	}
}
