package engine

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/infra"
	"go.uber.org/zap"
)

// WindowResumer: ручное снятие паузы (postgres.Repo)
type WindowResumer interface {
	ResumeWindow(ctx context.Context, tenantID string, at domain.ActionType, start time.Time, now time.Time) (bool, error)
}

// ResumeWindow снимает паузу окна на сутки day. Сначала БД, потом подсказки:
// элемент убирается из множества в Redis, инстансы получают сигнал resume.
// Счётчик не сбрасывается: без поднятого max_allowed следующее действие снова поставит паузу.
// false: окно не было на паузе.
func ResumeWindow(ctx context.Context, store WindowResumer, board *PauseBoard, rdb *redis.Client, logger *zap.Logger, tenantID string, at domain.ActionType, day time.Time) (bool, error) {
	start, _ := domain.DayWindow(day)
	resumed, err := store.ResumeWindow(ctx, tenantID, at, start, time.Now().UTC())
	if err != nil {
		return false, domain.WrapError(domain.CodeQueryFailed, "resume safety window", err)
	}

	member := PauseMember(tenantID, at, start)
	if board != nil {
		board.Unmark(tenantID, at, start)
	}
	// Подсказки чистим и когда строка уже normal: после ручного UPDATE в БД
	if rdb != nil {
		pipe := rdb.TxPipeline()
		pipe.SRem(ctx, infra.SafetyPausedSetKey(start), member)
		pipe.Publish(ctx, infra.RedisChanSafetyResume, member)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("resume announcement failed", zap.String("member", member), zap.Error(err))
		}
	}

	logger.Info("safety window resumed",
		zap.String("tenant_id", tenantID),
		zap.String("action_type", string(at)),
		zap.String("window", domain.DayKey(start)),
		zap.Bool("was_paused", resumed))
	return resumed, nil
}
