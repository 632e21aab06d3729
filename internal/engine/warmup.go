package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/infra"
	"go.uber.org/zap"
)

// PausedWindowLister: окна на паузе из БД (источник истины)
type PausedWindowLister interface {
	PausedWindows(ctx context.Context, start time.Time) ([]domain.SafetyWindow, error)
}

// WarmupPauseBoard прогревает локальную доску (L1) и множество в Redis (L2) из БД.
// Redis мог потерять данные после рестарта; паузы из БД важнее.
func WarmupPauseBoard(ctx context.Context, store PausedWindowLister, board *PauseBoard, rdb *redis.Client, logger *zap.Logger, now time.Time) error {
	start, _ := domain.DayWindow(now)
	windows, err := store.PausedWindows(ctx, start)
	if err != nil {
		return err
	}

	members := make([]string, 0, len(windows))
	for _, w := range windows {
		board.MarkPaused(w.TenantID, w.ActionType, w.WindowStart)
		members = append(members, PauseMember(w.TenantID, w.ActionType, w.WindowStart))
	}
	if rdb == nil || len(members) == 0 {
		return nil
	}

	// Только один инстанс заливает Redis
	lockKey := infra.SafetyPausedSetKey(start) + ":warmup_lock"
	ok, err := rdb.SetNX(ctx, lockKey, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil
	}

	setKey := infra.SafetyPausedSetKey(start)
	count, err := rdb.SCard(ctx, setKey).Result()
	if err != nil {
		count = 0
		logger.Warn("could not check paused set size, proceeding with warm-up",
			zap.String("key", setKey), zap.Error(err))
	}
	if count >= int64(len(members)) {
		return nil
	}

	logger.Info("paused set is behind the database, performing warm-up",
		zap.String("key", setKey), zap.Int("count", len(members)))

	pipe := rdb.Pipeline()
	for _, m := range members {
		pipe.SAdd(ctx, setKey, m)
	}
	pipe.Expire(ctx, setKey, 48*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}
