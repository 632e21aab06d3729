package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/infra"
	"go.uber.org/zap"
)

// PauseMember: элемент множества и payload сигнала паузы: "tenant|action|YYYY-MM-DD"
func PauseMember(tenantID string, at domain.ActionType, windowStart time.Time) string {
	return strings.Join([]string{tenantID, string(at), domain.DayKey(windowStart)}, "|")
}

// PauseBoard: локальный кэш окон на паузе, которые объявили другие инстансы.
// Только подсказка: без него лимитер всё равно получит отказ от БД.
type PauseBoard struct {
	mu     sync.RWMutex
	paused map[string]struct{}
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewPauseBoard(rdb *redis.Client, logger *zap.Logger) *PauseBoard {
	return &PauseBoard{
		paused: make(map[string]struct{}),
		rdb:    rdb,
		logger: logger.Named("pause-board"),
		now:    time.Now,
	}
}

func (b *PauseBoard) IsPaused(tenantID string, at domain.ActionType, windowStart time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.paused[PauseMember(tenantID, at, windowStart)]
	return ok
}

func (b *PauseBoard) MarkPaused(tenantID string, at domain.ActionType, windowStart time.Time) {
	b.mark(PauseMember(tenantID, at, windowStart))
}

// Unmark: окно снято с паузы оператором
func (b *PauseBoard) Unmark(tenantID string, at domain.ActionType, windowStart time.Time) {
	b.unmark(PauseMember(tenantID, at, windowStart))
}

func (b *PauseBoard) mark(member string) {
	if strings.Count(member, "|") != 2 {
		b.logger.Warn("malformed pause signal ignored", zap.String("payload", member))
		return
	}
	b.mu.Lock()
	b.paused[member] = struct{}{}
	b.mu.Unlock()
}

func (b *PauseBoard) unmark(member string) {
	b.mu.Lock()
	delete(b.paused, member)
	b.mu.Unlock()
}

// Init заменяет доску содержимым множества в Redis за текущие сутки.
// Отметки, которых в множестве уже нет (снятые оператором, прошлые сутки), выбрасываются.
func (b *PauseBoard) Init(ctx context.Context) error {
	if b.rdb == nil {
		return nil
	}
	start, _ := domain.DayWindow(b.now())
	members, err := b.rdb.SMembers(ctx, infra.SafetyPausedSetKey(start)).Result()
	if err != nil {
		return err
	}

	fresh := make(map[string]struct{}, len(members))
	for _, m := range members {
		fresh[m] = struct{}{}
	}
	b.mu.Lock()
	b.paused = fresh
	b.mu.Unlock()

	b.logger.Info("pause board synced", zap.Int("paused_windows", len(members)))
	return nil
}

// Listen держит подписки на сигналы паузы и снятия паузы до отмены ctx
func (b *PauseBoard) Listen(ctx context.Context) {
	if b.rdb == nil {
		return
	}
	go infra.ListenResilient(ctx, b.rdb, b.logger, infra.RedisChanSafetyResume, nil, func(payload string) {
		b.logger.Info("window resumed by operator", zap.String("window", payload))
		b.unmark(payload)
	})
	infra.ListenResilient(ctx, b.rdb, b.logger, infra.RedisChanSafetyPause, b.Init, func(payload string) {
		b.logger.Info("window paused by peer", zap.String("window", payload))
		b.mark(payload)
	})
}
