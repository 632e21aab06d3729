package infra

import (
	"fmt"
	"time"
)

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "academy:automation"
)

// Каналы Pub/Sub. Сигналы только advisory: источник истины: PostgreSQL.
const (
	// RedisChanOutboxWake: диспетчер будит воркер после создания записи
	RedisChanOutboxWake = RedisNamespace + ":outbox:wake"
	// RedisChanSafetyPause: окно лимитера перешло в paused
	RedisChanSafetyPause = RedisNamespace + ":safety:paused"
	// RedisChanSafetyResume: оператор снял паузу окна
	RedisChanSafetyResume = RedisNamespace + ":safety:resumed"
)

// SafetyPausedSetKey множество "tenant|action_type" окон, поставленных на паузу за сутки
func SafetyPausedSetKey(day time.Time) string {
	return fmt.Sprintf("%s:safety:paused_set:%s", RedisNamespace, day.UTC().Format("2006-01-02"))
}
