package domain

import "time"

type SafetyState string

const (
	SafetyNormal SafetyState = "normal"
	SafetyPaused SafetyState = "paused"
)

// SafetyWindow: строка automation_safety_state за одни сутки (UTC).
// Инвариант: ExecutedCount <= MaxAllowed; paused не снимается изнутри подсистемы.
type SafetyWindow struct {
	TenantID      string      `json:"tenant_id"`
	ActionType    ActionType  `json:"action_type"`
	WindowStart   time.Time   `json:"window_start"`
	WindowEnd     time.Time   `json:"window_end"`
	ExecutedCount int         `json:"executed_count"`
	MaxAllowed    int         `json:"max_allowed"`
	State         SafetyState `json:"state"`
	PausedAt      *time.Time  `json:"paused_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// DayWindow возвращает границы суточного окна [start, end) в UTC
func DayWindow(now time.Time) (time.Time, time.Time) {
	u := now.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// DayKey формат дня, который входит в dedup и idempotency ключи
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Admission результат успешного допуска лимитером
type Admission struct {
	TenantID      string     `json:"tenant_id"`
	ActionType    ActionType `json:"action_type"`
	WindowStart   time.Time  `json:"window_start"`
	ExecutedCount int        `json:"executed_count"`
	MaxAllowed    int        `json:"max_allowed"`
}
