package domain

import (
	"errors"
	"time"
)

// TaskStatus статусы конечного автомата задачи
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskApproved TaskStatus = "approved"
	TaskExecuted TaskStatus = "executed"
	TaskFailed   TaskStatus = "failed"
	TaskExpired  TaskStatus = "expired"
)

// TaskType тип сигнала, породившего задачу (входит в dedup key)
type TaskType string

const (
	TaskTypeAbsence         TaskType = "absence"
	TaskTypeOverduePayment  TaskType = "overdue_payment"
	TaskTypeScheduleChange  TaskType = "schedule_change"
	TaskTypeNewRegistration TaskType = "new_registration"
)

var (
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrTaskTerminal      = errors.New("task is in a terminal state")
)

// SuggestedAction: что генератор предлагает выполнить: ключ интента + параметры.
type SuggestedAction struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params"`
}

type Task struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	DedupKey        string          `json:"dedup_key"`
	TaskType        TaskType        `json:"task_type"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Priority        int             `json:"priority"`
	Status          TaskStatus      `json:"status"`
	ExpiresAt       time.Time       `json:"expires_at"`
	SuggestedAction SuggestedAction `json:"suggested_action"`

	// Plan фиксируется один раз при переходе в approved
	Plan       *Plan      `json:"plan,omitempty"`
	ApprovedBy *string    `json:"approved_by,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskExecuted, TaskFailed, TaskExpired:
		return true
	}
	return false
}

// CanTransitionTo проверяет правила конечного автомата:
// pending -> approved -> executed, failed/expired из любого нетерминального.
func (t *Task) CanTransitionTo(next TaskStatus) error {
	if t.Status.IsTerminal() {
		return ErrTaskTerminal
	}
	switch next {
	case TaskFailed, TaskExpired:
		return nil
	case TaskApproved:
		if t.Status == TaskPending {
			return nil
		}
	case TaskExecuted:
		if t.Status == TaskApproved {
			return nil
		}
	}
	return ErrInvalidTransition
}

// IsExpired true, если задача всё ещё ждёт решения, а срок уже вышел
func (t *Task) IsExpired(now time.Time) bool {
	return t.Status == TaskPending && !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
