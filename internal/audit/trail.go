package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/masking"
	"go.uber.org/zap"
)

// ActionLogStore: append-only хранилище журнала переходов задач
type ActionLogStore interface {
	AppendActionLog(ctx context.Context, entry *domain.ActionLog) error
	LatestActionLog(ctx context.Context, tenantID, taskID string, at domain.LogActionType) (*domain.ActionLog, error)
}

// Entry: то, что оркестратор передаёт в журнал. Маскирование делает Trail.
type Entry struct {
	TenantID   string
	TaskID     string
	ActionType domain.LogActionType
	ExecutedBy string
	ApprovedBy *string
	Result     map[string]any
	Context    map[string]any
}

// Trail пишет журнал синхронно: переход без записи в журнал не считается завершённым
type Trail struct {
	store  ActionLogStore
	masker *masking.Masker
	logger *zap.Logger
	now    func() time.Time
}

func NewTrail(store ActionLogStore, masker *masking.Masker, logger *zap.Logger) *Trail {
	if masker == nil {
		masker = masking.New()
	}
	return &Trail{
		store:  store,
		masker: masker,
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

// Record маскирует PII в result и execution_context и добавляет строку
func (t *Trail) Record(ctx context.Context, e Entry) (*domain.ActionLog, error) {
	entry := &domain.ActionLog{
		ID:               uuid.New().String(),
		TenantID:         e.TenantID,
		TaskID:           e.TaskID,
		ActionType:       e.ActionType,
		ExecutedBy:       e.ExecutedBy,
		ApprovedBy:       e.ApprovedBy,
		Result:           t.masker.MaskMap(e.Result),
		ExecutionContext: t.masker.MaskMap(e.Context),
		CreatedAt:        t.now().UTC(),
	}
	if entry.Result == nil {
		entry.Result = map[string]any{}
	}
	if entry.ExecutionContext == nil {
		entry.ExecutionContext = map[string]any{}
	}

	if err := t.store.AppendActionLog(ctx, entry); err != nil {
		// Журнал не должен молча теряться: вызывающий решает, что делать дальше
		t.logger.Error("action log write failed",
			zap.String("tenant_id", e.TenantID),
			zap.String("task_id", e.TaskID),
			zap.String("action_type", string(e.ActionType)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("audit: append action log: %w", err)
	}
	return entry, nil
}

// LastOutcome результат последнего approve-and-execute по задаче
func (t *Trail) LastOutcome(ctx context.Context, tenantID, taskID string) (*domain.ActionLog, error) {
	return t.store.LatestActionLog(ctx, tenantID, taskID, domain.LogApproveAndExecute)
}
