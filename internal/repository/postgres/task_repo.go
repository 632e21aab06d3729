package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/academy-automation/internal/domain"
)

const taskColumns = `id, tenant_id, dedup_key, task_type, title, description, priority, status,
	expires_at, suggested_action, plan, approved_by, executed_at, created_at, updated_at`

func scanTask(row pgx.Row, extra ...any) (*domain.Task, error) {
	var t domain.Task
	var action, plan []byte

	dest := []any{
		&t.ID, &t.TenantID, &t.DedupKey, &t.TaskType, &t.Title, &t.Description, &t.Priority, &t.Status,
		&t.ExpiresAt, &action, &plan, &t.ApprovedBy, &t.ExecutedAt, &t.CreatedAt, &t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(action) > 0 {
		if err := json.Unmarshal(action, &t.SuggestedAction); err != nil {
			return nil, fmt.Errorf("postgres: decode suggested_action: %w", err)
		}
	}
	if len(plan) > 0 {
		t.Plan = &domain.Plan{}
		if err := json.Unmarshal(plan, t.Plan); err != nil {
			return nil, fmt.Errorf("postgres: decode plan: %w", err)
		}
	}
	return &t, nil
}

// UpsertTask: единственный способ записи задачи генератором.
// Конфликт по (tenant_id, dedup_key) обновляет изменяемые поля, пока задача ещё pending;
// терминальные строки не переписываются. Второй результат: была ли строка вставлена.
func (r *Repo) UpsertTask(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
	action, err := json.Marshal(t.SuggestedAction)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: encode suggested_action: %w", err)
	}

	query := `
		INSERT INTO automation_tasks (id, tenant_id, dedup_key, task_type, title, description, priority,
			status, expires_at, suggested_action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9, $10, $10)
		ON CONFLICT (tenant_id, dedup_key) DO UPDATE
		SET priority = EXCLUDED.priority,
		    title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    suggested_action = EXCLUDED.suggested_action,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		WHERE automation_tasks.status = 'pending'
		RETURNING ` + taskColumns + `, (xmax = 0) AS inserted`

	var inserted bool
	row := r.db.QueryRow(ctx, query,
		t.ID, t.TenantID, t.DedupKey, t.TaskType, t.Title, t.Description, t.Priority,
		t.ExpiresAt, action, t.UpdatedAt)
	saved, err := scanTask(row, &inserted)
	if err == nil {
		return saved, inserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isUniqueViolation(err) {
			return nil, false, fmt.Errorf("postgres: upsert task %s: %w", t.DedupKey, domain.ErrConflict)
		}
		return nil, false, fmt.Errorf("postgres: upsert task: %w", err)
	}

	// Строка есть, но уже не pending: возвращаем как есть
	existing, err := scanTask(r.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM automation_tasks WHERE tenant_id = $1 AND dedup_key = $2`,
		t.TenantID, t.DedupKey))
	if err != nil {
		return nil, false, fmt.Errorf("postgres: read task after upsert: %w", err)
	}
	return existing, false, nil
}

func (r *Repo) GetTask(ctx context.Context, tenantID, taskID string) (*domain.Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM automation_tasks WHERE tenant_id = $1 AND id = $2`,
		tenantID, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get task: %w", err)
	}
	return t, nil
}

// ApproveTask атомарно переводит pending -> approved и фиксирует план.
// WHERE status = 'pending' защищает от двойного одобрения.
func (r *Repo) ApproveTask(ctx context.Context, tenantID, taskID string, plan *domain.Plan, approvedBy string, at time.Time) (*domain.Task, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode plan: %w", err)
	}
	query := `
		UPDATE automation_tasks
		SET status = 'approved', plan = $3, approved_by = $4, updated_at = $5
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
		RETURNING ` + taskColumns

	t, err := scanTask(r.db.QueryRow(ctx, query, tenantID, taskID, raw, approvedBy, at))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: approve task: %w", err)
	}
	// Либо задачи нет, либо её уже кто-то перевёл
	if _, getErr := r.GetTask(ctx, tenantID, taskID); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrConflict
}

// ClaimApproved продлевает аренду исполнения: updated_at служит меткой захвата.
// Повторный захват возможен, только когда прежний старше staleBefore.
func (r *Repo) ClaimApproved(ctx context.Context, tenantID, taskID string, at, staleBefore time.Time) error {
	query := `
		UPDATE automation_tasks
		SET updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'approved' AND updated_at < $4`

	tag, err := r.db.Exec(ctx, query, tenantID, taskID, at, staleBefore)
	if err != nil {
		return fmt.Errorf("postgres: claim task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetTask(ctx, tenantID, taskID); getErr != nil {
			return getErr
		}
		return domain.ErrConflict
	}
	return nil
}

// FinishTask: executed только из approved, failed из pending/approved
func (r *Repo) FinishTask(ctx context.Context, tenantID, taskID string, status domain.TaskStatus, at time.Time) error {
	var from []string
	switch status {
	case domain.TaskExecuted:
		from = []string{string(domain.TaskApproved)}
	case domain.TaskFailed, domain.TaskExpired:
		from = []string{string(domain.TaskPending), string(domain.TaskApproved)}
	default:
		return fmt.Errorf("postgres: finish task with status %s: %w", status, domain.ErrInvalidTransition)
	}

	query := `
		UPDATE automation_tasks
		SET status = $3,
		    executed_at = CASE WHEN $3 = 'executed' THEN $4 ELSE executed_at END,
		    updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = ANY($5)`

	tag, err := r.db.Exec(ctx, query, tenantID, taskID, string(status), at, from)
	if err != nil {
		return fmt.Errorf("postgres: finish task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetTask(ctx, tenantID, taskID); getErr != nil {
			return getErr
		}
		return domain.ErrConflict
	}
	return nil
}

// ExpirePending переводит просроченные pending задачи в expired
func (r *Repo) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE automation_tasks
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeExpired удаляет expired задачи старше окна хранения
func (r *Repo) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM automation_tasks
		WHERE status = 'expired' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge expired tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
