package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/academy-automation/internal/domain"
)

// AppendActionLog: только INSERT. Таблица append-only, UPDATE/DELETE запрещены триггером.
func (r *Repo) AppendActionLog(ctx context.Context, entry *domain.ActionLog) error {
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("postgres: encode result: %w", err)
	}
	execCtx, err := json.Marshal(entry.ExecutionContext)
	if err != nil {
		return fmt.Errorf("postgres: encode execution_context: %w", err)
	}

	query := `
		INSERT INTO automation_action_logs (id, tenant_id, task_id, action_type, executed_by, approved_by,
			result, execution_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		entry.ID, entry.TenantID, entry.TaskID, entry.ActionType, entry.ExecutedBy, entry.ApprovedBy,
		result, execCtx, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: action log %s: %w", entry.ID, domain.ErrConflict)
		}
		return fmt.Errorf("postgres: append action log: %w", err)
	}
	return nil
}

// LatestActionLog последняя запись указанного типа по задаче; replay и проигравшие гонку запросы пропускаются
func (r *Repo) LatestActionLog(ctx context.Context, tenantID, taskID string, at domain.LogActionType) (*domain.ActionLog, error) {
	query := `
		SELECT id, tenant_id, task_id, action_type, executed_by, approved_by, result, execution_context, created_at
		FROM automation_action_logs
		WHERE tenant_id = $1 AND task_id = $2 AND action_type = $3
		  AND execution_context->>'replayed' IS NULL
		  AND execution_context->>'concurrent' IS NULL
		ORDER BY created_at DESC
		LIMIT 1`

	var l domain.ActionLog
	var result, execCtx []byte
	err := r.db.QueryRow(ctx, query, tenantID, taskID, at).Scan(
		&l.ID, &l.TenantID, &l.TaskID, &l.ActionType, &l.ExecutedBy, &l.ApprovedBy,
		&result, &execCtx, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: latest action log: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &l.Result); err != nil {
			return nil, fmt.Errorf("postgres: decode result: %w", err)
		}
	}
	if len(execCtx) > 0 {
		if err := json.Unmarshal(execCtx, &l.ExecutionContext); err != nil {
			return nil, fmt.Errorf("postgres: decode execution_context: %w", err)
		}
	}
	return &l, nil
}
