package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/academy-automation/internal/domain"
)

// EnsureWindow лениво создаёт строку окна. Отдельной задачи провижининга нет.
func (r *Repo) EnsureWindow(ctx context.Context, w domain.SafetyWindow) error {
	query := `
		INSERT INTO automation_safety_state (tenant_id, action_type, window_start, window_end,
			executed_count, max_allowed, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, 'normal', $6, $6)
		ON CONFLICT (tenant_id, action_type, window_start) DO NOTHING`

	_, err := r.db.Exec(ctx, query, w.TenantID, w.ActionType, w.WindowStart, w.WindowEnd, w.MaxAllowed, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: ensure safety window: %w", err)
	}
	return nil
}

// TryIncrement: единственное место, где нужна атомарность на уровне БД.
// Условие в WHERE не даёт executed_count превысить max_allowed при гонке одобрений.
func (r *Repo) TryIncrement(ctx context.Context, tenantID string, at domain.ActionType, start time.Time, maxAllowed int, now time.Time) (int, bool, error) {
	query := `
		UPDATE automation_safety_state
		SET executed_count = executed_count + 1, max_allowed = $4, updated_at = $5
		WHERE tenant_id = $1 AND action_type = $2 AND window_start = $3
		  AND state = 'normal' AND executed_count < $4
		RETURNING executed_count`

	var count int
	err := r.db.QueryRow(ctx, query, tenantID, at, start, maxAllowed, now).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("postgres: increment safety window: %w", err)
	}
	return count, true, nil
}

// Pause: normal -> paused. true, только если переход сделал этот вызов.
func (r *Repo) Pause(ctx context.Context, tenantID string, at domain.ActionType, start time.Time, now time.Time) (bool, error) {
	query := `
		UPDATE automation_safety_state
		SET state = 'paused', paused_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND action_type = $2 AND window_start = $3 AND state = 'normal'`

	tag, err := r.db.Exec(ctx, query, tenantID, at, start, now)
	if err != nil {
		return false, fmt.Errorf("postgres: pause safety window: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResumeWindow: ручное paused -> normal. executed_count остаётся прежним.
func (r *Repo) ResumeWindow(ctx context.Context, tenantID string, at domain.ActionType, start time.Time, now time.Time) (bool, error) {
	query := `
		UPDATE automation_safety_state
		SET state = 'normal', paused_at = NULL, updated_at = $4
		WHERE tenant_id = $1 AND action_type = $2 AND window_start = $3 AND state = 'paused'`

	tag, err := r.db.Exec(ctx, query, tenantID, at, start, now)
	if err != nil {
		return false, fmt.Errorf("postgres: resume safety window: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) GetWindow(ctx context.Context, tenantID string, at domain.ActionType, start time.Time) (*domain.SafetyWindow, error) {
	query := `
		SELECT tenant_id, action_type, window_start, window_end, executed_count, max_allowed,
			state, paused_at, created_at, updated_at
		FROM automation_safety_state
		WHERE tenant_id = $1 AND action_type = $2 AND window_start = $3`

	var w domain.SafetyWindow
	err := r.db.QueryRow(ctx, query, tenantID, at, start).Scan(
		&w.TenantID, &w.ActionType, &w.WindowStart, &w.WindowEnd, &w.ExecutedCount, &w.MaxAllowed,
		&w.State, &w.PausedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get safety window: %w", err)
	}
	return &w, nil
}

// PausedWindows окна на паузе за сутки (для прогрева множества в Redis)
func (r *Repo) PausedWindows(ctx context.Context, start time.Time) ([]domain.SafetyWindow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tenant_id, action_type, window_start
		FROM automation_safety_state
		WHERE window_start = $1 AND state = 'paused'`, start)
	if err != nil {
		return nil, fmt.Errorf("postgres: list paused windows: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SafetyWindow, 0)
	for rows.Next() {
		var w domain.SafetyWindow
		if err := rows.Scan(&w.TenantID, &w.ActionType, &w.WindowStart); err != nil {
			return nil, fmt.Errorf("postgres: scan paused window: %w", err)
		}
		w.State = domain.SafetyPaused
		out = append(out, w)
	}
	return out, rows.Err()
}
