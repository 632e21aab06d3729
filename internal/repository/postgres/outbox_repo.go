package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/academy-automation/internal/domain"
)

const outboxColumns = `id, tenant_id, idempotency_key, task_id, intent_key, channel, recipient, content,
	status, retry_count, max_retries, success_count, failure_count, last_error, next_attempt_at,
	lease_until, created_at, updated_at, sent_at`

func scanOutbox(row pgx.Row) (*domain.OutboxRecord, error) {
	var o domain.OutboxRecord
	err := row.Scan(
		&o.ID, &o.TenantID, &o.IdempotencyKey, &o.TaskID, &o.IntentKey, &o.Channel, &o.Recipient, &o.Content,
		&o.Status, &o.RetryCount, &o.MaxRetries, &o.SuccessCount, &o.FailureCount, &o.LastError, &o.NextAttemptAt,
		&o.LeaseUntil, &o.CreatedAt, &o.UpdatedAt, &o.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOutbox вставляет запись или возвращает уже существующую с тем же ключом.
// Конфликт не ошибка: так повторные диспатчи сходятся к одной строке.
func (r *Repo) CreateOutbox(ctx context.Context, rec *domain.OutboxRecord) (*domain.OutboxRecord, bool, error) {
	query := `
		INSERT INTO outbox_records (id, tenant_id, idempotency_key, task_id, intent_key, channel, recipient,
			content, status, retry_count, max_retries, success_count, failure_count, next_attempt_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0, $9, 0, 0, $10, $11, $11)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
		RETURNING ` + outboxColumns

	created, err := scanOutbox(r.db.QueryRow(ctx, query,
		rec.ID, rec.TenantID, rec.IdempotencyKey, rec.TaskID, rec.IntentKey, rec.Channel, rec.Recipient,
		rec.Content, rec.MaxRetries, rec.NextAttemptAt, rec.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("postgres: insert outbox record: %w", err)
	}

	existing, err := scanOutbox(r.db.QueryRow(ctx,
		`SELECT `+outboxColumns+` FROM outbox_records WHERE tenant_id = $1 AND idempotency_key = $2`,
		rec.TenantID, rec.IdempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("postgres: read existing outbox record: %w", err)
	}
	return existing, false, nil
}

// ClaimDue берёт в аренду готовые записи. SKIP LOCKED позволяет нескольким воркерам
// работать параллельно, не получая одну и ту же строку.
func (r *Repo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.OutboxRecord, error) {
	query := `
		WITH due AS (
			SELECT id FROM outbox_records
			WHERE status = 'pending'
			  AND next_attempt_at <= $1
			  AND (lease_until IS NULL OR lease_until < $1)
			ORDER BY next_attempt_at, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_records AS o
		SET lease_until = $2, updated_at = $1
		FROM due
		WHERE o.id = due.id
		RETURNING ` + prefixed("o.", outboxColumns)

	rows, err := r.db.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim outbox records: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.OutboxRecord, 0)
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outbox record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (r *Repo) MarkSent(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'sent', success_count = success_count + 1, sent_at = $2,
		    lease_until = NULL, last_error = NULL, updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, now)
	if err != nil {
		return fmt.Errorf("postgres: mark outbox sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// RecordFailure фиксирует неудачную попытку; terminal переводит запись в failed
func (r *Repo) RecordFailure(ctx context.Context, id, errMsg string, next time.Time, terminal bool, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE outbox_records
		SET retry_count = retry_count + 1,
		    failure_count = failure_count + 1,
		    last_error = $2,
		    next_attempt_at = $3,
		    lease_until = NULL,
		    status = CASE WHEN $4 THEN 'failed' ELSE 'pending' END,
		    updated_at = $5
		WHERE id = $1 AND status = 'pending'`, id, errMsg, next, terminal, now)
	if err != nil {
		return fmt.Errorf("postgres: record outbox failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// WriteBatch пишет пачку попыток доставки через COPY
func (r *Repo) WriteBatch(ctx context.Context, batch []domain.DeliveryAttempt) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(batch))
	for _, a := range batch {
		rows = append(rows, []any{
			a.ID, a.OutboxID, a.TenantID, string(a.Channel), a.Attempt, string(a.Outcome),
			a.Error, a.Duration.Milliseconds(), a.OccurredAt,
		})
	}
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"delivery_attempts"},
		[]string{"id", "outbox_id", "tenant_id", "channel", "attempt", "outcome", "error", "duration_ms", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres: copy delivery attempts: %w", err)
	}
	return nil
}
