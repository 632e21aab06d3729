package postgres

/*
Файл directory_repo.go: только чтение: настройки тенантов, справочник людей
и доменные сигналы (посещаемость, счета, расписание) для генератора задач.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/academy-automation/internal/domain"
)

// GetSettings возвращает JSON-документ политик тенанта
func (r *Repo) GetSettings(ctx context.Context, tenantID string) ([]byte, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT settings FROM tenant_settings WHERE tenant_id = $1`, tenantID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get tenant settings: %w", err)
	}
	return doc, nil
}

func (r *Repo) ListActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, status FROM tenants WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tenants: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Tenant, 0)
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status); err != nil {
			return nil, fmt.Errorf("postgres: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) GetStudent(ctx context.Context, tenantID, studentID string) (*domain.Student, error) {
	var s domain.Student
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone, ''), COALESCE(email, ''), registered_at
		FROM students WHERE tenant_id = $1 AND id = $2`, tenantID, studentID).
		Scan(&s.ID, &s.TenantID, &s.Name, &s.Phone, &s.Email, &s.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get student: %w", err)
	}
	return &s, nil
}

func (r *Repo) GuardiansOf(ctx context.Context, tenantID string, studentIDs []string) ([]domain.Guardian, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, student_id, name, COALESCE(phone, ''), COALESCE(email, '')
		FROM guardians
		WHERE tenant_id = $1 AND student_id = ANY($2)
		ORDER BY id`, tenantID, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: query guardians: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Guardian, 0)
	for rows.Next() {
		var g domain.Guardian
		if err := rows.Scan(&g.ID, &g.TenantID, &g.StudentID, &g.Name, &g.Phone, &g.Email); err != nil {
			return nil, fmt.Errorf("postgres: scan guardian: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *Repo) ClassRoster(ctx context.Context, tenantID, classID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT student_id FROM class_enrollments
		WHERE tenant_id = $1 AND class_id = $2 AND active
		ORDER BY student_id`, tenantID, classID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query roster: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan roster: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*domain.OverdueInvoice, error) {
	var inv domain.OverdueInvoice
	err := r.db.QueryRow(ctx, `
		SELECT i.id, i.student_id, s.name, i.amount_due, i.currency, i.due_date
		FROM invoices i JOIN students s ON s.tenant_id = i.tenant_id AND s.id = i.student_id
		WHERE i.tenant_id = $1 AND i.id = $2`, tenantID, invoiceID).
		Scan(&inv.InvoiceID, &inv.StudentID, &inv.StudentName, &inv.AmountDue, &inv.Currency, &inv.DueDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get invoice: %w", err)
	}
	return &inv, nil
}

// AbsenceStreaks: серия последних подряд идущих пропусков студента в окне lookback.
// Серия обрывается первым занятием, на котором студент присутствовал.
func (r *Repo) AbsenceStreaks(ctx context.Context, tenantID string, since time.Time, minCount int) ([]domain.AbsenceStreak, error) {
	query := `
		WITH recent AS (
			SELECT a.student_id, a.status, cs.starts_at,
			       ROW_NUMBER() OVER (PARTITION BY a.student_id ORDER BY cs.starts_at DESC) AS rn
			FROM attendance a
			JOIN class_sessions cs ON cs.tenant_id = a.tenant_id AND cs.id = a.session_id
			WHERE a.tenant_id = $1 AND cs.starts_at >= $2 AND cs.starts_at <= NOW()
		), breaks AS (
			SELECT student_id, MIN(rn) FILTER (WHERE status <> 'absent') AS first_present
			FROM recent
			GROUP BY student_id
		)
		SELECT r.student_id, s.name, COUNT(*) AS streak, MAX(r.starts_at) AS last_absent
		FROM recent r
		JOIN breaks b ON b.student_id = r.student_id
		JOIN students s ON s.tenant_id = $1 AND s.id = r.student_id
		WHERE r.status = 'absent' AND (b.first_present IS NULL OR r.rn < b.first_present)
		GROUP BY r.student_id, s.name
		HAVING COUNT(*) >= $3
		ORDER BY r.student_id`

	rows, err := r.db.Query(ctx, query, tenantID, since, minCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: query absence streaks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AbsenceStreak, 0)
	for rows.Next() {
		var st domain.AbsenceStreak
		if err := rows.Scan(&st.StudentID, &st.StudentName, &st.Count, &st.LastAbsent); err != nil {
			return nil, fmt.Errorf("postgres: scan absence streak: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *Repo) OverdueInvoices(ctx context.Context, tenantID string, dueBefore time.Time) ([]domain.OverdueInvoice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT i.id, i.student_id, s.name, i.amount_due, i.currency, i.due_date
		FROM invoices i JOIN students s ON s.tenant_id = i.tenant_id AND s.id = i.student_id
		WHERE i.tenant_id = $1 AND i.status IN ('unpaid', 'partial') AND i.due_date < $2
		ORDER BY i.id`, tenantID, dueBefore)
	if err != nil {
		return nil, fmt.Errorf("postgres: query overdue invoices: %w", err)
	}
	defer rows.Close()

	out := make([]domain.OverdueInvoice, 0)
	for rows.Next() {
		var inv domain.OverdueInvoice
		if err := rows.Scan(&inv.InvoiceID, &inv.StudentID, &inv.StudentName, &inv.AmountDue, &inv.Currency, &inv.DueDate); err != nil {
			return nil, fmt.Errorf("postgres: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *Repo) NewRegistrations(ctx context.Context, tenantID string, since time.Time) ([]domain.Student, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone, ''), COALESCE(email, ''), registered_at
		FROM students
		WHERE tenant_id = $1 AND registered_at >= $2
		ORDER BY id`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: query registrations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Student, 0)
	for rows.Next() {
		var s domain.Student
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.Phone, &s.Email, &s.RegisteredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) ScheduleChanges(ctx context.Context, tenantID string, since time.Time) ([]domain.ScheduleChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT cs.id, cs.class_id, c.name, cs.previous_starts_at, cs.starts_at, cs.rescheduled_at
		FROM class_sessions cs JOIN classes c ON c.tenant_id = cs.tenant_id AND c.id = cs.class_id
		WHERE cs.tenant_id = $1 AND cs.rescheduled_at >= $2 AND cs.previous_starts_at IS NOT NULL
		ORDER BY cs.id`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: query schedule changes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScheduleChange, 0)
	for rows.Next() {
		var ch domain.ScheduleChange
		if err := rows.Scan(&ch.SessionID, &ch.ClassID, &ch.ClassName, &ch.OldStart, &ch.NewStart, &ch.ChangedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan schedule change: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
