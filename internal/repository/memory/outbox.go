package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

func cloneRecord(r *domain.OutboxRecord) *domain.OutboxRecord {
	c := *r
	return &c
}

// CreateOutbox: одна строка на (tenant_id, idempotency_key), повтор возвращает существующую
func (s *Store) CreateOutbox(_ context.Context, rec *domain.OutboxRecord) (*domain.OutboxRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rec.TenantID, rec.IdempotencyKey)
	if id, ok := s.outboxKey[k]; ok {
		return cloneRecord(s.outbox[id]), false, nil
	}
	row := cloneRecord(rec)
	s.outbox[row.ID] = row
	s.outboxKey[k] = row.ID
	return cloneRecord(row), true, nil
}

// ClaimDue выдаёт аренду на готовые к отправке записи
func (s *Store) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]*domain.OutboxRecord, 0)
	for _, r := range s.outbox {
		if r.Status != domain.OutboxPending || r.NextAttemptAt.After(now) {
			continue
		}
		if r.LeaseUntil != nil && r.LeaseUntil.After(now) {
			continue
		}
		due = append(due, r)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*domain.OutboxRecord, 0, len(due))
	until := now.Add(lease)
	for _, r := range due {
		u := until
		r.LeaseUntil = &u
		r.UpdatedAt = now
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.outbox[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.OutboxPending {
		return domain.ErrConflict
	}
	ts := now
	r.Status = domain.OutboxSent
	r.SuccessCount++
	r.SentAt = &ts
	r.LeaseUntil = nil
	r.LastError = nil
	r.UpdatedAt = now
	return nil
}

func (s *Store) RecordFailure(_ context.Context, id, errMsg string, next time.Time, terminal bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.outbox[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.OutboxPending {
		return domain.ErrConflict
	}
	msg := errMsg
	r.RetryCount++
	r.FailureCount++
	r.LastError = &msg
	r.LeaseUntil = nil
	r.NextAttemptAt = next
	r.UpdatedAt = now
	if terminal {
		r.Status = domain.OutboxFailed
	}
	return nil
}

// OutboxRecords снимок всех записей тенанта
func (s *Store) OutboxRecords(tenantID string) []*domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.OutboxRecord, 0)
	for _, r := range s.outbox {
		if r.TenantID == tenantID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdempotencyKey < out[j].IdempotencyKey })
	return out
}

// --- Журнал попыток доставки ---

func (s *Store) WriteBatch(_ context.Context, batch []domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, batch...)
	return nil
}

func (s *Store) Attempts() []domain.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeliveryAttempt(nil), s.attempts...)
}
