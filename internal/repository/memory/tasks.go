package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.Plan != nil {
		p := *t.Plan
		c.Plan = &p
	}
	return &c
}

// UpsertTask повторяет INSERT ... ON CONFLICT (tenant_id, dedup_key) DO UPDATE ... WHERE status = 'pending'
func (s *Store) UpsertTask(_ context.Context, t *domain.Task) (*domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(t.TenantID, t.DedupKey)
	if id, ok := s.taskKeys[k]; ok {
		cur := s.tasks[id]
		if cur.Status == domain.TaskPending {
			cur.Priority = t.Priority
			cur.Title = t.Title
			cur.Description = t.Description
			cur.SuggestedAction = t.SuggestedAction
			cur.ExpiresAt = t.ExpiresAt
			cur.UpdatedAt = t.UpdatedAt
		}
		return cloneTask(cur), false, nil
	}

	if _, dup := s.tasks[t.ID]; dup {
		return nil, false, fmt.Errorf("memory: duplicate task id %s", t.ID)
	}
	row := cloneTask(t)
	if row.Status == "" {
		row.Status = domain.TaskPending
	}
	s.tasks[row.ID] = row
	s.taskKeys[k] = row.ID
	return cloneTask(row), true, nil
}

func (s *Store) GetTask(_ context.Context, tenantID, taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

// ApproveTask условный переход pending -> approved с фиксацией плана
func (s *Store) ApproveTask(_ context.Context, tenantID, taskID string, plan *domain.Plan, approvedBy string, at time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	if t.Status != domain.TaskPending {
		return nil, domain.ErrConflict
	}
	p := *plan
	t.Plan = &p
	t.Status = domain.TaskApproved
	t.ApprovedBy = &approvedBy
	t.UpdatedAt = at
	return cloneTask(t), nil
}

// ClaimApproved: аренда исполнения approved-задачи, если прежняя старше staleBefore
func (s *Store) ClaimApproved(_ context.Context, tenantID, taskID string, at, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return domain.ErrNotFound
	}
	if t.Status != domain.TaskApproved || !t.UpdatedAt.Before(staleBefore) {
		return domain.ErrConflict
	}
	t.UpdatedAt = at
	return nil
}

// FinishTask переводит задачу в executed (только из approved) или failed (из pending/approved)
func (s *Store) FinishTask(_ context.Context, tenantID, taskID string, status domain.TaskStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return domain.ErrNotFound
	}
	if err := t.CanTransitionTo(status); err != nil {
		return domain.ErrConflict
	}
	t.Status = status
	t.UpdatedAt = at
	if status == domain.TaskExecuted {
		ts := at
		t.ExecutedAt = &ts
	}
	return nil
}

func (s *Store) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if t.IsExpired(now) {
			t.Status = domain.TaskExpired
			t.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeExpired(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tasks {
		if t.Status == domain.TaskExpired && t.UpdatedAt.Before(olderThan) {
			delete(s.tasks, id)
			delete(s.taskKeys, key(t.TenantID, t.DedupKey))
			n++
		}
	}
	return n, nil
}

// Tasks снимок задач тенанта, упорядоченный по dedup_key
func (s *Store) Tasks(tenantID string) []*domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.TenantID == tenantID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DedupKey < out[j].DedupKey })
	return out
}

// PutTask кладёт задачу как есть, минуя апсерт (подготовка тестовых данных)
func (s *Store) PutTask(t *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := cloneTask(t)
	s.tasks[row.ID] = row
	s.taskKeys[key(row.TenantID, row.DedupKey)] = row.ID
}

// --- Журнал действий ---

func (s *Store) AppendActionLog(_ context.Context, entry *domain.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	s.logs = append(s.logs, &c)
	return nil
}

func (s *Store) LatestActionLog(_ context.Context, tenantID, taskID string, at domain.LogActionType) (*domain.ActionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if l.TenantID != tenantID || l.TaskID != taskID || l.ActionType != at {
			continue
		}
		_, replayed := l.ExecutionContext["replayed"]
		_, concurrent := l.ExecutionContext["concurrent"]
		if !replayed && !concurrent {
			c := *l
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ActionLogs все записи по задаче в порядке вставки
func (s *Store) ActionLogs(tenantID, taskID string) []domain.ActionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActionLog, 0)
	for _, l := range s.logs {
		if l.TenantID == tenantID && l.TaskID == taskID {
			out = append(out, *l)
		}
	}
	return out
}
