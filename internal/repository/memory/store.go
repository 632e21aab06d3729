// Package memory: потокобезопасное хранилище для тестов и локального запуска.
// Повторяет ограничения уникальности и условные апдейты postgres-репозиториев.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

type Store struct {
	mu sync.Mutex

	settings map[string][]byte
	tenants  map[string]domain.Tenant

	students  map[string]domain.Student  // tenant|id
	guardians map[string]domain.Guardian // tenant|id
	rosters   map[string][]string        // tenant|class -> student ids
	invoices  map[string]domain.OverdueInvoice

	streaks   map[string][]domain.AbsenceStreak
	changes   map[string][]domain.ScheduleChange
	tasks     map[string]*domain.Task // id
	taskKeys  map[string]string       // tenant|dedup_key -> id
	logs      []*domain.ActionLog
	windows   map[string]*domain.SafetyWindow // tenant|action|start
	outbox    map[string]*domain.OutboxRecord // id
	outboxKey map[string]string               // tenant|idempotency_key -> id
	attempts  []domain.DeliveryAttempt
}

func NewStore() *Store {
	return &Store{
		settings:  make(map[string][]byte),
		tenants:   make(map[string]domain.Tenant),
		students:  make(map[string]domain.Student),
		guardians: make(map[string]domain.Guardian),
		rosters:   make(map[string][]string),
		invoices:  make(map[string]domain.OverdueInvoice),
		streaks:   make(map[string][]domain.AbsenceStreak),
		changes:   make(map[string][]domain.ScheduleChange),
		tasks:     make(map[string]*domain.Task),
		taskKeys:  make(map[string]string),
		windows:   make(map[string]*domain.SafetyWindow),
		outbox:    make(map[string]*domain.OutboxRecord),
		outboxKey: make(map[string]string),
	}
}

func key(parts ...string) string {
	return strings.Join(parts, "|")
}

// --- Настройки тенантов ---

func (s *Store) SetSettings(tenantID, doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[tenantID] = []byte(doc)
}

func (s *Store) GetSettings(_ context.Context, tenantID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.settings[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

// --- Тенанты ---

func (s *Store) AddTenant(t domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func (s *Store) ListActiveTenants(_ context.Context) ([]domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if t.Status == domain.TenantActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Справочник ---

func (s *Store) AddStudent(st domain.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[key(st.TenantID, st.ID)] = st
}

func (s *Store) AddGuardian(g domain.Guardian) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guardians[key(g.TenantID, g.ID)] = g
}

func (s *Store) SetRoster(tenantID, classID string, studentIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rosters[key(tenantID, classID)] = append([]string(nil), studentIDs...)
}

func (s *Store) AddInvoice(tenantID string, inv domain.OverdueInvoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[key(tenantID, inv.InvoiceID)] = inv
}

func (s *Store) GetStudent(_ context.Context, tenantID, studentID string) (*domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[key(tenantID, studentID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (s *Store) GuardiansOf(_ context.Context, tenantID string, studentIDs []string) ([]domain.Guardian, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		want[id] = struct{}{}
	}
	out := make([]domain.Guardian, 0)
	for _, g := range s.guardians {
		if g.TenantID != tenantID {
			continue
		}
		if _, ok := want[g.StudentID]; ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ClassRoster(_ context.Context, tenantID, classID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.rosters[key(tenantID, classID)]...), nil
}

func (s *Store) GetInvoice(_ context.Context, tenantID, invoiceID string) (*domain.OverdueInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[key(tenantID, invoiceID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &inv, nil
}

// --- Сигналы ---

func (s *Store) AddAbsenceStreak(tenantID string, st domain.AbsenceStreak) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaks[tenantID] = append(s.streaks[tenantID], st)
}

func (s *Store) AddScheduleChange(tenantID string, ch domain.ScheduleChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[tenantID] = append(s.changes[tenantID], ch)
}

func (s *Store) AbsenceStreaks(_ context.Context, tenantID string, since time.Time, minCount int) ([]domain.AbsenceStreak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AbsenceStreak, 0)
	for _, st := range s.streaks[tenantID] {
		if st.Count >= minCount && !st.LastAbsent.Before(since) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) OverdueInvoices(_ context.Context, tenantID string, dueBefore time.Time) ([]domain.OverdueInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OverdueInvoice, 0)
	for k, inv := range s.invoices {
		if !strings.HasPrefix(k, tenantID+"|") {
			continue
		}
		if inv.DueDate.Before(dueBefore) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceID < out[j].InvoiceID })
	return out, nil
}

func (s *Store) NewRegistrations(_ context.Context, tenantID string, since time.Time) ([]domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Student, 0)
	for _, st := range s.students {
		if st.TenantID == tenantID && !st.RegisteredAt.Before(since) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ScheduleChanges(_ context.Context, tenantID string, since time.Time) ([]domain.ScheduleChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScheduleChange, 0)
	for _, ch := range s.changes[tenantID] {
		if !ch.ChangedAt.Before(since) {
			out = append(out, ch)
		}
	}
	return out, nil
}
