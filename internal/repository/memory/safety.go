package memory

import (
	"context"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

func windowKey(tenantID string, at domain.ActionType, start time.Time) string {
	return key(tenantID, string(at), start.UTC().Format(time.RFC3339))
}

// EnsureWindow ленивое создание окна (INSERT ... ON CONFLICT DO NOTHING)
func (s *Store) EnsureWindow(_ context.Context, w domain.SafetyWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := windowKey(w.TenantID, w.ActionType, w.WindowStart)
	if _, ok := s.windows[k]; ok {
		return nil
	}
	c := w
	if c.State == "" {
		c.State = domain.SafetyNormal
	}
	s.windows[k] = &c
	return nil
}

// TryIncrement: атомарный аналог UPDATE ... WHERE state='normal' AND executed_count < $max
func (s *Store) TryIncrement(_ context.Context, tenantID string, at domain.ActionType, start time.Time, maxAllowed int, now time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowKey(tenantID, at, start)]
	if !ok {
		return 0, false, nil
	}
	if w.State != domain.SafetyNormal || w.ExecutedCount >= maxAllowed {
		return 0, false, nil
	}
	w.ExecutedCount++
	w.MaxAllowed = maxAllowed
	w.UpdatedAt = now
	return w.ExecutedCount, true, nil
}

// Pause переводит окно в paused. true: если перевёл именно этот вызов.
func (s *Store) Pause(_ context.Context, tenantID string, at domain.ActionType, start time.Time, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowKey(tenantID, at, start)]
	if !ok || w.State == domain.SafetyPaused {
		return false, nil
	}
	ts := now
	w.State = domain.SafetyPaused
	w.PausedAt = &ts
	w.UpdatedAt = now
	return true, nil
}

// ResumeWindow: paused -> normal, счётчик не сбрасывается
func (s *Store) ResumeWindow(_ context.Context, tenantID string, at domain.ActionType, start time.Time, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowKey(tenantID, at, start)]
	if !ok || w.State != domain.SafetyPaused {
		return false, nil
	}
	w.State = domain.SafetyNormal
	w.PausedAt = nil
	w.UpdatedAt = now
	return true, nil
}

func (s *Store) GetWindow(_ context.Context, tenantID string, at domain.ActionType, start time.Time) (*domain.SafetyWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowKey(tenantID, at, start)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *w
	return &c, nil
}

func (s *Store) PausedWindows(_ context.Context, start time.Time) ([]domain.SafetyWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SafetyWindow, 0)
	for _, w := range s.windows {
		if w.State == domain.SafetyPaused && w.WindowStart.Equal(start) {
			out = append(out, *w)
		}
	}
	return out, nil
}
