package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCanTransitionTo(t *testing.T) {
	cases := []struct {
		from TaskStatus
		to   TaskStatus
		want error
	}{
		{TaskPending, TaskApproved, nil},
		{TaskPending, TaskExecuted, ErrInvalidTransition},
		{TaskPending, TaskFailed, nil},
		{TaskPending, TaskExpired, nil},
		{TaskApproved, TaskExecuted, nil},
		{TaskApproved, TaskApproved, ErrInvalidTransition},
		{TaskApproved, TaskFailed, nil},
		{TaskExecuted, TaskFailed, ErrTaskTerminal},
		{TaskFailed, TaskApproved, ErrTaskTerminal},
		{TaskExpired, TaskPending, ErrTaskTerminal},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			task := &Task{Status: tc.from}
			err := task.CanTransitionTo(tc.to)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTaskIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	task := &Task{Status: TaskPending, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, task.IsExpired(now))

	task.Status = TaskApproved
	assert.False(t, task.IsExpired(now), "only pending tasks expire")

	task = &Task{Status: TaskPending}
	assert.False(t, task.IsExpired(now), "zero expiry never expires")
}

func TestDayWindow(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	now := time.Date(2026, 3, 10, 2, 30, 0, 0, loc) // 2026-03-09 17:30 UTC

	start, end := DayWindow(now)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.Equal(t, "2026-03-09", DayKey(now))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)
	assert.Equal(t, "admin", r.String())

	_, err = ParseRole("superuser")
	assert.ErrorIs(t, err, ErrUnknownRole)

	_, err = ParseRole("unknown")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestPrincipalFromClaims(t *testing.T) {
	c := &CustomClaims{TenantID: "t1", Role: "teacher"}
	c.Subject = "u1"

	p, err := PrincipalFromClaims(c)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", TenantID: "t1", Role: RoleTeacher}, p)

	c.TenantID = ""
	_, err = PrincipalFromClaims(c)
	assert.Error(t, err)

	_, err = PrincipalFromClaims(nil)
	assert.Error(t, err)
}

func TestCodedError(t *testing.T) {
	sentinel := NewError(CodePolicyDisabled, "policy disabled")
	wrapped := fmt.Errorf("execute: %w", WrapError(CodePolicyDisabled, "absence_alert disabled", errors.New("flag off")))

	assert.ErrorIs(t, wrapped, sentinel)
	assert.Equal(t, CodePolicyDisabled, CodeOf(wrapped))
	assert.Equal(t, "absence_alert disabled", MessageOf(wrapped))

	assert.Equal(t, CodeExecutionFailed, CodeOf(errors.New("boom")))
	assert.False(t, errors.Is(wrapped, NewError(CodeForbidden, "")))
}

func TestExecResultAsMap(t *testing.T) {
	m := Failed(CodeTargetNotFound, "no recipients").AsMap()
	assert.Equal(t, "failed", m["status"])
	assert.Equal(t, "TARGET_NOT_FOUND", m["error_code"])
	assert.NotContains(t, m, "result")

	ok := Succeeded(2, map[string]any{"outbox_ids": []string{"a", "b"}})
	assert.True(t, ok.OK())
	assert.Equal(t, 2, ok.AsMap()["affected_count"])
}
