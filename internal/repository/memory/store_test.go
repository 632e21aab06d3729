package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/domain"
)

func TestUpsertTaskConvergesAndKeepsTerminalRows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)

	first, created, err := s.UpsertTask(ctx, &domain.Task{ID: "a", TenantID: "t1", DedupKey: "k", Priority: 1, UpdatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.UpsertTask(ctx, &domain.Task{ID: "b", TenantID: "t1", DedupKey: "k", Priority: 7, UpdatedAt: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 7, second.Priority)

	require.NoError(t, s.FinishTask(ctx, "t1", "a", domain.TaskFailed, now))
	third, _, err := s.UpsertTask(ctx, &domain.Task{ID: "c", TenantID: "t1", DedupKey: "k", Priority: 9})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, third.Status)
	assert.Equal(t, 7, third.Priority, "terminal rows are not rewritten")

	// тот же ключ в другом тенанте: другая строка
	_, created, err = s.UpsertTask(ctx, &domain.Task{ID: "d", TenantID: "t2", DedupKey: "k"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestConcurrentCreateOutbox(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, _, err := s.CreateOutbox(ctx, &domain.OutboxRecord{
				ID:             fmt.Sprintf("id-%d", i),
				TenantID:       "t1",
				IdempotencyKey: "same",
				Status:         domain.OutboxPending,
			})
			if assert.NoError(t, err) {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, s.OutboxRecords("t1"), 1)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	// тот же ключ в другом тенанте: своя строка
	rec, created, err := s.CreateOutbox(ctx, &domain.OutboxRecord{ID: "other", TenantID: "t2", IdempotencyKey: "same"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "other", rec.ID)
	assert.Len(t, s.OutboxRecords("t2"), 1)
}

func TestApproveTaskIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutTask(&domain.Task{ID: "a", TenantID: "t1", DedupKey: "k", Status: domain.TaskPending})

	_, err := s.ApproveTask(ctx, "t2", "a", &domain.Plan{}, "u", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound, "tenant scoped")

	_, err = s.ApproveTask(ctx, "t1", "a", &domain.Plan{IntentKey: "x"}, "u", time.Now())
	require.NoError(t, err)
	_, err = s.ApproveTask(ctx, "t1", "a", &domain.Plan{IntentKey: "y"}, "u", time.Now())
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.GetTask(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Plan.IntentKey)
}

func TestLatestActionLogSkipsReplays(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	add := func(id string, execCtx map[string]any) {
		require.NoError(t, s.AppendActionLog(ctx, &domain.ActionLog{
			ID: id, TenantID: "t1", TaskID: "task-1", ActionType: domain.LogApproveAndExecute,
			ExecutionContext: execCtx,
		}))
	}
	add("exec", map[string]any{"intent": "notify_guardian_absence"})
	add("lost", map[string]any{"concurrent": true})
	add("replay", map[string]any{"replayed": true})

	l, err := s.LatestActionLog(ctx, "t1", "task-1", domain.LogApproveAndExecute)
	require.NoError(t, err)
	assert.Equal(t, "exec", l.ID)

	_, err = s.LatestActionLog(ctx, "t2", "task-1", domain.LogApproveAndExecute)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
