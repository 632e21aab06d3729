package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/repository/memory"
	"go.uber.org/zap"
)

func TestTrailMasksBeforePersisting(t *testing.T) {
	store := memory.NewStore()
	trail := NewTrail(store, nil, zap.NewNop())

	approver := "admin-1"
	entry, err := trail.Record(context.Background(), Entry{
		TenantID:   "t1",
		TaskID:     "task-1",
		ActionType: domain.LogApproveAndExecute,
		ExecutedBy: "admin-1",
		ApprovedBy: &approver,
		Result:     map[string]any{"status": "success", "message": "sent to kim@example.com"},
		Context: map[string]any{
			"student_id":    "s-1",
			"guardian_name": "Kim Minsu",
			"recipient":     "010-1234-5678",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)

	logs := store.ActionLogs("t1", "task-1")
	require.Len(t, logs, 1)
	stored := logs[0]
	assert.Equal(t, "s-1", stored.ExecutionContext["student_id"])
	assert.NotEqual(t, "Kim Minsu", stored.ExecutionContext["guardian_name"])
	assert.NotContains(t, stored.ExecutionContext["recipient"], "1234-5678")
	assert.NotContains(t, stored.Result["message"], "kim@example.com")
	assert.Equal(t, "success", stored.Result["status"])

	last, err := trail.LastOutcome(context.Background(), "t1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, last.ID)
}

func TestTrailEmptyMapsAreNotNil(t *testing.T) {
	store := memory.NewStore()
	trail := NewTrail(store, nil, zap.NewNop())

	entry, err := trail.Record(context.Background(), Entry{TenantID: "t1", TaskID: "x", ActionType: domain.LogRequestApproval})
	require.NoError(t, err)
	assert.NotNil(t, entry.Result)
	assert.NotNil(t, entry.ExecutionContext)
}

type failingLogStore struct{}

func (failingLogStore) AppendActionLog(context.Context, *domain.ActionLog) error {
	return errors.New("db down")
}

func (failingLogStore) LatestActionLog(context.Context, string, string, domain.LogActionType) (*domain.ActionLog, error) {
	return nil, domain.ErrNotFound
}

func TestTrailPropagatesStoreErrors(t *testing.T) {
	trail := NewTrail(failingLogStore{}, nil, zap.NewNop())
	_, err := trail.Record(context.Background(), Entry{TenantID: "t1", TaskID: "x"})
	assert.Error(t, err)
}

type recordingAttempts struct {
	mu      sync.Mutex
	batches [][]domain.DeliveryAttempt
}

func (r *recordingAttempts) WriteBatch(_ context.Context, batch []domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]domain.DeliveryAttempt(nil), batch...)
	r.batches = append(r.batches, cp)
	return nil
}

func (r *recordingAttempts) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestDeliveryLogFlushesOnStop(t *testing.T) {
	repo := &recordingAttempts{}
	dl := NewDeliveryLog(repo, zap.NewNop(), 1000)
	dl.Start()

	for i := 0; i < 250; i++ {
		dl.Record(domain.DeliveryAttempt{OutboxID: "o", Outcome: domain.OutboxSent, Duration: time.Millisecond})
	}
	dl.Stop()

	assert.Equal(t, 250, repo.total())

	// После остановки записи отбрасываются, повторный Stop безопасен
	dl.Record(domain.DeliveryAttempt{OutboxID: "late"})
	dl.Stop()
	assert.Equal(t, 250, repo.total())
}
