package generator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/intents"
	"github.com/xela07ax/academy-automation/internal/policy"
	"github.com/xela07ax/academy-automation/internal/repository/memory"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)

const allEnabled = `{
	"absence_alert": {"enabled": true},
	"overdue_payment_reminder": {"enabled": true},
	"schedule_change_notice": {"enabled": true},
	"new_registration_welcome": {"enabled": true}
}`

func newTestGenerator(store *memory.Store, signals SignalSource) *Generator {
	logger := zap.NewNop()
	if signals == nil {
		signals = store
	}
	return New(signals, store, policy.NewEvaluator(store, logger), Config{}, nil, logger)
}

func seedTenant(store *memory.Store, id, doc string) {
	store.AddTenant(domain.Tenant{ID: id, Name: id, Status: domain.TenantActive})
	store.SetSettings(id, doc)
}

func TestAbsenceRunIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedTenant(store, "t1", allEnabled)
	lastAbsent := time.Date(2026, 3, 8, 15, 0, 0, 0, time.UTC)
	store.AddAbsenceStreak("t1", domain.AbsenceStreak{StudentID: "X", StudentName: "Kim Dana", Count: 3, LastAbsent: lastAbsent})

	g := newTestGenerator(store, nil)
	ctx := context.Background()

	first, err := g.Run(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)

	second, err := g.Run(ctx, testNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Updated)

	tasks := store.Tasks("t1")
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "t1:absence:student:X:2026-03-08", task.DedupKey)
	assert.Equal(t, domain.TaskTypeAbsence, task.TaskType)
	assert.Equal(t, 3, task.Priority)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, intents.IntentNotifyGuardianAbsence, task.SuggestedAction.Kind)
	assert.Equal(t, "X", task.SuggestedAction.Params["student_id"])
	// Второй прогон продлил срок
	assert.Equal(t, testNow.Add(10*time.Minute).Add(72*time.Hour), task.ExpiresAt)
}

func TestConcurrentRunsConvergeToOneTaskPerSignal(t *testing.T) {
	store := memory.NewStore()
	seedTenant(store, "t1", allEnabled)
	store.AddAbsenceStreak("t1", domain.AbsenceStreak{StudentID: "X", Count: 3, LastAbsent: testNow.Add(-time.Hour)})
	store.AddInvoice("t1", domain.OverdueInvoice{
		InvoiceID: "inv-1", StudentID: "X", AmountDue: 1000, Currency: "KRW",
		DueDate: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
	})

	// Отдельный генератор на горутину: как несколько инстансов над одной БД
	const runs = 8
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := newTestGenerator(store, nil).Run(context.Background(), testNow)
			if assert.NoError(t, err) {
				created.Add(int32(report.Created))
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, created.Load())
	tasks := store.Tasks("t1")
	require.Len(t, tasks, 2)
	keys := []string{tasks[0].DedupKey, tasks[1].DedupKey}
	assert.ElementsMatch(t, []string{
		"t1:absence:student:X:2026-03-09",
		"t1:overdue_payment:invoice:inv-1:2026-03-09",
	}, keys)
}

func TestAbsenceThresholdFromPolicy(t *testing.T) {
	store := memory.NewStore()
	seedTenant(store, "t1", `{"absence_alert": {"enabled": true, "threshold": 4}}`)
	store.AddAbsenceStreak("t1", domain.AbsenceStreak{StudentID: "X", Count: 3, LastAbsent: testNow.Add(-time.Hour)})

	report, err := newTestGenerator(store, nil).Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Empty(t, store.Tasks("t1"))
}

func TestDisabledEventsAreSkipped(t *testing.T) {
	store := memory.NewStore()
	// Нет документа настроек: все события выключены
	store.AddTenant(domain.Tenant{ID: "t1", Status: domain.TenantActive})
	store.AddAbsenceStreak("t1", domain.AbsenceStreak{StudentID: "X", Count: 5, LastAbsent: testNow.Add(-time.Hour)})
	store.AddStudent(domain.Student{ID: "s-new", TenantID: "t1", RegisteredAt: testNow.Add(-24 * time.Hour)})

	report, err := newTestGenerator(store, nil).Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Zero(t, report.FailedTenants)
	assert.Empty(t, store.Tasks("t1"))
}

func TestAllDetectors(t *testing.T) {
	store := memory.NewStore()
	seedTenant(store, "t1", allEnabled)
	store.AddInvoice("t1", domain.OverdueInvoice{
		InvoiceID: "inv-1", StudentID: "s-1", StudentName: "Lee Jiho",
		AmountDue: 150000, Currency: "KRW",
		DueDate: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
	})
	// В пределах grace period, задачи нет
	store.AddInvoice("t1", domain.OverdueInvoice{InvoiceID: "inv-2", DueDate: testNow.AddDate(0, 0, -3)})
	store.AddScheduleChange("t1", domain.ScheduleChange{
		SessionID: "sess-1", ClassID: "c-1", ClassName: "Math A",
		NewStart:  time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		ChangedAt: testNow.Add(-2 * time.Hour),
	})
	store.AddStudent(domain.Student{ID: "s-new", TenantID: "t1", Name: "Park Sora", RegisteredAt: time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)})

	report, err := newTestGenerator(store, nil).Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Created)

	byKey := map[string]*domain.Task{}
	for _, task := range store.Tasks("t1") {
		byKey[task.DedupKey] = task
	}

	overdue := byKey["t1:overdue_payment:invoice:inv-1:2026-03-09"]
	require.NotNil(t, overdue)
	assert.Equal(t, 17, overdue.Priority)
	assert.Equal(t, intents.IntentSendOverdueReminder, overdue.SuggestedAction.Kind)
	assert.Equal(t, 17, overdue.SuggestedAction.Params["days_overdue"])

	schedule := byKey["t1:schedule_change:session:sess-1:2026-03-09"]
	require.NotNil(t, schedule)
	assert.Equal(t, scheduleChangePriority, schedule.Priority)
	assert.Equal(t, "2026-03-12T10:00:00Z", schedule.SuggestedAction.Params["new_start"])
	assert.NotContains(t, schedule.SuggestedAction.Params, "old_start")

	welcome := byKey["t1:new_registration:student:s-new:2026-03-07"]
	require.NotNil(t, welcome)
	assert.Equal(t, newRegistrationPriority, welcome.Priority)
	assert.Equal(t, intents.IntentSendRegistrationWelcome, welcome.SuggestedAction.Kind)
}

// flakySignals ломает чтение пропусков для одного тенанта
type flakySignals struct {
	*memory.Store
	broken string
}

func (f flakySignals) AbsenceStreaks(ctx context.Context, tenantID string, since time.Time, minCount int) ([]domain.AbsenceStreak, error) {
	if tenantID == f.broken {
		return nil, errors.New("connection reset")
	}
	return f.Store.AbsenceStreaks(ctx, tenantID, since, minCount)
}

func TestFailingTenantDoesNotAbortOthers(t *testing.T) {
	store := memory.NewStore()
	for _, id := range []string{"t1", "t2", "t3"} {
		seedTenant(store, id, allEnabled)
		store.AddAbsenceStreak(id, domain.AbsenceStreak{StudentID: "X", Count: 3, LastAbsent: testNow.Add(-time.Hour)})
	}

	g := newTestGenerator(store, flakySignals{Store: store, broken: "t2"})
	report, err := g.Run(context.Background(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Tenants)
	assert.Equal(t, 1, report.FailedTenants)
	assert.Equal(t, 2, report.Created)
	assert.Len(t, store.Tasks("t1"), 1)
	assert.Empty(t, store.Tasks("t2"))
	assert.Len(t, store.Tasks("t3"), 1)
}

func TestTerminalTaskIsNotReopened(t *testing.T) {
	store := memory.NewStore()
	seedTenant(store, "t1", allEnabled)
	lastAbsent := time.Date(2026, 3, 8, 15, 0, 0, 0, time.UTC)
	store.AddAbsenceStreak("t1", domain.AbsenceStreak{StudentID: "X", Count: 4, LastAbsent: lastAbsent})
	store.PutTask(&domain.Task{
		ID: "done", TenantID: "t1", DedupKey: "t1:absence:student:X:2026-03-08",
		TaskType: domain.TaskTypeAbsence, Status: domain.TaskExecuted, Priority: 3,
		CreatedAt: testNow.Add(-time.Hour),
	})

	report, err := newTestGenerator(store, nil).Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, report.Created)

	tasks := store.Tasks("t1")
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskExecuted, tasks[0].Status)
	assert.Equal(t, 3, tasks[0].Priority)
}

func TestSweepExpiresAndPurges(t *testing.T) {
	store := memory.NewStore()
	seedTenant(store, "t1", allEnabled)
	store.PutTask(&domain.Task{
		ID: "stale", TenantID: "t1", DedupKey: "t1:absence:student:A:2026-03-01",
		Status: domain.TaskPending, ExpiresAt: testNow.Add(-time.Hour),
	})
	store.PutTask(&domain.Task{
		ID: "old", TenantID: "t1", DedupKey: "t1:absence:student:B:2026-01-01",
		Status: domain.TaskExpired, UpdatedAt: testNow.AddDate(0, 0, -45),
	})
	store.PutTask(&domain.Task{
		ID: "fresh", TenantID: "t1", DedupKey: "t1:absence:student:C:2026-03-09",
		Status: domain.TaskPending, ExpiresAt: testNow.Add(time.Hour),
	})

	report, err := newTestGenerator(store, nil).Run(context.Background(), testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Expired)
	assert.EqualValues(t, 1, report.Purged)

	status := map[string]domain.TaskStatus{}
	for _, task := range store.Tasks("t1") {
		status[task.ID] = task.Status
	}
	assert.Equal(t, map[string]domain.TaskStatus{
		"stale": domain.TaskExpired,
		"fresh": domain.TaskPending,
	}, status)
}

func TestRunHonoursCancellation(t *testing.T) {
	store := memory.NewStore()
	seedTenant(store, "t1", allEnabled)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestGenerator(store, nil).Run(ctx, testNow)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDedupKey(t *testing.T) {
	day := time.Date(2026, 3, 8, 23, 30, 0, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "t1:absence:student:X:2026-03-08",
		DedupKey("t1", domain.TaskTypeAbsence, "student", "X", day))
}

type countingRunner struct {
	calls atomic.Int32
}

func (c *countingRunner) Run(ctx context.Context, _ time.Time) (Report, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return Report{}, errors.New("run without deadline")
	}
	return Report{}, nil
}

func TestScheduler(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Minute, zap.NewNop())

	require.Error(t, s.Register("not a cron"))
	require.NoError(t, s.Register("*/15 * * * *"))

	s.tick()
	assert.EqualValues(t, 1, runner.calls.Load())

	s.Start()
	s.Stop()
}
