package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/audit"
	"github.com/xela07ax/academy-automation/internal/console/handler"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/engine"
	"github.com/xela07ax/academy-automation/internal/infra/auth"
	"github.com/xela07ax/academy-automation/internal/intents"
	"github.com/xela07ax/academy-automation/internal/outbox"
	"github.com/xela07ax/academy-automation/internal/policy"
	"github.com/xela07ax/academy-automation/internal/repository/memory"
	"go.uber.org/zap"
)

const settings = `{
	"absence_alert": {"enabled": true, "channel": "sms"},
	"automation_safety": {"notify_guardian": {"max_allowed": 5}}
}`

type fixture struct {
	store *memory.Store
	srv   *httptest.Server
	key   *rsa.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	store := memory.NewStore()
	store.SetSettings("t1", settings)
	store.AddStudent(domain.Student{ID: "s-1", TenantID: "t1", Name: "Lee Jiho"})
	store.AddGuardian(domain.Guardian{ID: "g-1", TenantID: "t1", StudentID: "s-1", Name: "Lee Minho", Phone: "010-5555-6666"})
	store.PutTask(&domain.Task{
		ID:        "task-1",
		TenantID:  "t1",
		DedupKey:  "t1:absence:student:s-1:2026-03-08",
		TaskType:  domain.TaskTypeAbsence,
		Status:    domain.TaskPending,
		ExpiresAt: time.Now().Add(time.Hour),
		SuggestedAction: domain.SuggestedAction{
			Kind:   intents.IntentNotifyGuardianAbsence,
			Params: map[string]any{"student_id": "s-1", "absence_count": 3},
		},
	})

	logger := zap.NewNop()
	ev := policy.NewEvaluator(store, logger)
	reg := intents.NewDefaultRegistry(intents.Deps{
		Policy:    ev,
		Directory: store,
		Outbox:    outbox.NewDispatcher(store, nil, nil, logger),
		Logger:    logger,
	})
	orch := engine.NewOrchestrator(store, reg, ev,
		engine.NewSafetyLimiter(store, ev, nil, nil, nil, logger),
		audit.NewTrail(store, nil, logger), nil, logger)

	s := NewAutomationServer(Options{RequestTimeout: 5 * time.Second, Gatherer: prometheus.NewRegistry()},
		logger, auth.NewBaseValidator(&key.PublicKey), handler.NewAutomationHandler(orch, logger))

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &fixture{store: store, srv: srv, key: key}
}

func (f *fixture) token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, domain.CustomClaims{
		TenantID: "t1",
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(f.key)
	require.NoError(t, err)
	return tok
}

func (f *fixture) post(t *testing.T, query, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/automation?"+query, nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace-ID", "trace-42")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestApproveAndExecuteOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "action=approve-and-execute&task_id=task-1", f.token(t, "admin-1", "admin"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-42", resp.Header.Get("X-Trace-ID"))

	var out engine.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, domain.TaskExecuted, out.Status)
	assert.Equal(t, "trace-42", out.TraceID)

	records := f.store.OutboxRecords("t1")
	require.Len(t, records, 1)
	assert.Equal(t, domain.ChannelSMS, records[0].Channel)
}

func TestTeacherCannotExecute(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "action=approve-and-execute&task_id=task-1", f.token(t, "teacher-1", "teacher"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	tasks := f.store.Tasks("t1")
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskPending, tasks[0].Status)
	assert.Empty(t, f.store.OutboxRecords("t1"))
	assert.Empty(t, f.store.ActionLogs("t1", "task-1"))
}

func TestRequestApprovalOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "action=request-approval&task_id=task-1", f.token(t, "teacher-1", "teacher"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, "action=request-approval&task_id=missing", f.token(t, "teacher-1", "teacher"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "action=approve-and-execute&task_id=task-1", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(f.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
