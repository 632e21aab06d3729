package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/engine"
	"github.com/xela07ax/academy-automation/internal/infra/auth"
	"go.uber.org/zap"
)

type fakeService struct {
	calls []string
	out   *engine.Outcome
	err   error
}

func (f *fakeService) RequestApproval(_ context.Context, _ domain.Principal, taskID string) (*engine.Outcome, error) {
	f.calls = append(f.calls, engine.ActionRequestApproval+":"+taskID)
	return f.out, f.err
}

func (f *fakeService) ApproveAndExecute(_ context.Context, _ domain.Principal, taskID string) (*engine.Outcome, error) {
	f.calls = append(f.calls, engine.ActionApproveAndExecute+":"+taskID)
	return f.out, f.err
}

var admin = domain.Principal{UserID: "admin-1", TenantID: "t1", Role: domain.RoleAdmin}

func invoke(h *AutomationHandler, query string, p *domain.Principal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/automation?"+query, nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	h.Invoke(rec, req)
	return rec
}

func TestInvokeRoutesActions(t *testing.T) {
	svc := &fakeService{out: &engine.Outcome{TaskID: "task-1", Status: domain.TaskExecuted}}
	h := NewAutomationHandler(svc, zap.NewNop())

	assert.Equal(t, http.StatusOK, invoke(h, "action=request-approval&task_id=task-1", &admin).Code)
	assert.Equal(t, http.StatusOK, invoke(h, "action=approve-and-execute&task_id=task-1", &admin).Code)
	// Устаревший алиас ведёт туда же
	assert.Equal(t, http.StatusOK, invoke(h, "action=approve&task_id=task-1", &admin).Code)

	assert.Equal(t, []string{
		"request-approval:task-1",
		"approve-and-execute:task-1",
		"approve-and-execute:task-1",
	}, svc.calls)
}

func TestInvokeRejectsUnknownActionAndMissingPrincipal(t *testing.T) {
	svc := &fakeService{}
	h := NewAutomationHandler(svc, zap.NewNop())

	rec := invoke(h, "action=delete&task_id=task-1", &admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_code":"INVALID_PARAMS"`)

	rec = invoke(h, "action=approve-and-execute&task_id=task-1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestInvokeErrorMapping(t *testing.T) {
	failed := &engine.Outcome{TaskID: "task-1", Status: domain.TaskFailed,
		Result: domain.Failed(domain.CodeExecutionFailed, "boom").AsMap()}

	tests := []struct {
		name string
		out  *engine.Outcome
		err  error
		want int
	}{
		{"forbidden", nil, engine.ErrForbidden, http.StatusForbidden},
		{"not found", nil, engine.ErrTaskNotFound, http.StatusNotFound},
		{"invalid params", nil, domain.NewError(domain.CodeInvalidParams, "task_id is required"), http.StatusBadRequest},
		{"invalid state", failed, engine.ErrInvalidTaskState, http.StatusConflict},
		{"policy disabled", failed, domain.NewError(domain.CodePolicyDisabled, "off"), http.StatusConflict},
		{"paused", failed, engine.ErrSafetyPaused, http.StatusTooManyRequests},
		{"limit exceeded", failed, engine.ErrLimitExceeded, http.StatusTooManyRequests},
		{"execution failed with outcome", failed, domain.NewError(domain.CodeExecutionFailed, "boom"), http.StatusOK},
		{"query failed without outcome", nil, domain.NewError(domain.CodeQueryFailed, "db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAutomationHandler(&fakeService{out: tt.out, err: tt.err}, zap.NewNop())
			rec := invoke(h, "action=approve-and-execute&task_id=task-1", &admin)
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(domain.CodeOf(tt.err)), body["error_code"])
			if tt.out != nil {
				assert.Equal(t, "task-1", body["task_id"])
				assert.Equal(t, "failed", body["status"])
			}
		})
	}
}
