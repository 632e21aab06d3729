package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/engine"
	"github.com/xela07ax/academy-automation/internal/infra/auth"
	"go.uber.org/zap"
)

// AutomationService описываем, что нам нужно от оркестратора
type AutomationService interface {
	RequestApproval(ctx context.Context, p domain.Principal, taskID string) (*engine.Outcome, error)
	ApproveAndExecute(ctx context.Context, p domain.Principal, taskID string) (*engine.Outcome, error)
}

// Старое имя действия, оставлено для клиентов прошлой версии
const deprecatedApproveAction = "approve"

type AutomationHandler struct {
	service AutomationService
	logger  *zap.Logger
}

func NewAutomationHandler(s AutomationService, logger *zap.Logger) *AutomationHandler {
	return &AutomationHandler{service: s, logger: logger.Named("automation-api")}
}

type errorBody struct {
	ErrorCode domain.ErrorCode `json:"error_code"`
	Message   string           `json:"message"`
	TraceID   string           `json:"trace_id"`
	*engine.Outcome
}

// Invoke обрабатывает POST /v1/automation?action=...&task_id=...
func (h *AutomationHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, r, domain.NewError(domain.CodeUnauthenticated, "no verified identity"), nil)
		return
	}

	q := r.URL.Query()
	action := q.Get("action")
	taskID := q.Get("task_id")

	var (
		out *engine.Outcome
		err error
	)
	switch action {
	case engine.ActionRequestApproval:
		out, err = h.service.RequestApproval(r.Context(), principal, taskID)
	case deprecatedApproveAction:
		h.logger.Warn("deprecated action alias used",
			zap.String("action", action),
			zap.String("tenant_id", principal.TenantID),
			zap.String("trace_id", engine.TraceIDFrom(r.Context())))
		fallthrough
	case engine.ActionApproveAndExecute:
		out, err = h.service.ApproveAndExecute(r.Context(), principal, taskID)
	default:
		h.writeError(w, r, domain.NewError(domain.CodeInvalidParams, "unknown action "+action), nil)
		return
	}

	if err != nil {
		h.writeError(w, r, err, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AutomationHandler) writeError(w http.ResponseWriter, r *http.Request, err error, out *engine.Outcome) {
	code := domain.CodeOf(err)
	status := StatusFor(code, out != nil)
	if status >= http.StatusInternalServerError {
		h.logger.Error("automation request failed",
			zap.String("error_code", string(code)),
			zap.String("trace_id", engine.TraceIDFrom(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{
		ErrorCode: code,
		Message:   domain.MessageOf(err),
		TraceID:   engine.TraceIDFrom(r.Context()),
		Outcome:   out,
	})
}

// StatusFor переводит код таксономии в HTTP статус.
// Сбой исполнения при наличии итога отдаётся как 200 с failed-результатом в теле.
func StatusFor(code domain.ErrorCode, hasOutcome bool) int {
	switch code {
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeTaskNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidParams, domain.CodeMissingEventType, domain.CodeInvalidEventType:
		return http.StatusBadRequest
	case domain.CodeInvalidTaskState, domain.CodePolicyDisabled:
		return http.StatusConflict
	case domain.CodePaused, domain.CodeLimitExceeded:
		return http.StatusTooManyRequests
	}
	if hasOutcome {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
