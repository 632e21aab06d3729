package engine

/*
Оркестратор одобрения и исполнения задач автоматизации.

	pending --approve--> approved --execute--> executed
	   \                     \------------------> failed
	    \--------------------> failed / expired

Роль берётся только из проверенного JWT. Перед исполнением повторно
проверяются каталог событий и политика тенанта, затем лимитер безопасности.
Каждая ветка после загрузки задачи пишет строку в журнал действий.

Исполняет только тот запрос, который сам перевёл задачу в approved или
перехватил аренду approved-задачи (updated_at старше executionLease).
Остальные получают replay либо INVALID_TASK_STATE без побочных эффектов.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/academy-automation/internal/audit"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/intents"
	"go.uber.org/zap"
)

var (
	ErrForbidden        = domain.NewError(domain.CodeForbidden, "role is not allowed to perform this action")
	ErrTaskNotFound     = domain.NewError(domain.CodeTaskNotFound, "task not found")
	ErrInvalidTaskState = domain.NewError(domain.CodeInvalidTaskState, "task is not in a state that allows this action")
)

type TaskStore interface {
	GetTask(ctx context.Context, tenantID, taskID string) (*domain.Task, error)
	ApproveTask(ctx context.Context, tenantID, taskID string, plan *domain.Plan, approvedBy string, at time.Time) (*domain.Task, error)
	ClaimApproved(ctx context.Context, tenantID, taskID string, at, staleBefore time.Time) error
	FinishTask(ctx context.Context, tenantID, taskID string, status domain.TaskStatus, at time.Time) error
}

// Auditor: журнал действий (audit.Trail)
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (*domain.ActionLog, error)
	LastOutcome(ctx context.Context, tenantID, taskID string) (*domain.ActionLog, error)
}

// PolicyGate: повторная проверка события и флага политики перед исполнением
type PolicyGate interface {
	RequireEnabled(ctx context.Context, tenantID, eventID string) (domain.EventType, error)
}

type Admitter interface {
	Admit(ctx context.Context, tenantID string, at domain.ActionType, now time.Time) (domain.Admission, error)
}

// Outcome: ответ на действие над задачей
type Outcome struct {
	TaskID   string            `json:"task_id"`
	Action   string            `json:"action"`
	Status   domain.TaskStatus `json:"status"`
	Result   map[string]any    `json:"result,omitempty"`
	Replayed bool              `json:"replayed,omitempty"`
	TraceID  string            `json:"trace_id"`
}

const (
	ActionRequestApproval   = "request-approval"
	ActionApproveAndExecute = "approve-and-execute"
)

// Сколько approved-задача считается занятой исполняющим запросом
const defaultExecutionLease = 2 * time.Minute

// errLostRace: задачу перевёл параллельный запрос
var errLostRace = errors.New("task claimed concurrently")

type Orchestrator struct {
	tasks    TaskStore
	registry *intents.Registry
	policy   PolicyGate
	limiter  Admitter
	audit    Auditor
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
	lease    time.Duration
}

func NewOrchestrator(tasks TaskStore, registry *intents.Registry, policy PolicyGate, limiter Admitter, auditor Auditor, metrics *Metrics, logger *zap.Logger) *Orchestrator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		tasks:    tasks,
		registry: registry,
		policy:   policy,
		limiter:  limiter,
		audit:    auditor,
		metrics:  metrics,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
		lease:    defaultExecutionLease,
	}
}

// RequestApproval: учитель просит администратора одобрить задачу. Состояние задачи не меняется.
func (o *Orchestrator) RequestApproval(ctx context.Context, p domain.Principal, taskID string) (out *Outcome, err error) {
	start := o.now()
	traceID := TraceIDFrom(ctx)
	defer func() { o.observe(ActionRequestApproval, start, err) }()

	if p.Role != domain.RoleTeacher {
		o.logger.Warn("request-approval denied",
			zap.String("tenant_id", p.TenantID),
			zap.String("user_id", p.UserID),
			zap.Stringer("role", p.Role),
			zap.String("trace_id", traceID))
		return nil, ErrForbidden
	}

	task, err := o.load(ctx, p.TenantID, taskID)
	if err != nil {
		return nil, err
	}

	out = &Outcome{TaskID: task.ID, Action: ActionRequestApproval, Status: task.Status, TraceID: traceID}
	entry := o.entry(p, task, domain.LogRequestApproval, traceID)

	if task.Status != domain.TaskPending {
		out.Result = map[string]any{"status": "rejected", "error_code": string(domain.CodeInvalidTaskState), "task_status": string(task.Status)}
		entry.Result = out.Result
		if aErr := o.record(ctx, entry); aErr != nil {
			return out, aErr
		}
		return out, ErrInvalidTaskState
	}

	out.Result = map[string]any{"status": "approval_requested", "requested_by": p.UserID}
	entry.Result = out.Result
	if err := o.record(ctx, entry); err != nil {
		return nil, err
	}
	o.logger.Info("approval requested",
		zap.String("tenant_id", p.TenantID),
		zap.String("task_id", task.ID),
		zap.String("trace_id", traceID))
	return out, nil
}

// ApproveAndExecute одобряет (или берёт уже одобренный) план и исполняет его.
// Повтор после таймаута безопасен: план тот же, записи outbox сходятся по ключу.
func (o *Orchestrator) ApproveAndExecute(ctx context.Context, p domain.Principal, taskID string) (out *Outcome, err error) {
	start := o.now()
	traceID := TraceIDFrom(ctx)
	defer func() { o.observe(ActionApproveAndExecute, start, err) }()

	if p.Role != domain.RoleAdmin && p.Role != domain.RoleOwner {
		o.logger.Warn("approve-and-execute denied",
			zap.String("tenant_id", p.TenantID),
			zap.String("user_id", p.UserID),
			zap.Stringer("role", p.Role),
			zap.String("trace_id", traceID))
		return nil, ErrForbidden
	}

	task, err := o.load(ctx, p.TenantID, taskID)
	if err != nil {
		return nil, err
	}
	log := o.logger.With(
		zap.String("tenant_id", p.TenantID),
		zap.String("task_id", task.ID),
		zap.String("trace_id", traceID))
	entry := o.entry(p, task, domain.LogApproveAndExecute, traceID)
	out = &Outcome{TaskID: task.ID, Action: ActionApproveAndExecute, Status: task.Status, TraceID: traceID}

	switch task.Status {
	case domain.TaskExecuted:
		return o.replay(ctx, out, entry, log)
	case domain.TaskFailed, domain.TaskExpired:
		out.Result = domain.Failed(domain.CodeInvalidTaskState, fmt.Sprintf("task is %s", task.Status)).AsMap()
		entry.Result = out.Result
		if aErr := o.record(ctx, entry); aErr != nil {
			return out, aErr
		}
		return out, ErrInvalidTaskState
	}

	plan := task.Plan
	if task.Status == domain.TaskPending {
		if task.IsExpired(o.now()) {
			// Перевод в expired делает плановая зачистка
			out.Result = domain.Failed(domain.CodeInvalidTaskState, "task expired before approval").AsMap()
			entry.Result = out.Result
			if aErr := o.record(ctx, entry); aErr != nil {
				return out, aErr
			}
			return out, ErrInvalidTaskState
		}
		plan, err = o.approve(ctx, p, task)
		if err != nil {
			if errors.Is(err, errLostRace) {
				return o.concurrent(ctx, out, entry, log)
			}
			if domain.CodeOf(err) == domain.CodeQueryFailed {
				// Временная ошибка: задача остаётся pending, повтор возможен
				return nil, o.transient(ctx, entry, err)
			}
			return o.fail(ctx, out, entry, err, log)
		}
		out.Status = domain.TaskApproved
		approver := p.UserID
		entry.ApprovedBy = &approver
	} else {
		entry.Context["retry_of_approved"] = true
		now := o.now().UTC()
		err := o.tasks.ClaimApproved(ctx, p.TenantID, task.ID, now, now.Add(-o.lease))
		switch {
		case errors.Is(err, domain.ErrConflict):
			return o.concurrent(ctx, out, entry, log)
		case err != nil:
			return nil, o.transient(ctx, entry, domain.WrapError(domain.CodeQueryFailed, "claim approved task", err))
		}
	}
	if plan == nil {
		return o.fail(ctx, out, entry, domain.NewError(domain.CodeExecutionFailed, "approved task has no plan"), log)
	}
	entry.Context["intent"] = plan.IntentKey
	entry.Context["event_type"] = string(plan.EventType)
	entry.Context["plan_summary"] = plan.Snapshot.Summary

	handler, err := o.registry.Get(plan.IntentKey)
	if err != nil {
		return o.fail(ctx, out, entry, err, log)
	}

	// Политика могла измениться после одобрения
	if _, err := o.policy.RequireEnabled(ctx, p.TenantID, string(plan.EventType)); err != nil {
		return o.fail(ctx, out, entry, err, log)
	}

	adm, err := o.limiter.Admit(ctx, p.TenantID, handler.ActionType(), o.now())
	if err != nil {
		return o.fail(ctx, out, entry, err, log)
	}
	entry.Context["safety_window"] = domain.DayKey(adm.WindowStart)
	entry.Context["executed_count"] = adm.ExecutedCount
	entry.Context["max_allowed"] = adm.MaxAllowed

	res := o.execute(ctx, handler, plan, intents.ExecContext{
		TenantID:   p.TenantID,
		TaskID:     task.ID,
		ExecutedBy: p.UserID,
		TraceID:    traceID,
		Now:        o.now(),
	})

	final := domain.TaskExecuted
	if !res.OK() {
		final = domain.TaskFailed
	}
	if err := o.tasks.FinishTask(ctx, p.TenantID, task.ID, final, o.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Аренда истекла и задачу завершил другой запрос; outbox сошёлся по ключу
			log.Warn("task finished concurrently", zap.String("status", string(final)))
			return o.concurrent(ctx, out, entry, log)
		}
		// Исполнение уже было: outbox сойдётся при повторе, задача остаётся approved
		log.Error("finish task failed", zap.String("status", string(final)), zap.Error(err))
		out.Result = res.AsMap()
		entry.Result = out.Result
		return out, o.transient(ctx, entry, domain.WrapError(domain.CodeQueryFailed, "finish task", err))
	}

	out.Status = final
	out.Result = res.AsMap()
	entry.Result = out.Result
	if err := o.record(ctx, entry); err != nil {
		return out, err
	}

	if res.OK() {
		log.Info("task executed", zap.String("intent", plan.IntentKey), zap.Int("affected", res.AffectedCount))
		return out, nil
	}
	log.Warn("task execution failed", zap.String("intent", plan.IntentKey), zap.String("code", string(res.ErrorCode)))
	return out, domain.NewError(res.ErrorCode, res.Message)
}

// approve строит план и условно переводит pending -> approved.
// Если параллельный запрос успел первым, возвращает errLostRace.
func (o *Orchestrator) approve(ctx context.Context, p domain.Principal, task *domain.Task) (*domain.Plan, error) {
	handler, err := o.registry.Get(task.SuggestedAction.Kind)
	if err != nil {
		return nil, err
	}
	plan, err := handler.Plan(ctx, task, p.UserID, o.now())
	if err != nil {
		return nil, err
	}

	approved, err := o.tasks.ApproveTask(ctx, p.TenantID, task.ID, plan, p.UserID, o.now().UTC())
	switch {
	case err == nil:
		return approved.Plan, nil
	case errors.Is(err, domain.ErrConflict):
		return nil, errLostRace
	default:
		return nil, domain.WrapError(domain.CodeQueryFailed, "approve task", err)
	}
}

// execute изолирует паники хендлера
func (o *Orchestrator) execute(ctx context.Context, h intents.Handler, plan *domain.Plan, ec intents.ExecContext) (res domain.ExecResult) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("intent handler panicked",
				zap.String("intent", h.IntentKey()),
				zap.String("task_id", ec.TaskID),
				zap.Any("panic", r))
			res = domain.Failed(domain.CodeExecutionFailed, "intent handler crashed")
		}
		o.metrics.HandlerDuration.WithLabelValues(h.IntentKey(), string(res.Status)).Observe(o.now().Sub(start).Seconds())
	}()
	return h.Execute(ctx, plan, ec)
}

// fail переводит задачу в failed и журналирует причину
func (o *Orchestrator) fail(ctx context.Context, out *Outcome, entry audit.Entry, cause error, log *zap.Logger) (*Outcome, error) {
	res := domain.FailedFrom(cause)
	out.Result = res.AsMap()
	entry.Result = out.Result

	if err := o.tasks.FinishTask(ctx, entry.TenantID, entry.TaskID, domain.TaskFailed, o.now().UTC()); err != nil {
		log.Error("mark task failed", zap.Error(err))
	} else {
		out.Status = domain.TaskFailed
	}
	if err := o.record(ctx, entry); err != nil {
		return out, err
	}
	log.Warn("task failed", zap.String("code", string(res.ErrorCode)), zap.String("reason", res.Message))
	return out, cause
}

// concurrent: задачу перевёл другой запрос. Сами не исполняем:
// executed отдаём как replay, иначе INVALID_TASK_STATE без смены состояния.
func (o *Orchestrator) concurrent(ctx context.Context, out *Outcome, entry audit.Entry, log *zap.Logger) (*Outcome, error) {
	cur, err := o.load(ctx, entry.TenantID, entry.TaskID)
	if err != nil {
		return nil, err
	}
	out.Status = cur.Status
	if cur.Status == domain.TaskExecuted {
		return o.replay(ctx, out, entry, log)
	}

	msg := fmt.Sprintf("task is %s", cur.Status)
	if cur.Status == domain.TaskApproved {
		msg = "task is being executed by another request"
	}
	out.Result = domain.Failed(domain.CodeInvalidTaskState, msg).AsMap()
	entry.Context["concurrent"] = true
	entry.Result = out.Result
	if aErr := o.record(ctx, entry); aErr != nil {
		return out, aErr
	}
	log.Info("task claimed by a concurrent request", zap.String("task_status", string(cur.Status)))
	return out, ErrInvalidTaskState
}

// transient журналирует временную ошибку; сбой записи журнала присоединяется к cause
func (o *Orchestrator) transient(ctx context.Context, entry audit.Entry, cause error) error {
	if entry.Result == nil {
		entry.Result = domain.FailedFrom(cause).AsMap()
	}
	if aErr := o.record(ctx, entry); aErr != nil {
		return errors.Join(cause, aErr)
	}
	return cause
}

// replay: задача уже исполнена: отдаём прежний результат без побочных эффектов
func (o *Orchestrator) replay(ctx context.Context, out *Outcome, entry audit.Entry, log *zap.Logger) (*Outcome, error) {
	out.Replayed = true
	prior, err := o.audit.LastOutcome(ctx, entry.TenantID, entry.TaskID)
	switch {
	case err == nil:
		out.Result = prior.Result
		entry.Context["replayed_log_id"] = prior.ID
	case errors.Is(err, domain.ErrNotFound):
		out.Result = map[string]any{"status": string(domain.ExecSuccess)}
	default:
		return nil, domain.WrapError(domain.CodeQueryFailed, "load prior outcome", err)
	}
	entry.Context["replayed"] = true
	entry.Result = map[string]any{"status": "replayed", "task_status": string(domain.TaskExecuted)}
	if err := o.record(ctx, entry); err != nil {
		return out, err
	}
	log.Info("task already executed, returning prior outcome")
	return out, nil
}

func (o *Orchestrator) load(ctx context.Context, tenantID, taskID string) (*domain.Task, error) {
	if taskID == "" {
		return nil, domain.NewError(domain.CodeInvalidParams, "task_id is required")
	}
	task, err := o.tasks.GetTask(ctx, tenantID, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, domain.WrapError(domain.CodeQueryFailed, "load task", err)
	}
	return task, nil
}

func (o *Orchestrator) entry(p domain.Principal, task *domain.Task, at domain.LogActionType, traceID string) audit.Entry {
	return audit.Entry{
		TenantID:   p.TenantID,
		TaskID:     task.ID,
		ActionType: at,
		ExecutedBy: p.UserID,
		Context: map[string]any{
			"trace_id":    traceID,
			"role":        p.Role.String(),
			"task_type":   string(task.TaskType),
			"task_status": string(task.Status),
			"suggested":   task.SuggestedAction.Kind,
		},
	}
}

func (o *Orchestrator) record(ctx context.Context, e audit.Entry) error {
	if _, err := o.audit.Record(ctx, e); err != nil {
		o.logger.Error("audit write failed",
			zap.String("tenant_id", e.TenantID),
			zap.String("task_id", e.TaskID),
			zap.Error(err))
		return domain.WrapError(domain.CodeQueryFailed, "write action log", err)
	}
	return nil
}

func (o *Orchestrator) observe(action string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(domain.CodeOf(err))
		o.metrics.ErrorTotal.WithLabelValues(status).Inc()
	}
	o.metrics.Requests.WithLabelValues(action, status).Inc()
	o.metrics.RequestDuration.WithLabelValues(action, status).Observe(o.now().Sub(start).Seconds())
}
