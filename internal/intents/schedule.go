package intents

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

const IntentNotifyScheduleChange = "notify_schedule_change"

// ScheduleChangeHandler сообщает опекунам всех активных студентов класса о переносе занятия
type ScheduleChangeHandler struct {
	base
}

func NewScheduleChangeHandler(d Deps) *ScheduleChangeHandler {
	return &ScheduleChangeHandler{base: newBase(IntentNotifyScheduleChange, domain.EventScheduleChangeNotice, domain.ActionNotifyGuardian, d)}
}

func (h *ScheduleChangeHandler) Plan(ctx context.Context, task *domain.Task, plannedBy string, now time.Time) (*domain.Plan, error) {
	params, ch, spec, err := h.prepare(ctx, task)
	if err != nil {
		return nil, err
	}
	classID := paramString(params, "class_id")

	roster, err := h.deps.Directory.ClassRoster(ctx, task.TenantID, classID)
	if err != nil {
		return nil, lookupErr("class roster", classID, err)
	}
	if len(roster) == 0 {
		return nil, domain.NewError(domain.CodeTargetNotFound, fmt.Sprintf("class %s has no active students", classID))
	}
	guardians, err := h.deps.Directory.GuardiansOf(ctx, task.TenantID, roster)
	if err != nil {
		return nil, lookupErr("guardians", classID, err)
	}

	className := paramString(params, "class_name")
	if className == "" {
		className = classID
	}

	return h.newPlan(params, domain.PlanSnapshot{
		TargetType: "class",
		TargetIDs:  roster,
		Recipients: guardianRecipients(guardians, ch),
		Channel:    ch,
		TemplateID: spec.TemplateID,
		Summary:    fmt.Sprintf("notify %d students of class %s about session %s", len(roster), classID, paramString(params, "session_id")),
		TemplateVars: map[string]string{
			"class_name": className,
			"old_start":  paramString(params, "old_start"),
			"new_start":  paramString(params, "new_start"),
		},
		PrimaryTargetID: paramString(params, "session_id"),
	}, plannedBy, now), nil
}

func (h *ScheduleChangeHandler) Execute(ctx context.Context, plan *domain.Plan, ec ExecContext) domain.ExecResult {
	return h.deliver(ctx, plan, ec)
}
