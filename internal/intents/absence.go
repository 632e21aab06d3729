package intents

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

const IntentNotifyGuardianAbsence = "notify_guardian_absence"

// AbsenceHandler уведомляет опекунов о серии пропусков студента
type AbsenceHandler struct {
	base
}

func NewAbsenceHandler(d Deps) *AbsenceHandler {
	return &AbsenceHandler{base: newBase(IntentNotifyGuardianAbsence, domain.EventAbsenceAlert, domain.ActionNotifyGuardian, d)}
}

func (h *AbsenceHandler) Plan(ctx context.Context, task *domain.Task, plannedBy string, now time.Time) (*domain.Plan, error) {
	params, ch, spec, err := h.prepare(ctx, task)
	if err != nil {
		return nil, err
	}
	studentID := paramString(params, "student_id")

	student, err := h.deps.Directory.GetStudent(ctx, task.TenantID, studentID)
	if err != nil {
		return nil, lookupErr("student", studentID, err)
	}
	guardians, err := h.deps.Directory.GuardiansOf(ctx, task.TenantID, []string{student.ID})
	if err != nil {
		return nil, lookupErr("guardians", studentID, err)
	}

	count := "several"
	if n, ok := params["absence_count"]; ok {
		count = fmt.Sprint(n)
	}

	return h.newPlan(params, domain.PlanSnapshot{
		TargetType: "student",
		TargetIDs:  []string{student.ID},
		Recipients: guardianRecipients(guardians, ch),
		Channel:    ch,
		TemplateID: spec.TemplateID,
		Summary:    fmt.Sprintf("notify guardians of %s about %s consecutive absences", student.ID, count),
		TemplateVars: map[string]string{
			"student_name":  student.Name,
			"absence_count": count,
		},
		PrimaryTargetID: student.ID,
	}, plannedBy, now), nil
}

func (h *AbsenceHandler) Execute(ctx context.Context, plan *domain.Plan, ec ExecContext) domain.ExecResult {
	return h.deliver(ctx, plan, ec)
}
