package intents

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

const IntentSendRegistrationWelcome = "send_registration_welcome"

// WelcomeHandler приветствует нового студента и его опекунов
type WelcomeHandler struct {
	base
}

func NewWelcomeHandler(d Deps) *WelcomeHandler {
	return &WelcomeHandler{base: newBase(IntentSendRegistrationWelcome, domain.EventNewRegistrationWelcome, domain.ActionWelcomeMessage, d)}
}

func (h *WelcomeHandler) Plan(ctx context.Context, task *domain.Task, plannedBy string, now time.Time) (*domain.Plan, error) {
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

	recipients := make([]domain.Recipient, 0, len(guardians)+1)
	if r, ok := studentRecipient(student, ch); ok {
		recipients = append(recipients, r)
	}
	recipients = append(recipients, guardianRecipients(guardians, ch)...)

	return h.newPlan(params, domain.PlanSnapshot{
		TargetType:      "student",
		TargetIDs:       []string{student.ID},
		Recipients:      recipients,
		Channel:         ch,
		TemplateID:      spec.TemplateID,
		Summary:         fmt.Sprintf("welcome new student %s", student.ID),
		TemplateVars:    map[string]string{"student_name": student.Name},
		PrimaryTargetID: student.ID,
	}, plannedBy, now), nil
}

func (h *WelcomeHandler) Execute(ctx context.Context, plan *domain.Plan, ec ExecContext) domain.ExecResult {
	return h.deliver(ctx, plan, ec)
}
