package intents

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

const IntentSendOverdueReminder = "send_overdue_reminder"

// OverdueHandler напоминает об открытом просроченном счёте.
// Если у студента нет опекунов с контактом, адресат: сам студент.
type OverdueHandler struct {
	base
}

func NewOverdueHandler(d Deps) *OverdueHandler {
	return &OverdueHandler{base: newBase(IntentSendOverdueReminder, domain.EventOverduePaymentReminder, domain.ActionPaymentReminder, d)}
}

func (h *OverdueHandler) Plan(ctx context.Context, task *domain.Task, plannedBy string, now time.Time) (*domain.Plan, error) {
	params, ch, spec, err := h.prepare(ctx, task)
	if err != nil {
		return nil, err
	}
	invoiceID := paramString(params, "invoice_id")

	inv, err := h.deps.Directory.GetInvoice(ctx, task.TenantID, invoiceID)
	if err != nil {
		return nil, lookupErr("invoice", invoiceID, err)
	}
	guardians, err := h.deps.Directory.GuardiansOf(ctx, task.TenantID, []string{inv.StudentID})
	if err != nil {
		return nil, lookupErr("guardians", inv.StudentID, err)
	}

	recipients := guardianRecipients(guardians, ch)
	if len(recipients) == 0 {
		student, err := h.deps.Directory.GetStudent(ctx, task.TenantID, inv.StudentID)
		if err != nil {
			return nil, lookupErr("student", inv.StudentID, err)
		}
		if r, ok := studentRecipient(student, ch); ok {
			r.TargetID = inv.InvoiceID
			recipients = append(recipients, r)
		}
	}

	return h.newPlan(params, domain.PlanSnapshot{
		TargetType: "invoice",
		TargetIDs:  []string{inv.InvoiceID},
		Recipients: recipients,
		Channel:    ch,
		TemplateID: spec.TemplateID,
		Summary:    fmt.Sprintf("remind about invoice %s due %s", inv.InvoiceID, inv.DueDate.UTC().Format(time.DateOnly)),
		TemplateVars: map[string]string{
			"student_name": inv.StudentName,
			"amount_due":   strconv.FormatInt(inv.AmountDue, 10),
			"currency":     inv.Currency,
			"due_date":     inv.DueDate.UTC().Format(time.DateOnly),
		},
		PrimaryTargetID: inv.InvoiceID,
	}, plannedBy, now), nil
}

func (h *OverdueHandler) Execute(ctx context.Context, plan *domain.Plan, ec ExecContext) domain.ExecResult {
	return h.deliver(ctx, plan, ec)
}
