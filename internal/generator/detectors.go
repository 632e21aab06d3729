package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/intents"
	"github.com/xela07ax/academy-automation/internal/policy"
)

// Фиксированные приоритеты для сигналов без естественной меры срочности
const (
	scheduleChangePriority  = 5
	newRegistrationPriority = 1
)

type candidate struct {
	targetType  string
	targetID    string
	day         time.Time
	title       string
	description string
	priority    int
	action      domain.SuggestedAction
}

type detector struct {
	kind   domain.TaskType
	event  domain.EventType
	detect func(ctx context.Context, tenantID string, now time.Time) ([]candidate, error)
}

func (g *Generator) detectors() []detector {
	return []detector{
		{kind: domain.TaskTypeAbsence, event: domain.EventAbsenceAlert, detect: g.detectAbsence},
		{kind: domain.TaskTypeOverduePayment, event: domain.EventOverduePaymentReminder, detect: g.detectOverdue},
		{kind: domain.TaskTypeScheduleChange, event: domain.EventScheduleChangeNotice, detect: g.detectScheduleChanges},
		{kind: domain.TaskTypeNewRegistration, event: domain.EventNewRegistrationWelcome, detect: g.detectRegistrations},
	}
}

func (g *Generator) detectAbsence(ctx context.Context, tenantID string, now time.Time) ([]candidate, error) {
	threshold, err := g.settings.IntOrDefault(ctx, tenantID, policy.AbsenceThreshold, policy.DefaultAbsenceThreshold)
	if err != nil {
		return nil, err
	}
	lookback, err := g.settings.IntOrDefault(ctx, tenantID, policy.AbsenceLookbackDays, policy.DefaultAbsenceLookbackDays)
	if err != nil {
		return nil, err
	}
	since := now.UTC().AddDate(0, 0, -lookback)

	streaks, err := g.signals.AbsenceStreaks(ctx, tenantID, since, threshold)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(streaks))
	for _, s := range streaks {
		out = append(out, candidate{
			targetType:  "student",
			targetID:    s.StudentID,
			day:         s.LastAbsent,
			title:       fmt.Sprintf("%s пропустил(а) %d занятий подряд", s.StudentName, s.Count),
			description: "Уведомить родителей о пропусках",
			priority:    s.Count,
			action: domain.SuggestedAction{
				Kind: intents.IntentNotifyGuardianAbsence,
				Params: map[string]any{
					"student_id":    s.StudentID,
					"absence_count": s.Count,
					"last_absent":   s.LastAbsent.UTC().Format(time.RFC3339),
				},
			},
		})
	}
	return out, nil
}

func (g *Generator) detectOverdue(ctx context.Context, tenantID string, now time.Time) ([]candidate, error) {
	grace, err := g.settings.IntOrDefault(ctx, tenantID, policy.OverdueGraceDays, policy.DefaultOverdueGraceDays)
	if err != nil {
		return nil, err
	}
	invoices, err := g.signals.OverdueInvoices(ctx, tenantID, now.UTC().AddDate(0, 0, -grace))
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(invoices))
	for _, inv := range invoices {
		days := daysBetween(inv.DueDate, now)
		out = append(out, candidate{
			targetType:  "invoice",
			targetID:    inv.InvoiceID,
			day:         now,
			title:       fmt.Sprintf("Счёт %s просрочен на %d дн.", inv.InvoiceID, days),
			description: fmt.Sprintf("Напомнить об оплате: %s, %d %s", inv.StudentName, inv.AmountDue, inv.Currency),
			priority:    days,
			action: domain.SuggestedAction{
				Kind: intents.IntentSendOverdueReminder,
				Params: map[string]any{
					"invoice_id":   inv.InvoiceID,
					"student_id":   inv.StudentID,
					"days_overdue": days,
				},
			},
		})
	}
	return out, nil
}

func (g *Generator) detectScheduleChanges(ctx context.Context, tenantID string, now time.Time) ([]candidate, error) {
	changes, err := g.signals.ScheduleChanges(ctx, tenantID, now.UTC().Add(-g.cfg.ScheduleLookback))
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(changes))
	for _, c := range changes {
		params := map[string]any{
			"session_id": c.SessionID,
			"class_id":   c.ClassID,
			"class_name": c.ClassName,
			"new_start":  c.NewStart.UTC().Format(time.RFC3339),
		}
		if !c.OldStart.IsZero() {
			params["old_start"] = c.OldStart.UTC().Format(time.RFC3339)
		}
		out = append(out, candidate{
			targetType:  "session",
			targetID:    c.SessionID,
			day:         c.ChangedAt,
			title:       fmt.Sprintf("Перенос занятия: %s", c.ClassName),
			description: "Сообщить группе о новом времени занятия",
			priority:    scheduleChangePriority,
			action: domain.SuggestedAction{
				Kind:   intents.IntentNotifyScheduleChange,
				Params: params,
			},
		})
	}
	return out, nil
}

func (g *Generator) detectRegistrations(ctx context.Context, tenantID string, now time.Time) ([]candidate, error) {
	window, err := g.settings.IntOrDefault(ctx, tenantID, policy.RegistrationWindow, policy.DefaultRegistrationWindow)
	if err != nil {
		return nil, err
	}
	students, err := g.signals.NewRegistrations(ctx, tenantID, now.UTC().AddDate(0, 0, -window))
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(students))
	for _, s := range students {
		out = append(out, candidate{
			targetType:  "student",
			targetID:    s.ID,
			day:         s.RegisteredAt,
			title:       fmt.Sprintf("Новый студент: %s", s.Name),
			description: "Отправить приветственное письмо",
			priority:    newRegistrationPriority,
			action: domain.SuggestedAction{
				Kind: intents.IntentSendRegistrationWelcome,
				Params: map[string]any{
					"student_id":    s.ID,
					"registered_at": s.RegisteredAt.UTC().Format(time.RFC3339),
				},
			},
		})
	}
	return out, nil
}

// daysBetween: полные сутки от due до now, не меньше нуля
func daysBetween(due, now time.Time) int {
	d := int(now.UTC().Sub(due.UTC()).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
