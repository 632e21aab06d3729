package policy

import (
	"sort"
	"strings"

	"github.com/xela07ax/academy-automation/internal/domain"
)

var (
	ErrMissingEventType = domain.NewError(domain.CodeMissingEventType, "event type is required")
	ErrInvalidEventType = domain.NewError(domain.CodeInvalidEventType, "event type is not in the catalog")
)

// EventSpec описание события из закрытого каталога
type EventSpec struct {
	Type           domain.EventType
	DefaultChannel domain.Channel
	TemplateID     string
}

// Закрытый набор. Всё, чего тут нет, не доходит до политик.
var catalog = map[domain.EventType]EventSpec{
	domain.EventAbsenceAlert: {
		Type:           domain.EventAbsenceAlert,
		DefaultChannel: domain.ChannelSMS,
		TemplateID:     "absence_alert_v1",
	},
	domain.EventOverduePaymentReminder: {
		Type:           domain.EventOverduePaymentReminder,
		DefaultChannel: domain.ChannelSMS,
		TemplateID:     "overdue_payment_reminder_v1",
	},
	domain.EventScheduleChangeNotice: {
		Type:           domain.EventScheduleChangeNotice,
		DefaultChannel: domain.ChannelChat,
		TemplateID:     "schedule_change_notice_v1",
	},
	domain.EventNewRegistrationWelcome: {
		Type:           domain.EventNewRegistrationWelcome,
		DefaultChannel: domain.ChannelEmail,
		TemplateID:     "new_registration_welcome_v1",
	},
}

// AssertEventType: обязательная проверка перед любым обращением к политике по id события.
// Сравнение точное: регистр и пробелы не нормализуются.
func AssertEventType(id string) (domain.EventType, error) {
	if strings.TrimSpace(id) == "" {
		return "", ErrMissingEventType
	}
	ev := domain.EventType(id)
	if _, ok := catalog[ev]; !ok {
		return "", domain.WrapError(domain.CodeInvalidEventType, "event type is not in the catalog: "+id, nil)
	}
	return ev, nil
}

// Lookup возвращает описание события; повторно валидирует id
func Lookup(ev domain.EventType) (EventSpec, error) {
	if _, err := AssertEventType(string(ev)); err != nil {
		return EventSpec{}, err
	}
	return catalog[ev], nil
}

// EventTypes отсортированный список каталога
func EventTypes() []domain.EventType {
	out := make([]domain.EventType, 0, len(catalog))
	for ev := range catalog {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
