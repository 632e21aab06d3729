package policy

import "github.com/xela07ax/academy-automation/internal/domain"

// SettingPath: путь в JSON-документе настроек тенанта (синтаксис gjson).
// Строится только через функции ниже, свободные строки не принимаются.
type SettingPath struct {
	p string
}

func (s SettingPath) String() string { return s.p }

func EventEnabled(ev domain.EventType) SettingPath {
	return SettingPath{p: string(ev) + ".enabled"}
}

func EventChannel(ev domain.EventType) SettingPath {
	return SettingPath{p: string(ev) + ".channel"}
}

func SafetyMaxAllowed(at domain.ActionType) SettingPath {
	return SettingPath{p: "automation_safety." + string(at) + ".max_allowed"}
}

// Пороги генератора
var (
	AbsenceThreshold    = SettingPath{p: string(domain.EventAbsenceAlert) + ".threshold"}
	AbsenceLookbackDays = SettingPath{p: string(domain.EventAbsenceAlert) + ".lookback_days"}
	OverdueGraceDays    = SettingPath{p: string(domain.EventOverduePaymentReminder) + ".grace_days"}
	RegistrationWindow  = SettingPath{p: string(domain.EventNewRegistrationWelcome) + ".window_days"}
)

// Безопасные дефолты порогов. Для флагов enabled и max_allowed дефолтов нет.
const (
	DefaultAbsenceThreshold    = 3
	DefaultAbsenceLookbackDays = 14
	DefaultOverdueGraceDays    = 7
	DefaultRegistrationWindow  = 7
)
