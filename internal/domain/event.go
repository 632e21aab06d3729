package domain

// EventType идентификатор события автоматизации (ключ политик тенанта)
type EventType string

const (
	EventAbsenceAlert           EventType = "absence_alert"
	EventOverduePaymentReminder EventType = "overdue_payment_reminder"
	EventScheduleChangeNotice   EventType = "schedule_change_notice"
	EventNewRegistrationWelcome EventType = "new_registration_welcome"
)

// ActionType: бюджет лимитера. Несколько интентов могут делить один бюджет.
type ActionType string

const (
	ActionNotifyGuardian  ActionType = "notify_guardian"
	ActionPaymentReminder ActionType = "payment_reminder"
	ActionWelcomeMessage  ActionType = "welcome_message"
)

// Channel канонический канал доставки
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelChat  Channel = "chat"
)
