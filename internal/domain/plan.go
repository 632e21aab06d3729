package domain

import "time"

// Recipient: адресат, разрешённый на этапе планирования.
// TargetID указывает на объект сигнала (студент, счёт), ID: на человека-получателя.
type Recipient struct {
	ID       string `json:"id"`
	TargetID string `json:"target_id"`
	Name     string `json:"name"`
	Address  string `json:"address"` // телефон или e-mail, в зависимости от канала
}

type PlanSnapshot struct {
	TargetType string      `json:"target_type"`
	TargetIDs  []string    `json:"target_ids"`
	Recipients []Recipient `json:"recipients"`
	Channel    Channel     `json:"channel"`
	TemplateID string      `json:"template_id"`
	Summary    string      `json:"summary"`
	// Значения для шаблона, разрешённые при планировании (имя студента, название класса)
	TemplateVars map[string]string `json:"template_vars,omitempty"`
	// Объект сигнала (студент, счёт, занятие): входит в ключ идемпотентности outbox
	PrimaryTargetID string `json:"primary_target_id,omitempty"`
}

// Plan: неизменяемый снимок, который одобрил человек.
// Хендлеры читают цели и параметры только отсюда.
type Plan struct {
	IntentKey string         `json:"intent_key"`
	EventType EventType      `json:"event_type"`
	Params    map[string]any `json:"params"`
	Snapshot  PlanSnapshot   `json:"plan_snapshot"`
	PlannedAt time.Time      `json:"planned_at"`
	PlannedBy string         `json:"planned_by"`
}
