package domain

import "time"

// Справочные данные. Подсистема их только читает.

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

type Tenant struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Status TenantStatus `json:"status"`
}

type Student struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	RegisteredAt time.Time `json:"registered_at"`
}

type Guardian struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// Contact адрес для канала; пустая строка: адресата в этом канале нет
func (g Guardian) Contact(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return g.Email
	case ChannelSMS, ChannelChat:
		return g.Phone
	case ChannelPush:
		return g.ID
	}
	return ""
}

func (s Student) Contact(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return s.Email
	case ChannelSMS, ChannelChat:
		return s.Phone
	case ChannelPush:
		return s.ID
	}
	return ""
}

// AbsenceStreak серия пропусков подряд по последним занятиям студента
type AbsenceStreak struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Count       int       `json:"count"`
	LastAbsent  time.Time `json:"last_absent"`
}

type OverdueInvoice struct {
	InvoiceID   string    `json:"invoice_id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	AmountDue   int64     `json:"amount_due"`
	Currency    string    `json:"currency"`
	DueDate     time.Time `json:"due_date"`
}

type ScheduleChange struct {
	SessionID string    `json:"session_id"`
	ClassID   string    `json:"class_id"`
	ClassName string    `json:"class_name"`
	OldStart  time.Time `json:"old_start"`
	NewStart  time.Time `json:"new_start"`
	ChangedAt time.Time `json:"changed_at"`
}
