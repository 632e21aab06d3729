package domain

import "time"

// LogActionType тип перехода, который пишется в журнал
type LogActionType string

const (
	LogRequestApproval   LogActionType = "request_approval"
	LogApproveAndExecute LogActionType = "approve_and_execute"
)

// ActionLog: append-only запись automation_action_logs. Никогда не обновляется.
type ActionLog struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	TaskID           string         `json:"task_id"`
	ActionType       LogActionType  `json:"action_type"`
	ExecutedBy       string         `json:"executed_by"`
	ApprovedBy       *string        `json:"approved_by,omitempty"`
	Result           map[string]any `json:"result"`
	ExecutionContext map[string]any `json:"execution_context"`
	CreatedAt        time.Time      `json:"created_at"`
}
