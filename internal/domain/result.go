package domain

type ExecStatus string

const (
	ExecSuccess ExecStatus = "success"
	ExecFailed  ExecStatus = "failed"
)

// ExecResult: единый контракт ответа хендлера. Хендлер не паникует и не возвращает error.
type ExecResult struct {
	Status        ExecStatus     `json:"status"`
	ErrorCode     ErrorCode      `json:"error_code,omitempty"`
	Message       string         `json:"message,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	AffectedCount int            `json:"affected_count"`
}

func Succeeded(affected int, result map[string]any) ExecResult {
	return ExecResult{Status: ExecSuccess, Result: result, AffectedCount: affected}
}

func Failed(code ErrorCode, msg string) ExecResult {
	return ExecResult{Status: ExecFailed, ErrorCode: code, Message: msg}
}

// FailedFrom конвертирует ошибку в результат, сохраняя код таксономии
func FailedFrom(err error) ExecResult {
	return Failed(CodeOf(err), MessageOf(err))
}

func (r ExecResult) OK() bool { return r.Status == ExecSuccess }

// AsMap для записи в журнал (result: непрозрачный JSON)
func (r ExecResult) AsMap() map[string]any {
	m := map[string]any{
		"status":         string(r.Status),
		"affected_count": r.AffectedCount,
	}
	if r.ErrorCode != "" {
		m["error_code"] = string(r.ErrorCode)
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.Result != nil {
		m["result"] = r.Result
	}
	return m
}
