package policy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
	"github.com/xela07ax/academy-automation/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrPolicyDisabled = domain.NewError(domain.CodePolicyDisabled, "automation is disabled by tenant policy")
	// ErrPolicyMissing: для лимитера отсутствие max_allowed означает отказ
	ErrPolicyMissing = domain.NewError(domain.CodePolicyDisabled, "automation_safety max_allowed is not configured")
)

// SettingsStore: источник JSON-документа настроек тенанта (только чтение)
type SettingsStore interface {
	GetSettings(ctx context.Context, tenantID string) ([]byte, error)
}

// Evaluator читает настройки при каждом вызове. Кэша нет: значение на момент
// исполнения должно быть свежим, а не тем, что было при планировании.
type Evaluator struct {
	store  SettingsStore
	logger *zap.Logger
}

func NewEvaluator(store SettingsStore, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: logger.Named("policy"),
	}
}

// GetSetting возвращает значение по пути и признак его наличия
func (e *Evaluator) GetSetting(ctx context.Context, tenantID string, path SettingPath) (gjson.Result, bool, error) {
	doc, err := e.store.GetSettings(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return gjson.Result{}, false, nil
		}
		return gjson.Result{}, false, domain.WrapError(domain.CodeQueryFailed, "load tenant settings", err)
	}
	if len(doc) == 0 {
		return gjson.Result{}, false, nil
	}
	if !gjson.ValidBytes(doc) {
		e.logger.Warn("tenant settings are not valid json", zap.String("tenant_id", tenantID))
		return gjson.Result{}, false, nil
	}
	res := gjson.GetBytes(doc, path.String())
	if !res.Exists() || res.Type == gjson.Null {
		return gjson.Result{}, false, nil
	}
	return res, true, nil
}

// Enabled: fail-closed: нет значения или это не bool => false
func (e *Evaluator) Enabled(ctx context.Context, tenantID string, ev domain.EventType) (bool, error) {
	if _, err := AssertEventType(string(ev)); err != nil {
		return false, err
	}
	res, found, err := e.GetSetting(ctx, tenantID, EventEnabled(ev))
	if err != nil || !found {
		return false, err
	}
	switch res.Type {
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	}
	e.logger.Warn("non-boolean enabled flag treated as disabled",
		zap.String("tenant_id", tenantID),
		zap.String("event_type", string(ev)),
		zap.String("raw", res.Raw))
	return false, nil
}

// RequireEnabled проверяет событие по каталогу и флаг политики.
// Возвращает ErrPolicyDisabled, если автоматизация для события выключена.
func (e *Evaluator) RequireEnabled(ctx context.Context, tenantID, eventID string) (domain.EventType, error) {
	ev, err := AssertEventType(eventID)
	if err != nil {
		return "", err
	}
	on, err := e.Enabled(ctx, tenantID, ev)
	if err != nil {
		return "", err
	}
	if !on {
		return "", domain.WrapError(domain.CodePolicyDisabled, fmt.Sprintf("%s is disabled for tenant", ev), nil)
	}
	return ev, nil
}

// Channel: переопределение канала из политики или дефолт события
func (e *Evaluator) Channel(ctx context.Context, tenantID string, ev domain.EventType) (domain.Channel, error) {
	spec, err := Lookup(ev)
	if err != nil {
		return "", err
	}
	res, found, err := e.GetSetting(ctx, tenantID, EventChannel(ev))
	if err != nil {
		return "", err
	}
	if !found || res.Type != gjson.String || res.String() == "" {
		return spec.DefaultChannel, nil
	}
	return NormalizeChannel(res.String())
}

// MaxAllowed: дневной лимит для action type. Нет значения => ErrPolicyMissing.
func (e *Evaluator) MaxAllowed(ctx context.Context, tenantID string, at domain.ActionType) (int, error) {
	res, found, err := e.GetSetting(ctx, tenantID, SafetyMaxAllowed(at))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrPolicyMissing
	}
	n, ok := wholeNumber(res)
	if !ok || n < 0 {
		e.logger.Warn("invalid max_allowed treated as missing",
			zap.String("tenant_id", tenantID),
			zap.String("action_type", string(at)),
			zap.String("raw", res.Raw))
		return 0, ErrPolicyMissing
	}
	return n, nil
}

// IntOrDefault для порогов, у которых есть задокументированный безопасный дефолт
func (e *Evaluator) IntOrDefault(ctx context.Context, tenantID string, path SettingPath, def int) (int, error) {
	res, found, err := e.GetSetting(ctx, tenantID, path)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	n, ok := wholeNumber(res)
	if !ok || n <= 0 {
		return def, nil
	}
	return n, nil
}

func wholeNumber(res gjson.Result) (int, bool) {
	if res.Type != gjson.Number {
		return 0, false
	}
	f := res.Float()
	if f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
