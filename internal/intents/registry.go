package intents

/*
Реестр хендлеров интентов. Набор фиксирован при старте: ключ интента
из suggested_action задачи -> Handler. Хендлер планирует (разрешает цели
в неизменяемый снимок) и исполняет по снимку, создавая записи outbox.
Сетевых отправок хендлер не делает.
*/

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
)

// ExecContext: кто и в каком запросе исполняет план
type ExecContext struct {
	TenantID   string
	TaskID     string
	ExecutedBy string
	TraceID    string
	Now        time.Time
}

type Handler interface {
	IntentKey() string
	EventType() domain.EventType
	ActionType() domain.ActionType
	// Plan разрешает цели задачи в снимок. Ошибки: *domain.CodedError.
	Plan(ctx context.Context, task *domain.Task, plannedBy string, now time.Time) (*domain.Plan, error)
	// Execute не паникует и не возвращает error: результат целиком в ExecResult
	Execute(ctx context.Context, plan *domain.Plan, ec ExecContext) domain.ExecResult
}

var ErrUnknownIntent = domain.NewError(domain.CodeUnknownIntent, "no handler registered for intent")

type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if _, dup := r.handlers[h.IntentKey()]; dup {
			return nil, fmt.Errorf("intents: duplicate handler for %q", h.IntentKey())
		}
		r.handlers[h.IntentKey()] = h
	}
	return r, nil
}

func (r *Registry) Get(intentKey string) (Handler, error) {
	h, ok := r.handlers[intentKey]
	if !ok {
		return nil, domain.WrapError(domain.CodeUnknownIntent, "no handler registered for intent "+intentKey, nil)
	}
	return h, nil
}

// Keys отсортированный список зарегистрированных интентов
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewDefaultRegistry: все хендлеры продукта
func NewDefaultRegistry(d Deps) *Registry {
	r, err := NewRegistry(
		NewAbsenceHandler(d),
		NewOverdueHandler(d),
		NewScheduleChangeHandler(d),
		NewWelcomeHandler(d),
	)
	if err != nil {
		// ключи констант, дубль возможен только при ошибке в коде
		panic(err)
	}
	return r
}
