package intents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/masking"
	"github.com/xela07ax/academy-automation/internal/policy"
	"go.uber.org/zap"
)

// Directory: справочник людей (только чтение)
type Directory interface {
	GetStudent(ctx context.Context, tenantID, studentID string) (*domain.Student, error)
	GuardiansOf(ctx context.Context, tenantID string, studentIDs []string) ([]domain.Guardian, error)
	ClassRoster(ctx context.Context, tenantID, classID string) ([]string, error)
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (*domain.OverdueInvoice, error)
}

// Dispatcher создаёт запись outbox; второй результат: была ли запись новой
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.OutboxMessage) (*domain.OutboxRecord, bool, error)
}

type Deps struct {
	Policy     *policy.Evaluator
	Directory  Directory
	Outbox     Dispatcher
	Masker     *masking.Masker
	Logger     *zap.Logger
	MaxRetries int
}

// base: общие шаги всех хендлеров
type base struct {
	key    string
	event  domain.EventType
	action domain.ActionType
	deps   Deps
	logger *zap.Logger
}

func newBase(key string, ev domain.EventType, at domain.ActionType, d Deps) base {
	if d.Masker == nil {
		d.Masker = masking.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = 5
	}
	return base{
		key:    key,
		event:  ev,
		action: at,
		deps:   d,
		logger: d.Logger.Named("intent").With(zap.String("intent", key)),
	}
}

func (b *base) IntentKey() string { return b.key }

func (b *base) EventType() domain.EventType { return b.event }

func (b *base) ActionType() domain.ActionType { return b.action }

// prepare: проверки планирования: params, каталог, политика, канал
func (b *base) prepare(ctx context.Context, task *domain.Task) (map[string]any, domain.Channel, policy.EventSpec, error) {
	if task.SuggestedAction.Kind != b.key {
		return nil, "", policy.EventSpec{}, domain.NewError(domain.CodeInvalidParams,
			fmt.Sprintf("task action %q does not match intent %q", task.SuggestedAction.Kind, b.key))
	}
	params := task.SuggestedAction.Params
	if err := validateParams(b.key, params); err != nil {
		return nil, "", policy.EventSpec{}, err
	}
	ev, err := b.deps.Policy.RequireEnabled(ctx, task.TenantID, string(b.event))
	if err != nil {
		return nil, "", policy.EventSpec{}, err
	}
	spec, err := policy.Lookup(ev)
	if err != nil {
		return nil, "", policy.EventSpec{}, err
	}
	ch, err := b.deps.Policy.Channel(ctx, task.TenantID, ev)
	if err != nil {
		return nil, "", policy.EventSpec{}, err
	}
	return params, ch, spec, nil
}

func (b *base) newPlan(params map[string]any, snap domain.PlanSnapshot, plannedBy string, now time.Time) *domain.Plan {
	return &domain.Plan{
		IntentKey: b.key,
		EventType: b.event,
		Params:    params,
		Snapshot:  snap,
		PlannedAt: now.UTC(),
		PlannedBy: plannedBy,
	}
}

// lookupErr переводит ошибку справочника в код таксономии
func lookupErr(what, id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewError(domain.CodeTargetNotFound, fmt.Sprintf("%s %s not found", what, id))
	}
	return domain.WrapError(domain.CodeQueryFailed, "directory lookup: "+what, err)
}

// guardianRecipients адресаты-опекуны, у которых есть контакт в канале
func guardianRecipients(guardians []domain.Guardian, ch domain.Channel) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(guardians))
	seen := make(map[string]struct{}, len(guardians))
	for _, g := range guardians {
		addr := g.Contact(ch)
		if addr == "" {
			continue
		}
		if _, dup := seen[g.ID]; dup {
			continue
		}
		seen[g.ID] = struct{}{}
		out = append(out, domain.Recipient{ID: g.ID, TargetID: g.StudentID, Name: g.Name, Address: addr})
	}
	return out
}

func studentRecipient(s *domain.Student, ch domain.Channel) (domain.Recipient, bool) {
	addr := s.Contact(ch)
	if addr == "" {
		return domain.Recipient{}, false
	}
	return domain.Recipient{ID: s.ID, TargetID: s.ID, Name: s.Name, Address: addr}, true
}

// deliver: общий Execute: повторная проверка политики и создание записей outbox по снимку
func (b *base) deliver(ctx context.Context, plan *domain.Plan, ec ExecContext) domain.ExecResult {
	if plan == nil {
		return domain.Failed(domain.CodeExecutionFailed, "task has no approved plan")
	}
	if plan.IntentKey != b.key {
		return domain.Failed(domain.CodeInvalidParams, fmt.Sprintf("plan intent %q does not match %q", plan.IntentKey, b.key))
	}
	if err := validateParams(b.key, plan.Params); err != nil {
		return domain.FailedFrom(err)
	}

	// Политика могла поменяться между планированием и исполнением
	ev, err := b.deps.Policy.RequireEnabled(ctx, ec.TenantID, string(plan.EventType))
	if err != nil {
		return domain.FailedFrom(err)
	}
	if ev != b.event {
		return domain.Failed(domain.CodeInvalidEventType, fmt.Sprintf("plan event %s does not belong to %s", ev, b.key))
	}

	snap := plan.Snapshot
	ch, err := policy.NormalizeChannel(string(snap.Channel))
	if err != nil {
		return domain.FailedFrom(err)
	}

	recipients := make([]domain.Recipient, 0, len(snap.Recipients))
	for _, r := range snap.Recipients {
		if r.Address != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return domain.Failed(domain.CodeTargetNotFound, "plan has no reachable recipients")
	}

	ids := make([]string, 0, len(recipients))
	created, deduplicated := 0, 0
	for _, r := range recipients {
		content, err := render(snap.TemplateID, templateData(plan, r))
		if err != nil {
			return partial(domain.FailedFrom(err), ids, created, deduplicated)
		}

		rec, isNew, err := b.deps.Outbox.Dispatch(ctx, domain.OutboxMessage{
			TenantID:    ec.TenantID,
			TaskID:      ec.TaskID,
			IntentKey:   b.key,
			TargetID:    primaryTarget(snap, r),
			RecipientID: r.ID,
			Channel:     ch,
			Recipient:   r.Address,
			TemplateID:  snap.TemplateID,
			Content:     content,
			MaxRetries:  b.deps.MaxRetries,
			Day:         plan.PlannedAt,
		})
		if err != nil {
			b.logger.Error("outbox dispatch failed",
				zap.String("tenant_id", ec.TenantID),
				zap.String("task_id", ec.TaskID),
				b.deps.Masker.Field("recipient", r.Address),
				zap.Error(err))
			return partial(domain.Failed(domain.CodeOutboxCreationFailed, domain.MessageOf(err)), ids, created, deduplicated)
		}
		ids = append(ids, rec.ID)
		if isNew {
			created++
		} else {
			deduplicated++
		}
		b.logger.Debug("outbox record ready",
			zap.String("outbox_id", rec.ID),
			zap.Bool("created", isNew),
			b.deps.Masker.Field("recipient", r.Address))
	}

	b.logger.Info("intent executed",
		zap.String("tenant_id", ec.TenantID),
		zap.String("task_id", ec.TaskID),
		zap.String("channel", string(ch)),
		zap.Int("created", created),
		zap.Int("deduplicated", deduplicated))

	return domain.Succeeded(len(ids), map[string]any{
		"outbox_ids":   ids,
		"created":      created,
		"deduplicated": deduplicated,
		"channel":      string(ch),
		"template_id":  snap.TemplateID,
		"target_type":  snap.TargetType,
	})
}

// primaryTarget: снимки без primary_target_id (до его появления) адресуют объект получателя
func primaryTarget(snap domain.PlanSnapshot, r domain.Recipient) string {
	if snap.PrimaryTargetID != "" {
		return snap.PrimaryTargetID
	}
	return r.TargetID
}

// partial: ошибка после части созданных записей: их id тоже в результате
func partial(res domain.ExecResult, ids []string, created, deduplicated int) domain.ExecResult {
	res.AffectedCount = len(ids)
	res.Result = map[string]any{
		"outbox_ids":   ids,
		"created":      created,
		"deduplicated": deduplicated,
	}
	return res
}

func templateData(plan *domain.Plan, r domain.Recipient) map[string]string {
	data := make(map[string]string, len(plan.Params)+len(plan.Snapshot.TemplateVars)+1)
	for k, v := range plan.Params {
		data[k] = fmt.Sprint(v)
	}
	for k, v := range plan.Snapshot.TemplateVars {
		data[k] = v
	}
	data["recipient_name"] = r.Name
	return data
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
