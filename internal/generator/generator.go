// Package generator превращает доменные сигналы в задачи автоматизации.
//
// Идемпотентность держится на ключе дедупликации
// tenant:signal:targetType:targetId:day и уникальном индексе
// (tenant_id, dedup_key). Повторный прогон обновляет изменяемые поля
// pending-задачи, а не создаёт новую строку. Взаимных блокировок между
// инстансами нет.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/policy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SignalSource: справочник и сигналы (только чтение)
type SignalSource interface {
	ListActiveTenants(ctx context.Context) ([]domain.Tenant, error)
	AbsenceStreaks(ctx context.Context, tenantID string, since time.Time, minCount int) ([]domain.AbsenceStreak, error)
	OverdueInvoices(ctx context.Context, tenantID string, dueBefore time.Time) ([]domain.OverdueInvoice, error)
	NewRegistrations(ctx context.Context, tenantID string, since time.Time) ([]domain.Student, error)
	ScheduleChanges(ctx context.Context, tenantID string, since time.Time) ([]domain.ScheduleChange, error)
}

type TaskStore interface {
	UpsertTask(ctx context.Context, t *domain.Task) (*domain.Task, bool, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// Settings: пороги и флаги из политики тенанта (policy.Evaluator)
type Settings interface {
	Enabled(ctx context.Context, tenantID string, ev domain.EventType) (bool, error)
	IntOrDefault(ctx context.Context, tenantID string, path policy.SettingPath, def int) (int, error)
}

type Config struct {
	Concurrency      int
	TaskTTL          time.Duration
	ExpiredRetention time.Duration
	// Окно для переносов занятий
	ScheduleLookback time.Duration
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.TaskTTL <= 0 {
		c.TaskTTL = 72 * time.Hour
	}
	if c.ExpiredRetention <= 0 {
		c.ExpiredRetention = 30 * 24 * time.Hour
	}
	if c.ScheduleLookback <= 0 {
		c.ScheduleLookback = 24 * time.Hour
	}
}

// Report итог одного прогона
type Report struct {
	Tenants       int
	FailedTenants int
	Created       int
	Updated       int
	Expired       int64
	Purged        int64
}

type Generator struct {
	signals  SignalSource
	tasks    TaskStore
	settings Settings
	cfg      Config
	metrics  *Metrics
	logger   *zap.Logger
}

func New(signals SignalSource, tasks TaskStore, settings Settings, cfg Config, metrics *Metrics, logger *zap.Logger) *Generator {
	cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Generator{
		signals:  signals,
		tasks:    tasks,
		settings: settings,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("generator"),
	}
}

// DedupKey = tenant:signal:targetType:targetId:YYYY-MM-DD
func DedupKey(tenantID string, kind domain.TaskType, targetType, targetID string, day time.Time) string {
	return strings.Join([]string{tenantID, string(kind), targetType, targetID, domain.DayKey(day)}, ":")
}

// Run: один прогон по всем активным тенантам. Сбой тенанта не останавливает остальных.
func (g *Generator) Run(ctx context.Context, now time.Time) (Report, error) {
	start := time.Now()
	defer func() { g.metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	tenants, err := g.signals.ListActiveTenants(ctx)
	if err != nil {
		g.metrics.Runs.WithLabelValues("error").Inc()
		return Report{}, fmt.Errorf("generator: list tenants: %w", err)
	}

	var (
		mu     sync.Mutex
		report = Report{Tenants: len(tenants)}
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for _, tenant := range tenants {
		eg.Go(func() error {
			created, updated, err := g.runTenant(egCtx, tenant.ID, now)
			mu.Lock()
			defer mu.Unlock()
			report.Created += created
			report.Updated += updated
			if err != nil {
				report.FailedTenants++
				g.logger.Error("tenant scan failed", zap.String("tenant_id", tenant.ID), zap.Error(err))
			}
			// Ошибку тенанта не возвращаем: иначе errgroup отменит соседей
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		g.metrics.Runs.WithLabelValues("cancelled").Inc()
		return report, err
	}

	report.Expired, report.Purged, err = g.Sweep(ctx, now)
	if err != nil {
		g.metrics.Runs.WithLabelValues("error").Inc()
		return report, err
	}

	g.metrics.Runs.WithLabelValues("ok").Inc()
	g.logger.Info("generator run finished",
		zap.Int("tenants", report.Tenants),
		zap.Int("failed_tenants", report.FailedTenants),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int64("expired", report.Expired),
		zap.Int64("purged", report.Purged))
	return report, nil
}

// Sweep: просроченные pending -> expired, старые expired удаляются
func (g *Generator) Sweep(ctx context.Context, now time.Time) (int64, int64, error) {
	expired, err := g.tasks.ExpirePending(ctx, now.UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("generator: expire pending: %w", err)
	}
	purged, err := g.tasks.PurgeExpired(ctx, now.UTC().Add(-g.cfg.ExpiredRetention))
	if err != nil {
		return expired, 0, fmt.Errorf("generator: purge expired: %w", err)
	}
	g.metrics.Swept.WithLabelValues("expired").Add(float64(expired))
	g.metrics.Swept.WithLabelValues("purged").Add(float64(purged))
	return expired, purged, nil
}

func (g *Generator) runTenant(ctx context.Context, tenantID string, now time.Time) (int, int, error) {
	var created, updated int
	var errs []error

	for _, d := range g.detectors() {
		on, err := g.settings.Enabled(ctx, tenantID, d.event)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.kind, err))
			continue
		}
		if !on {
			continue
		}

		candidates, err := d.detect(ctx, tenantID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.kind, err))
			continue
		}
		for _, c := range candidates {
			isNew, err := g.upsert(ctx, tenantID, d.kind, c, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", d.kind, c.targetID, err))
				continue
			}
			if isNew {
				created++
			} else {
				updated++
			}
		}
	}
	return created, updated, errors.Join(errs...)
}

func (g *Generator) upsert(ctx context.Context, tenantID string, kind domain.TaskType, c candidate, now time.Time) (bool, error) {
	ts := now.UTC()
	task := &domain.Task{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		DedupKey:        DedupKey(tenantID, kind, c.targetType, c.targetID, c.day),
		TaskType:        kind,
		Title:           c.title,
		Description:     c.description,
		Priority:        c.priority,
		Status:          domain.TaskPending,
		ExpiresAt:       ts.Add(g.cfg.TaskTTL),
		SuggestedAction: c.action,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	_, created, err := g.tasks.UpsertTask(ctx, task)
	if err != nil {
		g.metrics.Upserts.WithLabelValues(string(kind), "error").Inc()
		return false, err
	}
	outcome := "updated"
	if created {
		outcome = "created"
	}
	g.metrics.Upserts.WithLabelValues(string(kind), outcome).Inc()
	return created, nil
}
