// Команда оператора: снять паузу суточного окна лимитера.
//
//	safety --tenant t1 --action notify_guardian [--day 2026-03-09]
//
// Перед запуском поднимите max_allowed в политике тенанта: счётчик окна не сбрасывается.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xela07ax/academy-automation/internal/domain"
	"github.com/xela07ax/academy-automation/internal/engine"
	"github.com/xela07ax/academy-automation/internal/infra"
	"github.com/xela07ax/academy-automation/internal/repository/postgres"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "safety: %v\n", err)
		os.Exit(1)
	}
}

type resumeArgs struct {
	tenantID string
	action   domain.ActionType
	day      time.Time
}

func parseArgs(args []string, now time.Time) (resumeArgs, error) {
	fs := pflag.NewFlagSet("safety", pflag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant id")
	action := fs.String("action", "", "action type (notify_guardian, payment_reminder, welcome_message)")
	day := fs.String("day", "", "window day YYYY-MM-DD in UTC (default: today)")
	if err := fs.Parse(args); err != nil {
		return resumeArgs{}, err
	}

	out := resumeArgs{tenantID: strings.TrimSpace(*tenant), action: domain.ActionType(*action), day: now.UTC()}
	if out.tenantID == "" {
		return resumeArgs{}, errors.New("tenant required")
	}
	switch out.action {
	case domain.ActionNotifyGuardian, domain.ActionPaymentReminder, domain.ActionWelcomeMessage:
	default:
		return resumeArgs{}, fmt.Errorf("unknown action type %q", *action)
	}
	if *day != "" {
		d, err := time.Parse(time.DateOnly, *day)
		if err != nil {
			return resumeArgs{}, fmt.Errorf("invalid day: %w", err)
		}
		out.day = d
	}
	return out, nil
}

func run(args []string) error {
	ra, err := parseArgs(args, time.Now())
	if err != nil {
		return err
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        2,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := infra.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	resumed, err := engine.ResumeWindow(ctx, postgres.NewRepo(pool), nil, rdb, logger, ra.tenantID, ra.action, ra.day)
	if err != nil {
		return err
	}
	if !resumed {
		logger.Warn("window was not paused", zap.String("tenant_id", ra.tenantID), zap.String("action_type", string(ra.action)))
	}
	return nil
}
