package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner: то, что дёргает крон (Generator.Run)
type Runner interface {
	Run(ctx context.Context, now time.Time) (Report, error)
}

// Scheduler запускает генератор по cron-расписанию (5 полей, без секунд).
// Прогоны не перекрываются: пока идёт один, следующий тик пропускается.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
}

func NewScheduler(runner Runner, runTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	logger = logger.Named("scheduler")
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		runner:  runner,
		timeout: runTimeout,
		logger:  logger,
	}
}

// Register добавляет расписание прогона генератора
func (s *Scheduler) Register(spec string) error {
	_, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("registering cron %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Info("scheduled generator run fired")
	if _, err := s.runner.Run(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("scheduled generator run failed", zap.Error(err))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop останавливает крон и ждёт завершения текущего прогона
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
