package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xela07ax/academy-automation/internal/generator"
	"github.com/xela07ax/academy-automation/internal/infra"
	"github.com/xela07ax/academy-automation/internal/policy"
	"github.com/xela07ax/academy-automation/internal/repository/postgres"
)

func main() {
	once := pflag.Bool("once", false, "run a single generator pass and exit")
	pflag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(appCtx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()
	repo := postgres.NewRepo(pool)

	reg := prometheus.NewRegistry()
	gen := generator.New(repo, repo, policy.NewEvaluator(repo, logger), generator.Config{
		Concurrency:      cfg.Generator.Concurrency,
		TaskTTL:          cfg.Generator.TaskTTL,
		ExpiredRetention: cfg.Generator.ExpiredRetention,
		ScheduleLookback: cfg.Generator.ScheduleLookback,
	}, generator.NewMetrics(reg), logger)

	if *once {
		runCtx, cancel := context.WithTimeout(appCtx, cfg.Generator.RunTimeout)
		defer cancel()
		if _, err := gen.Run(runCtx, time.Now().UTC()); err != nil {
			logger.Fatal("generator run failed", zap.Error(err))
		}
		return
	}

	sched := generator.NewScheduler(gen, cfg.Generator.RunTimeout, logger)
	if err := sched.Register(cfg.Generator.Schedule); err != nil {
		logger.Fatal("invalid generator schedule", zap.Error(err))
	}

	// Экспортируем метрики для Prometheus
	metricsSrv := &http.Server{
		Addr:    infra.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.MetricsPort}.Addr(),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	if cfg.Generator.RunOnStart {
		go func() {
			runCtx, cancel := context.WithTimeout(appCtx, cfg.Generator.RunTimeout)
			defer cancel()
			if _, err := gen.Run(runCtx, time.Now().UTC()); err != nil {
				logger.Error("startup generator run failed", zap.Error(err))
			}
		}()
	}

	sched.Start()
	logger.Info("generator scheduled", zap.String("schedule", cfg.Generator.Schedule))

	<-appCtx.Done()
	logger.Info("generator stopping")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
