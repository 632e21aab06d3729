package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xela07ax/academy-automation/internal/audit"
	"github.com/xela07ax/academy-automation/internal/console/handler"
	"github.com/xela07ax/academy-automation/internal/console/server"
	"github.com/xela07ax/academy-automation/internal/engine"
	"github.com/xela07ax/academy-automation/internal/infra"
	"github.com/xela07ax/academy-automation/internal/infra/auth"
	"github.com/xela07ax/academy-automation/internal/intents"
	"github.com/xela07ax/academy-automation/internal/masking"
	"github.com/xela07ax/academy-automation/internal/outbox"
	"github.com/xela07ax/academy-automation/internal/policy"
	"github.com/xela07ax/academy-automation/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла: SIGTERM останавливает слушателей и сервер
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура
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

	rdb := infra.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("redis address is empty, advisory signals disabled")
	}

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 2. Политики, интенты, outbox
	masker := masking.New()
	evaluator := policy.NewEvaluator(repo, logger)
	dispatcher := outbox.NewDispatcher(repo, rdb, outbox.NewMetrics(reg), logger)
	registry := intents.NewDefaultRegistry(intents.Deps{
		Policy:     evaluator,
		Directory:  repo,
		Outbox:     dispatcher,
		Masker:     masker,
		Logger:     logger,
		MaxRetries: cfg.Outbox.MaxRetries,
	})

	// 3. Лимитер: доска пауз прогревается из БД, дальше живёт на сигналах Redis
	board := engine.NewPauseBoard(rdb, logger)
	if err := engine.WarmupPauseBoard(appCtx, repo, board, rdb, logger, time.Now()); err != nil {
		logger.Fatal("failed to warm up pause board", zap.Error(err))
	}
	go board.Listen(appCtx)

	metrics := engine.NewMetrics(reg)
	limiter := engine.NewSafetyLimiter(repo, evaluator, board, rdb, metrics, logger)
	orchestrator := engine.NewOrchestrator(repo, registry, evaluator, limiter,
		audit.NewTrail(repo, masker, logger), metrics, logger)

	// 4. HTTP
	api := server.NewAutomationServer(
		server.Options{RequestTimeout: cfg.Server.RequestTimeout, Gatherer: reg},
		logger,
		auth.NewBaseValidator(pubKey),
		handler.NewAutomationHandler(orchestrator, logger),
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("automation api started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-appCtx.Done()
	logger.Info("automation api stopping")

	// Даём 5 секунд на завершение запросов
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("automation api exited properly")
}
