package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/academy-automation/internal/audit"
	"github.com/xela07ax/academy-automation/internal/infra"
	"github.com/xela07ax/academy-automation/internal/outbox"
	"github.com/xela07ax/academy-automation/internal/repository/postgres"
)

const serviceName = "academy.automation.OutboxWorker"

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
	}

	reg := prometheus.NewRegistry()
	metrics := outbox.NewMetrics(reg)

	// 2. Канальный шлюз: без URL пишем в лог (стенды)
	var transport outbox.Transport
	if cfg.Outbox.WebhookURL != "" {
		transport = outbox.NewWebhookTransport(cfg.Outbox.WebhookURL, cfg.Outbox.SendTimeout)
	} else {
		logger.Warn("outbox.webhook_url is empty, messages go to the log transport")
		transport = outbox.NewLogTransport(logger, 0)
	}
	// Оборачиваем в Reliability (Rate limit, Circuit Breaker, Retries)
	transport = outbox.NewReliableTransport(transport, outbox.ReliabilityConfig{
		RatePerSecond: cfg.Outbox.RatePerSecond,
		RateBurst:     cfg.Outbox.RateBurst,
		SendTimeout:   cfg.Outbox.SendTimeout,
		CBMaxRequests: cfg.Outbox.CBMaxRequests,
		CBInterval:    cfg.Outbox.CBInterval,
		CBTimeout:     cfg.Outbox.CBTimeout,
		CBMaxFailures: cfg.Outbox.CBMaxFailures,
	}, metrics)

	// Журнал попыток пишется пачками в фоне
	attempts := audit.NewDeliveryLog(repo, logger, cfg.Outbox.AttemptBuffer)
	attempts.Start()

	worker := outbox.NewWorker(repo, transport, attempts, rdb, outbox.WorkerConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		Lease:        cfg.Outbox.Lease,
		BaseBackoff:  cfg.Outbox.BaseBackoff,
		MaxBackoff:   cfg.Outbox.MaxBackoff,
	}, metrics, logger)

	// 3. Health (gRPC) и метрики
	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		lis, err := net.Listen("tcp", infra.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.HealthGRPCPort}.Addr())
		if err != nil {
			logger.Fatal("failed to listen gRPC health", zap.Error(err))
		}
		logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC health server failed", zap.Error(err))
		}
	}()

	metricsSrv := &http.Server{
		Addr:    infra.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.MetricsPort}.Addr(),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	// 4. Рабочий цикл до SIGTERM
	if err := worker.Run(appCtx); err != nil {
		logger.Error("outbox worker stopped with error", zap.Error(err))
	}

	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	// Дожидаемся сброса журнала попыток
	attempts.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	logger.Info("outbox worker exited properly")
}
