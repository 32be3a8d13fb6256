package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/audit"
	"github.com/xela07ax/agent-trust-auditor/internal/console/handler"
	"github.com/xela07ax/agent-trust-auditor/internal/console/server"
	"github.com/xela07ax/agent-trust-auditor/internal/console/service"
	"github.com/xela07ax/agent-trust-auditor/internal/credential"
	"github.com/xela07ax/agent-trust-auditor/internal/engine"
	"github.com/xela07ax/agent-trust-auditor/internal/executor"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
	"github.com/xela07ax/agent-trust-auditor/internal/jobs"
	"github.com/xela07ax/agent-trust-auditor/internal/ledger"
	"github.com/xela07ax/agent-trust-auditor/internal/recorder"
	"github.com/xela07ax/agent-trust-auditor/internal/registry"
	"github.com/xela07ax/agent-trust-auditor/internal/report"
	"github.com/xela07ax/agent-trust-auditor/internal/repository/postgres"
	"github.com/xela07ax/agent-trust-auditor/internal/risk"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает все
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	repo, err := postgres.NewRepo(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. Control Plane (Паузы агентов)
	suppression := engine.NewSuppressionManager(rdb, logger)
	if err := suppression.Init(appCtx); err != nil {
		logger.Fatal("failed to init suppression manager", zap.Error(err))
	}
	go suppression.StartListener(appCtx)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 5. Леджер: signer-сайдкар за слоем надежности
	signerClient := ledger.NewSignerClient(cfg.Ledger.SignerURL, cfg.Ledger.RequestTimeout, logger)
	ledgerClient := ledger.NewReliableClient(signerClient, cfg.Ledger)

	// 6. Конвейер аудита: планировщик -> исполнитель -> рекордер
	registryService := registry.NewService(repo, logger)
	scheduler := registry.NewScheduler(repo, cfg.Auditor.CandidateWindow)
	prober := executor.New(ledgerClient, cfg.Auditor, metrics, logger)
	sink := recorder.New(repo, repo, repo, cfg.Auditor.AuditorAddress, logger)
	riskAnalyzer := risk.NewAnalyzer(repo, logger)

	// 7. Отчеты и документы доверия
	credEngine := credential.NewEngine(repo, repo, metrics, logger)
	compiler := report.NewCompiler(repo, repo, repo, credEngine, logger)
	reportRunner := report.NewRunner(compiler, repo, cfg.Reports.Workers, metrics, logger)

	// 8. Джобы: часовой цикл проб и ежедневная компиляция
	auditJob := jobs.NewAuditJob(scheduler, prober, sink, suppression, riskAnalyzer, cfg.Auditor, metrics, logger)
	dailyJob, err := jobs.NewDailyJob(reportRunner, cfg.Reports, logger)
	if err != nil {
		logger.Fatal("daily job init failed", zap.Error(err))
	}
	jobRunner := jobs.NewRunner(auditJob, dailyJob, jobs.NewLocker(rdb, logger), cfg.Auditor, logger)
	go jobRunner.Start(appCtx)

	// 9. Консоль (Dependency Injection слоев)
	trail := audit.NewTrail(repo, logger)
	trail.Start()

	authService, err := service.NewAuthService(cfg.Auth)
	if err != nil {
		logger.Fatal("auth service init failed", zap.Error(err))
	}
	opsService := service.NewOpsService(rdb, repo, jobRunner, ledgerClient, trail, logger)
	publicService := service.NewPublicService(repo, logger)

	console := server.NewConsoleServer(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewEndpointHandler(registryService, logger),
		handler.NewPublicHandler(publicService, logger),
		handler.NewOpsHandler(opsService, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("console server failed", zap.Error(err))
		}
	}()

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("auditor stopping...")
	cancel() // Останавливаем джобы и слушателей

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
	trail.Stop() // Дописываем операторский след перед выходом
	logger.Info("auditor exited properly")
}
