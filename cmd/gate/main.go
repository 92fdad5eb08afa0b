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

	"github.com/hshadab/morpho/internal/audit"
	"github.com/hshadab/morpho/internal/gate"
	"github.com/hshadab/morpho/internal/infra"
	"github.com/hshadab/morpho/internal/infra/auth"
	"github.com/hshadab/morpho/internal/ledger"
	"github.com/hshadab/morpho/internal/policy"
	"github.com/hshadab/morpho/internal/protocol"
	"github.com/hshadab/morpho/internal/registry"
	"github.com/hshadab/morpho/internal/repository/postgres"
	"github.com/hshadab/morpho/internal/server"
	"github.com/hshadab/morpho/internal/verifier"
)

func main() {
	// 1. Инфраструктура и ресурсы
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(appCtx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}

	// 2. Аудит: асинхронный конвейер с пакетной записью в Postgres
	auditRepo := postgres.NewAuditRepo(pool)
	trail := audit.NewPipeline(auditRepo, cfg.Gate.AuditBufferSize, cfg.Gate.AuditFlushInterval, logger)
	trail.Start()

	// 3. Состояние гейта: реестры и леджер, прогрев из базы и Redis
	policies := policy.NewStore(postgres.NewPolicyRepo(pool), trail, logger)
	if err := policies.Warm(appCtx); err != nil {
		logger.Fatal("failed to warm policy registry", zap.Error(err))
	}

	agents := registry.New(policies, postgres.NewAgentRepo(pool), rdb, trail, logger)
	if err := agents.Warm(appCtx); err != nil {
		logger.Fatal("failed to warm agent registry", zap.Error(err))
	}
	go agents.StartRevocationListener(appCtx)

	proofLedger := ledger.New(postgres.NewProofRepo(pool), rdb, logger)
	if err := proofLedger.Warm(appCtx); err != nil {
		logger.Fatal("failed to warm proof ledger", zap.Error(err))
	}
	go proofLedger.StartListener(appCtx)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := gate.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics exporter started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics exporter failed", zap.Error(err))
		}
	}()

	// 5. Внешние сервисы за ReliabilityWrapper (Rate Limit -> CB -> Retry)
	wrapperSettings := gate.WrapperSettings{
		MaxRequests: cfg.Gate.CBMaxRequests,
		Interval:    cfg.Gate.CBInterval,
		Timeout:     cfg.Gate.CBTimeout,
		RateLimit:   cfg.Gate.RateLimit,
		RateBurst:   cfg.Gate.RateBurst,
		CallTimeout: cfg.Gate.CallTimeout,
		Attempts:    cfg.Gate.RetryAttempts,
	}
	verifyWrap := gate.NewWrapper("zkml-verifier", wrapperSettings, metrics)

	// Протокол НЕ ретраим: capital-moving вызов после таймаута мог успеть
	// исполниться, повтор означал бы двойное исполнение
	protoSettings := wrapperSettings
	protoSettings.Attempts = 1
	protoWrap := gate.NewWrapper("lending-protocol", protoSettings, metrics)

	oracle := verifier.NewHTTPOracle(cfg.Verifier.Endpoint, cfg.Verifier.Timeout)
	lending := protocol.NewHTTPAdapter(cfg.Protocol.Endpoint, cfg.Protocol.Timeout)

	// 6. Сборка ядра
	proofGate := gate.NewProofGate(agents, proofLedger, oracle, verifyWrap,
		cfg.Gate.ProofFreshness, cfg.Gate.MaxClockSkew, metrics, logger)
	limits := gate.NewLimitEnforcer(cfg.Gate.DailyWindow)
	dispatcher := gate.NewDispatcher(proofGate, limits, policies, agents, proofLedger,
		lending, protoWrap, metrics, trail, logger)

	// 7. HTTP API. Без публичного ключа management-периметр не поднимаем.
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("failed to parse owner public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
	} else {
		logger.Warn("owner API runs WITHOUT token validation: set auth.public_key_path for production")
	}

	api := server.New(validator, policies, agents, proofGate, limits, dispatcher, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("policy gate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("policy gate stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()      // Останавливаем слушателей Redis
	trail.Stop()  // Финальный flush аудита — последним, чтобы ничего не потерять
	logger.Info("policy gate exited properly")
}
