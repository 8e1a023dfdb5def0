package main

import (
	"context"
	"errors"
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
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/agents"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/console/handler"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/console/server"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/console/service"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra/auth"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/planner"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/registry"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/relay"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/repository/postgres"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/requester"
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

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Метрики
	promReg := prometheus.NewRegistry()
	m := metrics.NewMetrics(promReg)

	// 3. PostgreSQL (опционально): зеркало дескрипторов и журнал событий.
	// Пустой URL оставляет ядро полностью в памяти.
	var (
		store       registry.DescriptorStore
		eventSource service.EventSource
		trailStore  events.Storage
	)
	if cfg.Database.URL != "" {
		initCtx, initCancel := context.WithTimeout(appCtx, 5*time.Second)
		pool, err := postgres.NewPool(initCtx, cfg.Database)
		initCancel()
		if err != nil {
			logger.Fatal("database unreachable", zap.Error(err))
		}
		defer pool.Close()

		store = postgres.NewServiceRepo(pool)
		eventRepo := postgres.NewEventRepo(pool)
		eventSource = eventRepo
		trailStore = eventRepo
		logger.Info("postgres connected")
	}

	// 4. Журнал событий. Включается только вместе с базой.
	var recorder events.Recorder = events.NopRecorder{}
	var trail *events.Trail
	if cfg.Events.Enabled && trailStore != nil {
		trail = events.NewTrail(trailStore, cfg.Events, m, logger)
		trail.Start()
		recorder = trail
	}

	// 5. Redis (опционально): трансляция управляющих сигналов между
	// экземплярами. Без него консоль применяет команды только локально.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// Не фатально: подписчик переподключается сам
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		pingCancel()
	}

	// 6. Ядро оркестрации
	reg := registry.NewRegistry(store, cfg.Registry, m, recorder, logger)
	if store != nil {
		initCtx, initCancel := context.WithTimeout(appCtx, 5*time.Second)
		err := reg.Init(initCtx)
		initCancel()
		if err != nil {
			logger.Fatal("failed to warm start registry", zap.Error(err))
		}
	}

	client := requester.NewClient(reg, cfg.Requester, m, recorder, logger)
	agentReg := agents.NewRegistry(cfg.Agents, m, recorder, logger)
	executor := planner.NewExecutor(agentReg, nil, cfg.Planner, m, recorder, logger)
	prober := registry.NewProber(reg, client, logger)

	// 7. Консоль управления
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid auth public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
	}

	control := service.NewControl(reg, agentReg, executor, client, eventSource, rdb, logger)
	console := server.NewConsoleServer(logger, validator,
		handler.NewServiceHandler(reg),
		handler.NewAgentHandler(control),
		handler.NewTaskHandler(agentReg),
		handler.NewPlanHandler(executor),
		handler.NewBreakerHandler(control),
		handler.NewEventHandler(control),
		handler.NewDashboardHandler(control),
	)

	apiSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}

	// 8. Фоновые контуры: пробер здоровья, свипер таймаутов, ретранслятор
	// сигналов и оба HTTP-листенера под одной группой
	g, gctx := errgroup.WithContext(appCtx)
	g.Go(func() error {
		prober.Run(gctx)
		return nil
	})
	g.Go(func() error {
		agentReg.RunSweeper(gctx)
		return nil
	})
	if rdb != nil {
		r := relay.NewRelay(rdb, agentReg, client, logger)
		g.Go(func() error {
			r.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("console API started", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics exporter started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics exporter: %w", err)
		}
		return nil
	})

	// 9. Ожидание сигнала и остановка: сначала перестаём принимать запросы,
	// потом гасим фоновые контуры, затем исполнителя планов, и в самом
	// конце журнал, чтобы дослать события остановки.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-gctx.Done():
		logger.Error("background worker failed, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console api shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics exporter shutdown failed", zap.Error(err))
	}

	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("background worker exited with error", zap.Error(err))
	}

	executor.Stop()
	if trail != nil {
		trail.Stop()
	}
	logger.Info("orchestration core exited properly")
}
