package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/connectors"
	"github.com/xela07ax/trustgate/internal/engine"
	"github.com/xela07ax/trustgate/internal/fingerprint"
	"github.com/xela07ax/trustgate/internal/health"
	"github.com/xela07ax/trustgate/internal/hub"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/pool"
	"github.com/xela07ax/trustgate/internal/repository/postgres"
	"github.com/xela07ax/trustgate/internal/repository/sqlite"
	"github.com/xela07ax/trustgate/internal/risk"
	"github.com/xela07ax/trustgate/internal/sink"
	"github.com/xela07ax/trustgate/internal/validation"
)

func main() {
	// .env необязателен: в контейнере все приходит через ENV
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}
	logger = logger.With(zap.String("instance", cfg.Server.InstanceID))

	// Контекст для управления жизненным циклом фоновых горутин.
	// SIGINT/SIGTERM отменяет его и останавливает слушателей.
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура и ресурсы
	pg, err := postgres.NewPool(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pg.Close()
	if err := postgres.Migrate(appCtx, pg); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 2. Журнал событий: пачками в Postgres или в локальный SQLite
	var journalStorage audit.Storage
	switch cfg.Journal.Driver {
	case "sqlite":
		store, err := sqlite.NewJournalStore(cfg.Journal.DSN)
		if err != nil {
			logger.Fatal("journal store", zap.Error(err))
		}
		if err := store.Init(appCtx); err != nil {
			logger.Fatal("journal store init", zap.Error(err))
		}
		defer store.Close()
		journalStorage = store
	default:
		journalStorage = postgres.NewJournalRepo(pg)
	}
	journal := audit.NewJournal(journalStorage, audit.Config{
		BufferSize:    cfg.Journal.BufferSize,
		FlushInterval: cfg.Journal.FlushInterval,
	}, logger)
	journal.Start()

	// 3. Пул ресурсов и проверка здоровья
	resourcePool := pool.New(pool.Config{
		SessionCap:       cfg.Pool.SessionCap,
		FailureThreshold: cfg.Pool.FailureThreshold,
	}, logger)

	// 4. Отпечатки: история клиентов в Redis переживает рестарт
	prints := fingerprint.NewEngine(
		fingerprint.NewRedisStore(rdb, cfg.Fingerprint.HistoryCap, cfg.Fingerprint.RecentCap, cfg.Fingerprint.TTL),
		cfg.Fingerprint.SimilarityThreshold, logger)

	// 5. Конвейер валидации. Внешняя репутация — за Reliability (limiter, CB, retry)
	var lookuper risk.Lookuper = &connectors.MockReputation{}
	if cfg.Lookup.URL != "" {
		upstream := connectors.NewHTTPReputation(cfg.Lookup.URL, &http.Client{Timeout: 5 * time.Second})
		lookuper = engine.NewReliabilityWrapper(upstream, cfg.Lookup, metrics)
	} else {
		logger.Warn("lookup.url is empty, using mock reputation source")
	}
	pipeline := validation.New(validation.Config{
		StageTimeout:     cfg.Pipeline.StageTimeout,
		TotalTimeout:     cfg.Pipeline.TotalTimeout,
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
		RecordTTL:        cfg.Pipeline.RecordTTL,
	}, postgres.NewValidationRepo(pg), logger,
		risk.FormatStage{},
		risk.ConsistencyStage{},
		risk.BotStage{},
		risk.ResourceStage{SlowLatencyMs: 2000},
		risk.NewValueStage(risk.ValueCondition{Field: cfg.Pipeline.ValueField, Ceiling: cfg.Pipeline.ValueCeiling}, logger),
		risk.NewLookupStage(lookuper),
	)

	// 6. Хаб подписчиков и межинстансная ретрансляция
	eventHub := hub.New(hub.Config{
		MaxConnections:   cfg.Hub.MaxConnections,
		HeartbeatTimeout: cfg.Hub.HeartbeatTimeout,
		SweepInterval:    cfg.Hub.SweepInterval,
		QueueSize:        cfg.Hub.QueueSize,
	}, metrics, logger)
	relay := engine.NewRelay(rdb, eventHub, cfg.Server.InstanceID, logger)

	var sinks []engine.RecordSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := sink.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	// 7. Core (сборка ядра шлюза)
	core := engine.NewCore(engine.CoreDeps{
		Pool:        resourcePool,
		Fingerprint: prints,
		Pipeline:    pipeline,
		Hub:         eventHub,
		Relay:       relay,
		Journal:     journal,
		Sinks:       sinks,
		Metrics:     metrics,
	}, logger)

	monitor := health.NewMonitor(health.Config{
		Interval:    cfg.Health.Interval,
		Timeout:     cfg.Health.Timeout,
		Concurrency: cfg.Health.Concurrency,
	}, resourcePool, health.NewProtocolProber(cfg.Health.Target),
		engine.NewProbeFanout(logger, metrics, core, engine.NewHealthLogSink(postgres.NewHealthRepo(pg), logger)),
		logger)

	// 8. Control Plane: реестр из БД + сигналы консоли
	control := engine.NewResourceControl(resourcePool, postgres.NewResourceRepo(pg), rdb, monitor, journal, logger)
	if err := control.Init(appCtx); err != nil {
		logger.Fatal("failed to init resource pool", zap.Error(err))
	}

	// 9. Фоновые задачи под супервизором
	sup := engine.NewSupervisor(logger)
	sup.Go(appCtx, "health-monitor", monitor.Run)
	sup.Go(appCtx, "hub-sweeper", eventHub.Run)
	sup.Go(appCtx, "hub-relay", relay.Listen)
	sup.Go(appCtx, "resource-state", control.ListenState)
	sup.Go(appCtx, "resource-sync", control.ListenSync)
	sup.Go(appCtx, "health-run", control.ListenHealthRun)
	sup.Go(appCtx, "record-purge", func(ctx context.Context) {
		purgeLoop(ctx, pipeline, logger)
	})
	sup.Go(appCtx, "metrics-sampler", func(ctx context.Context) {
		metrics.SampleEvery(ctx, 5*time.Second, resourcePool.Stats, journal.Len)
	})

	// 10. Транспорты
	pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pub, auth.DefaultIssuer)
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	api := engine.NewAPI(core, validator, hub.NewWSHandler(eventHub, validator, nil, logger), metricsHandler, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsHandler}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(validator, logger)))
	engine.RegisterGatewayServer(grpcSrv, engine.NewGRPCGatewayServer(core))

	g, gctx := errgroup.WithContext(appCtx)
	g.Go(func() error {
		logger.Info("gateway HTTP started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		logger.Info("gateway gRPC started", zap.String("addr", cfg.GRPC.Addr))
		return grpcSrv.Serve(lis)
	})

	// 11. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("gateway stopping...")

		// Даем 5 секунд на завершение запросов
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
		_ = metricsSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
	stop()
	sup.Wait()
	// асинхронные валидации дописывают записи, затем журнал сливает буфер
	pipeline.Wait()
	journal.Stop()
	logger.Info("gateway exited properly")
}

func purgeLoop(ctx context.Context, p *validation.Pipeline, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("record purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired records purged", zap.Int("count", n))
			}
		}
	}
}
