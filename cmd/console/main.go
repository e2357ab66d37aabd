package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/console/handler"
	"github.com/xela07ax/trustgate/internal/console/server"
	"github.com/xela07ax/trustgate/internal/console/service"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/infra/auth"
	"github.com/xela07ax/trustgate/internal/repository/postgres"
	"github.com/xela07ax/trustgate/internal/repository/sqlite"
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инициализация ресурсов
	pg, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pg.Close()
	if err := postgres.Migrate(ctx, pg); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	// 2. Ключи: консоль подписывает токены, шлюзы только проверяют
	priv, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(&priv.PublicKey, auth.DefaultIssuer)
	issuer := auth.NewTokenIssuer(priv, auth.DefaultIssuer, cfg.Auth.TokenTTL)

	// 3. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(postgres.NewUserRepo(pg), validator, issuer, cfg.Auth.BcryptCost, logger)
	if user, pass := os.Getenv("CONSOLE_ADMIN_USER"), os.Getenv("CONSOLE_ADMIN_PASSWORD"); user != "" && pass != "" {
		if err := authService.EnsureUser(ctx, user, pass, "admin", nil); err != nil {
			logger.Fatal("failed to bootstrap admin", zap.Error(err))
		}
	}

	var journal service.JournalReader = postgres.NewJournalRepo(pg)
	if cfg.Journal.Driver == "sqlite" {
		store, err := sqlite.NewJournalStore(cfg.Journal.DSN)
		if err != nil {
			logger.Fatal("journal store", zap.Error(err))
		}
		defer store.Close()
		journal = store
	}

	resourceService := service.NewResourceService(rdb, postgres.NewResourceRepo(pg), logger)
	recordsService := service.NewRecordsService(postgres.NewValidationRepo(pg), journal, postgres.NewHealthRepo(pg))

	consoleSrv := server.NewConsoleServer(logger, authService,
		handler.NewAuthHandler(authService, logger),
		handler.NewResourceHandler(resourceService, logger),
		handler.NewRecordsHandler(recordsService, logger),
	)

	// 4. Запуск сервера
	srv := &http.Server{
		Addr:         cfg.Server.ConsoleAddr,
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("console stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
}
