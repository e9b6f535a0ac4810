package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradedesk/internal/config"
	"tradedesk/internal/exchange"
	"tradedesk/internal/reconcile"
	"tradedesk/internal/repository"
	"tradedesk/internal/service"
	"tradedesk/pkg/crypto"
	"tradedesk/pkg/retry"

	_ "github.com/lib/pq"
)

func main() {
	userID := flag.Int("user", 0, "reconcile only this user's links (0 = all)")
	interval := flag.Duration("interval", 0, "run periodically with this interval (0 = single pass)")
	flag.Parse()

	// .env удобен в dev; в проде переменные приходят из окружения
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database (%s)", cfg.Database.DSNWithoutPassword())

	// Репозитории
	linkRepo := repository.NewUserExchangeRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	banRepo := repository.NewBanRepository(db)

	// Сервисы
	encryptionKey := crypto.DeriveKey(cfg.Security.EncryptionPassphrase)
	credentials := service.NewCredentialService(encryptionKey)

	engineCfg := reconcile.Config{
		PnlFetchLimit:      cfg.Reconcile.PnlFetchLimit,
		StalePendingMaxAge: cfg.Reconcile.StalePendingMaxAge,
		Workers:            cfg.Reconcile.Workers,
		BanThreshold:       cfg.Reconcile.BanThreshold,
		BanDuration:        cfg.Reconcile.BanDuration,
		Retry:              retryConfig(cfg),
	}

	engine := reconcile.New(linkRepo, orderRepo, tradeRepo, banRepo, credentials, engineCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *interval <= 0 {
		// Одиночный проход: exit 0 - проход завершён, 1 - фатальная ошибка
		if err := runPass(ctx, engine, *userID); err != nil {
			log.Printf("Pass failed: %v", err)
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, cfg, engine, *userID, *interval)
}

// runPass выполняет один реконсиляционный проход
func runPass(ctx context.Context, engine *reconcile.Reconciler, userID int) error {
	if userID > 0 {
		return engine.RunPassForUser(ctx, userID)
	}
	return engine.RunPass(ctx)
}

// runDaemon крутит проходы по таймеру и держит служебный HTTP сервер
func runDaemon(ctx context.Context, cfg *config.Config, engine *reconcile.Reconciler, userID int, interval time.Duration) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	opsServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Ops server listening on %s", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ops server failed: %v", err)
		}
	}()

	log.Printf("Reconciling every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// первый проход сразу, не дожидаясь тика
	if err := runPass(ctx, engine, userID); err != nil && ctx.Err() == nil {
		log.Printf("Pass failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Ops server forced to shutdown: %v", err)
			}

			log.Println("Reconciler exited")
			return
		case <-ticker.C:
			if err := runPass(ctx, engine, userID); err != nil && ctx.Err() == nil {
				log.Printf("Pass failed: %v", err)
			}
			engine.LiftExpiredBans()
		}
	}
}

// retryConfig собирает политику повторов из конфигурации
func retryConfig(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.Reconcile.MaxRetries
	rc.InitialDelay = cfg.Reconcile.RetryBackoff
	rc.RetryIf = exchange.IsRetryable
	return rc
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
