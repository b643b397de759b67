package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/liftbank/operations-engine/internal/config"
	"github.com/liftbank/operations-engine/internal/logger"
	"github.com/liftbank/operations-engine/internal/model"
	"github.com/liftbank/operations-engine/internal/repo"
	"github.com/liftbank/operations-engine/internal/service"
	httptransport "github.com/liftbank/operations-engine/internal/transport/http"
)

func main() {
	// 1. env + config
	godotenv.Load()
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Operation{},
		&model.WalletAccount{},
		&model.PendingWalletAccountTransaction{},
		&model.UserLimit{},
		&model.GlobalLimit{},
		&model.UserLimitTracker{},
		&model.LimitType{},
		&model.TransactionType{},
		&model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo & engine
	repository := repo.NewRepository(gdb, rdb, repo.NewRedisLocker(rdb), kw, log)
	eng := service.NewEngine(
		repository,
		service.NewRepoUserService(repository),
		service.NewOutboxComplianceService(repository),
		nil, // no OTC service: cross-currency operations are rejected
		service.Config{
			ReservationTTL: cfg.Engine.ReservationTTL(),
			TrackerWindow:  cfg.Engine.TrackerWindow(),
		},
		log,
	)

	// 7. gin router
	router := httptransport.NewRouter(eng, cfg.RateLimit, cfg.Engine.CurrencyExponent, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("operations-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
