package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/liftbank/operations-engine/internal/config"
	"github.com/liftbank/operations-engine/internal/logger"
	"github.com/liftbank/operations-engine/internal/repo"
	"github.com/liftbank/operations-engine/internal/service"
)

// The sweeper runs the engine's compensating jobs: it reconciles
// expired reservations against their operation's state, recomputes the
// rolling-window trackers, and resets calendar limit counters.
func main() {
	godotenv.Load()
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, repo.NewRedisLocker(rdb), kw, log)
	eng := service.NewEngine(
		repository,
		service.NewRepoUserService(repository),
		service.NewOutboxComplianceService(repository),
		nil,
		service.Config{
			ReservationTTL: cfg.Engine.ReservationTTL(),
			TrackerWindow:  cfg.Engine.TrackerWindow(),
		},
		log,
	)

	ticker := time.NewTicker(cfg.Engine.SweepInterval())
	defer ticker.Stop()

	log.Info("operations-sweeper started")
	for range ticker.C {
		ctx := context.Background()
		if n, err := eng.ReconcileReservations(ctx, cfg.Engine.SweepBatch); err != nil {
			log.Errorf("reconcile reservations: %v", err)
		} else if n > 0 {
			log.Infof("reconciled %d reservations", n)
		}
		if n, err := eng.RefreshTrackers(ctx, cfg.Engine.SweepBatch); err != nil {
			log.Errorf("refresh trackers: %v", err)
		} else if n > 0 {
			log.Debugf("refreshed %d trackers", n)
		}
		if n, err := eng.ResetLimitWindows(ctx, cfg.Engine.SweepBatch); err != nil {
			log.Errorf("reset limit windows: %v", err)
		} else if n > 0 {
			log.Infof("reset %d limit windows", n)
		}
	}
}
