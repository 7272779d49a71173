package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadencehq/cadence/internal/ai"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/distlock"
	"github.com/cadencehq/cadence/internal/pkg/httpretry"
	"github.com/cadencehq/cadence/internal/repository/postgres"
	"github.com/cadencehq/cadence/internal/service/enrollment"
	"github.com/cadencehq/cadence/internal/service/review"
	"github.com/cadencehq/cadence/internal/service/usage"
	"github.com/cadencehq/cadence/internal/ses"
	"github.com/cadencehq/cadence/internal/worker"

	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting Cadence send worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed: %v — falling back to PG advisory locks", err)
			redisClient.Close()
			redisClient = nil
		}
		pingCancel()
	}

	enrollRepo := postgres.NewEnrollmentRepo(db)
	sequenceRepo := postgres.NewSequenceRepo(db)
	pendingRepo := postgres.NewPendingRepo(db)
	interactionRepo := postgres.NewInteractionRepo(db)
	usageRepo := postgres.NewUsageRepo(db)
	settingsRepo := postgres.NewSettingsRepo(db, domain.SendMode(cfg.Gate.DefaultSendMode))

	enrollments := enrollment.NewService(enrollRepo, sequenceRepo, settingsRepo)
	reviews := review.NewService(pendingRepo, settingsRepo, enrollments)
	meter := usage.NewMeter(usageRepo)

	var generator ai.Generator = ai.NewTemplateGenerator()
	if cfg.AI.AnthropicAPIKey != "" {
		client := httpretry.NewRetryClient(&http.Client{Timeout: 60 * time.Second}, 3)
		generator = ai.NewAnthropicGenerator(client, cfg.AI.AnthropicAPIKey, cfg.AI.AnthropicModel)
		log.Printf("Anthropic generator enabled (model: %s)", cfg.AI.AnthropicModel)
	}

	transport, err := ses.NewClient(context.Background(), cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	if err != nil {
		log.Fatalf("Failed to initialize SES transport: %v", err)
	}

	tickLock := distlock.NewLock(redisClient, db, worker.SchedulerLockKey, cfg.Scheduler.LockTTL())
	scheduler := worker.NewStepScheduler(enrollRepo, sequenceRepo, reviews, generator, meter, tickLock)
	scheduler.SetPollInterval(cfg.Scheduler.TickInterval())
	if cfg.Scheduler.BatchSize > 0 {
		scheduler.SetBatchSize(cfg.Scheduler.BatchSize)
	}

	drainLock := distlock.NewLock(redisClient, db, worker.DispatcherLockKey, cfg.Scheduler.LockTTL())
	dispatcher := worker.NewDispatchWorker(pendingRepo, interactionRepo, enrollments, settingsRepo, transport, meter, drainLock)

	heartbeat := worker.NewHeartbeat(db, "send-worker")
	heartbeat.Start()

	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start step scheduler: %v", err)
	}
	if err := dispatcher.Start(); err != nil {
		log.Fatalf("Failed to start dispatch worker: %v", err)
	}
	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	scheduler.Stop()
	dispatcher.Stop()
	heartbeat.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	log.Println("Shutdown complete")
}
