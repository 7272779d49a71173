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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	"github.com/cadencehq/cadence/internal/ai"
	"github.com/cadencehq/cadence/internal/api"
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
	log.Println("Starting Cadence API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
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

	// Redis is optional; the scheduler tick lock falls back to PG
	// advisory locks without it.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (distributed locking enabled)", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — using PG advisory locks for scheduler tick")
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

	generator := buildGenerator(cfg.AI)
	classifier := buildClassifier(cfg.AI)

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
	router := worker.NewReplyRouter(interactionRepo, enrollRepo, enrollments, reviews, classifier, meter)

	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start step scheduler: %v", err)
		}
		if err := dispatcher.Start(); err != nil {
			log.Fatalf("Failed to start dispatch worker: %v", err)
		}
		log.Println("Step scheduler and dispatch worker started")
	} else {
		log.Println("Background workers disabled (scheduler.enabled=false) — ticks available via POST /api/scheduler/tick")
	}

	handlers := api.NewHandlers(enrollments, reviews, router, scheduler, meter)
	server := api.NewServer(cfg.Server, handlers)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	log.Printf("API server listening on %s", cfg.Server.Addr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	if cfg.Scheduler.Enabled {
		scheduler.Stop()
		dispatcher.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	log.Println("Shutdown complete")
}

func buildGenerator(cfg config.AIConfig) ai.Generator {
	if cfg.AnthropicAPIKey == "" {
		log.Println("Anthropic API key not set — using template generator")
		return ai.NewTemplateGenerator()
	}
	client := httpretry.NewRetryClient(&http.Client{Timeout: 60 * time.Second}, 3)
	log.Printf("Anthropic generator enabled (model: %s)", cfg.AnthropicModel)
	return ai.NewAnthropicGenerator(client, cfg.AnthropicAPIKey, cfg.AnthropicModel)
}

func buildClassifier(cfg config.AIConfig) ai.Classifier {
	if cfg.BedrockModelID == "" {
		log.Println("Bedrock model not set — using keyword classifier")
		return ai.NewKeywordClassifier()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.BedrockRegion))
	if err != nil {
		log.Printf("Warning: Failed to load AWS config for Bedrock: %v — using keyword classifier", err)
		return ai.NewKeywordClassifier()
	}
	log.Printf("Bedrock classifier enabled (model: %s)", cfg.BedrockModelID)
	return ai.NewBedrockClassifier(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
}
