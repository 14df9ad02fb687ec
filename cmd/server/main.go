package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/digkill/cineweave/internal/api"
	"github.com/digkill/cineweave/internal/auth"
	"github.com/digkill/cineweave/internal/config"
	"github.com/digkill/cineweave/internal/database"
	"github.com/digkill/cineweave/internal/idempotency"
	"github.com/digkill/cineweave/internal/metrics"
	"github.com/digkill/cineweave/internal/notify"
	"github.com/digkill/cineweave/internal/repository"
	"github.com/digkill/cineweave/internal/runner"
	"github.com/digkill/cineweave/internal/service"
	"github.com/digkill/cineweave/internal/storage"
	"github.com/digkill/cineweave/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	recorder := metrics.New(prometheus.DefaultRegisterer)
	store := repository.NewMySQLStore(db)

	var notifier service.Notifier
	if cfg.TelegramBotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
		tg := notify.NewTelegram(botAPI, cfg.TelegramChatID, logr)
		defer tg.Close()
		notifier = tg
	}

	var artifacts api.ArtifactStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.New(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			URLTTL:       cfg.ArtifactURLTTL,
		})
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		artifacts = s3Store
	} else {
		logr.Warn("S3_BUCKET not set; job reads will not include download links")
	}

	var deduper api.Deduper
	if cfg.RedisURL != "" {
		redisStore, err := idempotency.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisStore.Close()
		guard, err := idempotency.NewGuard(redisStore, cfg.IdempotencyTTL)
		if err != nil {
			log.Fatalf("idempotency guard: %v", err)
		}
		deduper = guard
	}

	runnerClient := runner.NewClient(runner.Options{
		BaseURL:    cfg.RunnerBaseURL,
		EndpointID: cfg.RunnerEndpointID,
		APIKey:     cfg.RunnerAPIKey,
		WebhookURL: cfg.RunnerCallbackURL,
		Timeout:    cfg.RequestTimeout,
	}, logr)

	creditService := service.NewCreditService(store, logr, recorder)
	jobService := service.NewJobService(store, creditService, logr, recorder, notifier)
	userService := service.NewUserService(store, creditService, logr, recorder)
	paymentService := service.NewPaymentService(store, creditService, logr, recorder, notifier)
	planService := service.NewPlanService(store, logr)
	dispatcher := service.NewDispatcher(jobService, runnerClient, logr, cfg.MaxConcurrentJobs)

	if _, err := planService.Seed(ctx); err != nil {
		log.Fatalf("seed plans: %v", err)
	}

	server := api.NewServer(api.Deps{
		Addr:            cfg.ListenAddr,
		Environment:     cfg.Environment,
		AdminUsername:   cfg.AdminUsername,
		AdminPassword:   cfg.AdminPassword,
		WebhookSecret:   cfg.RunnerWebhookSecret,
		RequestTimeout:  cfg.RequestTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Log:             logr,
		Metrics:         recorder,
		Gatherer:        prometheus.DefaultGatherer,
		Verifier:        verifier,
		Users:           userService,
		Credits:         creditService,
		Jobs:            jobService,
		Plans:           planService,
		Payments:        paymentService,
		Dispatcher:      dispatcher,
		Artifacts:       artifacts,
		Deduper:         deduper,
		HealthCheck:     db.PingContext,
	})

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api stopped", "err", err)
	}
}

func newVerifier(cfg config.Config) (*auth.Verifier, error) {
	if cfg.JWTPublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, err
		}
		return auth.NewRSAVerifier(pem, cfg.JWTIssuer)
	}
	return auth.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer)
}
