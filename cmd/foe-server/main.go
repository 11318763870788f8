package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gcode-mirror/foe-project/internal/config"
	"github.com/gcode-mirror/foe-project/internal/db"
	"github.com/gcode-mirror/foe-project/internal/httpserver"
	"github.com/gcode-mirror/foe-project/internal/identity"
	"github.com/gcode-mirror/foe-project/internal/intake"
	"github.com/gcode-mirror/foe-project/internal/logger"
	"github.com/gcode-mirror/foe-project/internal/mailbox"
	"github.com/gcode-mirror/foe-project/internal/mq"
	redisclient "github.com/gcode-mirror/foe-project/internal/redis"
	"github.com/gcode-mirror/foe-project/internal/repository"
	"github.com/gcode-mirror/foe-project/internal/util"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	log := logger.New()
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	log.Info("Starting foe intake service",
		zap.String("processor_email", cfg.Intake.ProcessorEmail),
		zap.Duration("poll_interval", cfg.Intake.PollInterval()))

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, time.Hour)

	// Init RabbitMQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Init Repositories
	requestRepo := repository.NewRequestRepository(dbConn)
	feedRepo := repository.NewFeedRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	// Init Services
	verifier := identity.NewVerifier(userRepo, cfg.Intake.ProcessorEmail, log)
	dialer := mailbox.NewDialer(cfg.Pop)
	service := intake.NewService(dialer, verifier, requestRepo, feedRepo, cfg.Intake.ProcessorEmail, log).
		WithPublisher(publisher).
		WithDupGuard(deduper)

	// Metrics and health endpoints. The error comes back over a channel
	// so main returns normally and the deferred closes still run.
	router := httpserver.NewRouter()
	httpErr := make(chan error, 1)
	go func() {
		log.Info("Starting http server", zap.String("port", cfg.Server.Port))
		httpErr <- router.Run(cfg.Server.Port)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Intake.PollInterval())
	defer ticker.Stop()

	runPass(ctx, service, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return
		case err := <-httpErr:
			log.Error("http server failed", zap.Error(err))
			return
		case <-ticker.C:
			runPass(ctx, service, log)
		}
	}
}

func runPass(ctx context.Context, service *intake.Service, log *zap.Logger) {
	report, err := service.Run(ctx)
	if err != nil {
		// Undeleted mail is picked up again on the next tick.
		log.Error("intake pass failed", zap.Error(err))
		return
	}
	log.Info("intake pass finished",
		zap.Int("messages", report.MessageCount),
		zap.Duration("duration", report.Duration))
}
