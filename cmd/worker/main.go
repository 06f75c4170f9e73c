package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qrattend/internal/config"
	"qrattend/internal/logging"
	"qrattend/internal/notification"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes attendance events from Redis and e-mails each student a confirmation.
func main() {
	cfg := config.Load()
	host, _ := os.Hostname()
	logger := logging.New(nil, cfg.RollbarToken, cfg.Env, host)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" || !cfg.RedisEnabled {
		// the in-memory queue is drained inside the API process
		logger.Infof("worker needs QUEUE_BACKEND=redis and REDIS_ENABLED; exiting")
		return
	}

	rdb, err := store.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Close()
		log.Fatalf("redis connect failed: %v", err)
	}
	defer rdb.Close()

	messages, err := queue.NewRedisQueue(rdb.Client, queue.DefaultKey).Consume(ctx)
	if err != nil {
		logger.Close()
		log.Fatalf("queue consume init failed: %v", err)
	}

	logger.Infof("worker started, waiting for messages...")
	notification.Dispatch(ctx, messages, newMailer(cfg, logger), logger)
	logger.Infof("worker stopped")
}

func newMailer(cfg config.App, logger *logging.Logger) notification.Mailer {
	if cfg.SendGridAPIKey == "" {
		logger.Infof("SENDGRID_API_KEY not set; e-mails are logged")
		return notification.ConsoleMailer{Logger: logger.Std()}
	}
	return notification.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFromEmail)
}
