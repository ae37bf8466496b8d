package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/medsuy/appointment-system/pkg/config"
	"github.com/medsuy/appointment-system/pkg/idempotency"
	"github.com/medsuy/appointment-system/pkg/logging"
	"github.com/medsuy/appointment-system/pkg/shutdown"
	"github.com/medsuy/appointment-system/pkg/tracing"

	notifapp "github.com/medsuy/appointment-system/internal/notification/application"
	"github.com/medsuy/appointment-system/internal/notification/infrastructure/mail"
	"github.com/medsuy/appointment-system/internal/notification/infrastructure/rabbitmq"
)

func main() {
	log := logging.New()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "notification-worker", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var dedup notifapp.DedupStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		dedup = idempotency.NewRedisStore(rdb, cfg.DedupTTL)
		log.Info("dedup via redis", "addr", cfg.RedisAddr, "ttl", cfg.DedupTTL)
	} else {
		lruStore, err := idempotency.NewLRUStore(cfg.DedupLRUSize, cfg.DedupTTL)
		if err != nil {
			log.Error("lru init failed", "err", err)
			os.Exit(1)
		}
		dedup = lruStore
		log.Info("dedup via in-process lru", "size", cfg.DedupLRUSize, "ttl", cfg.DedupTTL)
	}

	mailer, err := mail.NewSMTPMailer(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		log.Error("mailer init failed", "err", err)
		os.Exit(1)
	}

	svc := notifapp.NewService(log, mailer, dedup, cfg.NotifyQueue)

	consumer := rabbitmq.NewConsumer(log, rabbitmq.Config{
		URL:         cfg.AMQPURL,
		Queue:       cfg.NotifyQueue,
		DLX:         cfg.NotifyDLX,
		DLQ:         cfg.NotifyDLQ,
		Prefetch:    cfg.NotifyPrefetch,
		MaxAttempts: cfg.NotifyMaxAttempts,
	}, svc)

	log.Info("notification worker started", "queue", cfg.NotifyQueue)
	if err := consumer.Run(ctx); err != nil {
		log.Error("consumer stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("notification worker shutdown complete")
}
