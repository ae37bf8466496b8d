package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsuy/appointment-system/pkg/config"
	"github.com/medsuy/appointment-system/pkg/logging"
	"github.com/medsuy/appointment-system/pkg/mq"
	"github.com/medsuy/appointment-system/pkg/outbox"
	"github.com/medsuy/appointment-system/pkg/shutdown"
	"github.com/medsuy/appointment-system/pkg/tracing"

	"github.com/medsuy/appointment-system/internal/reservation/application"
	reshttp "github.com/medsuy/appointment-system/internal/reservation/infrastructure/http"
	respg "github.com/medsuy/appointment-system/internal/reservation/infrastructure/postgres"
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

	tp, err := tracing.Init(ctx, "reservation-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := respg.NewRepository(log, pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	publisher, err := mq.NewPublisher(cfg.AMQPURL, cfg.NotifyQueue, mq.QueueArgs(cfg.NotifyDLX))
	if err != nil {
		log.Error("rabbitmq connect failed", "err", err)
		os.Exit(1)
	}
	defer publisher.Close()

	store := respg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, publisher, cfg.NotifyQueue)
	relay := outbox.NewRelay(log, store, dispatch, "reservation-relay-"+uuid.NewString()[:8])

	svc := application.NewService(log, repo, repo)
	handler := reshttp.NewHandler(log, svc)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("reservation-service shutdown complete")
}
