package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iliyamo/dorm-reservation/internal/config"
	"github.com/iliyamo/dorm-reservation/internal/logger"
	"github.com/iliyamo/dorm-reservation/internal/queue"
)

// consumer drains reservation events into the rotated audit log.
func main() {
	_ = godotenv.Load()

	log := logger.New(config.LoadLogConfig("dorm-consumer"))
	defer func() { _ = log.Sync() }()

	qc := config.LoadQueueConfig()
	if qc.URL == "" {
		log.Fatal("RABBITMQ_URL is not set")
	}
	sink := logger.NewAudit(qc)
	defer func() { _ = sink.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("consuming", zap.String("queue", qc.Queue), zap.String("audit_file", qc.AuditFile))
	if err := queue.NewConsumer(qc.URL, qc.Queue, log, sink).Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("consumer stopped", zap.Error(err))
	}
	log.Info("consumer stopped")
}
