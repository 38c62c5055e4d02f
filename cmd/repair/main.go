package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iliyamo/dorm-reservation/internal/config"
	"github.com/iliyamo/dorm-reservation/internal/database"
	"github.com/iliyamo/dorm-reservation/internal/logger"
	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/service"
)

// repair runs one consistency pass over assignments and room occupants.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(config.LoadLogConfig("dorm-repair"))
	defer func() { _ = log.Sync() }()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	opts := []service.Option{service.WithLogger(log)}
	if rdb := config.NewRedisClient(); rdb != nil {
		defer rdb.Close()
		opts = append(opts, service.WithLocker(service.NewRedisLocker(rdb, log, cfg.LeaseTTL, cfg.LeaseWait)))
	}
	alloc := service.NewAllocator(
		repository.NewUserRepo(db),
		repository.NewRoomRepo(db),
		repository.NewReservationRepo(db),
		repository.NewHistoryRepo(db),
		opts...,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := alloc.RepairDataConsistency(ctx)
	log.Info("repair finished",
		zap.Int("assignments_synced", report.AssignmentsSynced),
		zap.Int("orphans_reset", report.OrphansReset),
		zap.Int("occupants_removed", report.OccupantsRemoved),
		zap.Int("occupants_restored", report.OccupantsRestored),
		zap.Int("total", report.Total()),
	)
	if err != nil {
		log.Error("repair failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
