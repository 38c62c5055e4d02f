package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/dorm-reservation/internal/config"
	"github.com/iliyamo/dorm-reservation/internal/database"
	"github.com/iliyamo/dorm-reservation/internal/handler"
	"github.com/iliyamo/dorm-reservation/internal/logger"
	"github.com/iliyamo/dorm-reservation/internal/middleware"
	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/queue"
	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/router"
	"github.com/iliyamo/dorm-reservation/internal/service"
	"github.com/iliyamo/dorm-reservation/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg := config.Load()
	log := logger.New(config.LoadLogConfig("dorm-api"))
	defer func() { _ = log.Sync() }()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	users := repository.NewUserRepo(db)
	rooms := repository.NewRoomRepo(db)
	reservations := repository.NewReservationRepo(db)
	history := repository.NewHistoryRepo(db)
	settings := repository.NewSettingsRepo(db)
	tokens := repository.NewTokenRepo(db)

	nid, err := utils.NewNationalIDCipher(cfg.EncryptionKey, cfg.NationalIDIndexKey)
	if err != nil {
		log.Fatal("national id cipher", zap.Error(err))
	}
	if err := settings.EnsureDefault(ctx, cfg.ReservationOpenAt, cfg.ReservationOpen, "dormitory reservation window"); err != nil {
		log.Fatal("reservation settings init failed", zap.Error(err))
	}
	if err := bootstrapAdmin(ctx, cfg, users, log); err != nil {
		log.Fatal("admin bootstrap failed", zap.Error(err))
	}
	cancel()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable: rate limiting, response cache and room leases disabled")
	} else {
		defer rdb.Close()
	}

	opts := []service.Option{service.WithLogger(log)}
	if rdb != nil {
		opts = append(opts, service.WithLocker(service.NewRedisLocker(rdb, log, cfg.LeaseTTL, cfg.LeaseWait)))
	}
	if cfg.RabbitURL != "" {
		pub := queue.NewPublisher(cfg.RabbitURL, cfg.EventsQueue, log)
		defer pub.Close()
		opts = append(opts, service.WithPublisher(pub))
	}
	alloc := service.NewAllocator(users, rooms, reservations, history, opts...)
	gate := service.NewGate(settings, nil)

	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, log)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log))

	roomH := handler.NewRoomHandler(rooms, alloc, cache)
	resH := handler.NewReservationHandler(alloc, gate, reservations, history)
	setH := handler.NewSettingsHandler(settings, gate)

	router.RegisterRoutes(e, db, rdb)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, nid), cfg.JWTSecret)
	router.RegisterPublic(e, roomH, cache)
	router.RegisterStudent(e, resH, setH, cfg.JWTSecret)
	router.RegisterAdmin(e, roomH, handler.NewAdminUserHandler(users, tokens, rooms, alloc, nid, cache), setH, cfg.JWTSecret)
	router.RegisterAdminReservations(e, resH, handler.NewExportHandler(reservations), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop, done := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer done()
	<-stop.Done()

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

// bootstrapAdmin creates the configured admin account when no admin exists.
func bootstrapAdmin(ctx context.Context, cfg config.Config, users *repository.UserRepo, log *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	n, err := users.CountAdmins(ctx)
	if err != nil || n > 0 {
		return err
	}
	hash, err := utils.HashPassword(cfg.AdminPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}
	id, err := users.Create(ctx, &model.User{
		Name:         cfg.AdminName,
		Email:        cfg.AdminEmail,
		PasswordHash: hash,
		Gender:       model.GenderMale,
		Grade:        "A",
		Role:         utils.RoleAdmin,
		IsActive:     true,
	})
	if errors.Is(err, repository.ErrEmailExists) {
		log.Warn("admin email already registered as a user", zap.String("email", cfg.AdminEmail))
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("admin account created", zap.Uint64("user_id", id), zap.String("email", cfg.AdminEmail))
	return nil
}
