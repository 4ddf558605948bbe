package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/app/maintenance"
	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/realtime"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parley-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := database.Open(cfg.DatabaseSettings())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeDatabase(db, log)

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	dbStore := cache.NewDatabaseStore(db)

	var redisClient cache.Store
	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cfg.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(redisErr))
		} else {
			redisClient = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	defer func() {
		if rc, ok := redisClient.(*cache.RedisClient); ok && rc != nil {
			_ = rc.Close()
		}
	}()

	jwtService, err := iauth.NewJWTService(cfg.JWTServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	hub := realtime.NewHub()

	chatSvc, err := services.NewChatService(db)
	if err != nil {
		return fmt.Errorf("initialise chat service: %w", err)
	}

	presenceSvc, err := services.NewPresenceService(db)
	if err != nil {
		return fmt.Errorf("initialise presence service: %w", err)
	}

	typingTracker := services.NewTypingTracker(hub, services.WithTypingTTL(cfg.Realtime.TypingTTL))

	messageSvc, err := services.NewMessageService(db, chatSvc, hub, typingTracker)
	if err != nil {
		return fmt.Errorf("initialise message service: %w", err)
	}

	callSvc, err := services.NewCallService(db, chatSvc, hub)
	if err != nil {
		return fmt.Errorf("initialise call service: %w", err)
	}

	sweeper := maintenance.NewSweeper(presenceSvc, callSvc,
		maintenance.WithOfflineGrace(cfg.Presence.OfflineGrace),
		maintenance.WithRingTimeout(cfg.Calls.RingTimeout),
		maintenance.WithPresenceSchedule(cfg.Presence.SweepSchedule),
		maintenance.WithCallSchedule(cfg.Calls.SweepSchedule),
	)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sweeper.Stop(stopCtx); err != nil {
			log.Warn("maintenance shutdown failed", zap.Error(err))
		}
	}()

	var rateStore middleware.RateStore
	switch {
	case redisClient != nil:
		rateStore = middleware.NewRedisRateStore(redisClient)
	case dbStore != nil:
		rateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	router, err := api.NewRouter(db, jwtService, cfg, api.Services{
		Hub:      hub,
		Chats:    chatSvc,
		Messages: messageSvc,
		Typing:   typingTracker,
		Presence: presenceSvc,
		Calls:    callSvc,
	}, rateStore)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable on shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
