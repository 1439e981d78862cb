package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopbridge/config"
	"shopbridge/internal/api"
	"shopbridge/internal/api/handlers"
	"shopbridge/internal/cache"
	"shopbridge/internal/core"
	"shopbridge/internal/logging"
	"shopbridge/internal/notify"
	"shopbridge/internal/scheduler"
	"shopbridge/internal/storage/sqlite"
	"shopbridge/internal/tiktok"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "Log format (json, text)")
	flag.Parse()

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: *logFormat,
		Level:  logging.ParseLevel(*logLevel),
	})

	// Load configuration
	var cfg *config.Config
	var err error
	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize database
	logger.Info("Initializing SQLite database", "path", cfg.Database.Path)
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Re-authorization alerts
	var notifier core.Notifier = notify.Noop{}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notifier: %w", err)
		}
		logger.Info("Telegram alerts enabled", "chat_id", cfg.Telegram.ChatID)
		notifier = tg
	}

	// Token lifecycle
	oauthClient := tiktok.NewOAuthClient(tiktok.OAuthConfig{
		AppKey:    cfg.TikTok.AppKey,
		AppSecret: cfg.TikTok.AppSecret,
		AuthBase:  cfg.TikTok.AuthBase,
	})
	tokenManager := core.NewTokenManager(
		db,
		oauthClient,
		notifier,
		time.Duration(cfg.TikTok.RefreshAhead)*time.Second,
		logger,
	)

	// Signed API executor
	executor := tiktok.NewExecutor(tiktok.ExecutorConfig{
		AppKey:    cfg.TikTok.AppKey,
		AppSecret: cfg.TikTok.AppSecret,
		APIBase:   cfg.TikTok.APIBase,
		APIBaseUS: cfg.TikTok.APIBaseUS,
	}, tokenManager, db, logger)

	// Shop info cache
	var infoCache cache.ShopInfoCache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		}, logger)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisCache.Ping(pingCtx)
		pingCancel()
		if err != nil {
			// The cache is an optimization; a dead Redis must not keep the
			// service from starting.
			logger.Warn("Redis unreachable, shop info cache disabled", "addr", cfg.Redis.Addr, "error", err)
			redisCache.Close()
		} else {
			logger.Info("Shop info cache enabled", "addr", cfg.Redis.Addr)
			defer redisCache.Close()
			infoCache = redisCache
		}
	}

	// Start scheduler
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(
			db,
			tokenManager,
			executor,
			time.Duration(cfg.Scheduler.IntervalMinutes)*time.Minute,
			cfg.Scheduler.SyncProducts,
			logger,
		)
		go sched.Start()
	}

	// Initialize REST API
	router := api.NewRouter(api.RouterConfig{
		Storage:  db,
		Tokens:   tokenManager,
		Executor: executor,
		Cache:    infoCache,
		Auth: handlers.AuthConfig{
			AuthorizeBase: cfg.TikTok.AuthorizeBase,
			ServiceID:     cfg.TikTok.ServiceID,
			RedirectURI:   cfg.TikTok.RedirectURI,
		},
		APIKey: cfg.Security.APIKey,
		Logger: logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Starting graceful shutdown", "signal", sig.String())

		if sched != nil {
			sched.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Graceful shutdown complete")
	}

	return nil
}
