package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	config "github.com/verimail/verification-service/configs"
	"github.com/verimail/verification-service/internal/application/services"
	"github.com/verimail/verification-service/internal/application/workers"
	"github.com/verimail/verification-service/internal/core/ports"
	"github.com/verimail/verification-service/internal/infrastructure/db"
	"github.com/verimail/verification-service/internal/infrastructure/email"
	"github.com/verimail/verification-service/internal/infrastructure/health"
	"github.com/verimail/verification-service/internal/infrastructure/httpserver"
	"github.com/verimail/verification-service/internal/infrastructure/redis"
	"github.com/verimail/verification-service/internal/infrastructure/repositories"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup logger
	logger := logrus.New()
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}

	logger.Info("Starting verification service...")

	// Initialize database (apply pool settings from config)
	database, err := db.NewDatabaseWithConfig(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	logger.Info("Connected to database successfully")

	// Initialize Redis client
	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	logger.Info("Connected to Redis successfully")

	// Run migrations
	if err := database.Migrate("./migrations"); err != nil {
		logger.Warn("Failed to run migrations:", err)
	}

	// Initialize repositories
	tokenRepo := repositories.NewTokenRepository(database, logger)
	rateLimitRepo := repositories.NewRateLimitRedisRepository(redisClient)

	// Initialize the dispatcher
	dispatcherConfig := &email.DispatcherConfig{
		SendGridAPIKey: cfg.Email.SendGridAPIKey,
		FromEmail:      cfg.Email.FromEmail,
		FromName:       cfg.Email.FromName,
		CompanyName:    cfg.Email.CompanyName,
	}
	dispatcher, err := email.NewDispatcher(dispatcherConfig, logger)
	if err != nil {
		logger.Fatal("Failed to initialize email dispatcher:", err)
	}

	// Wire services
	rateLimiter := services.NewRateLimiterService(rateLimitRepo, &services.RateLimiterConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		Window:            cfg.RateLimit.Window,
		KeyPrefix:         cfg.RateLimit.KeyPrefix,
	}, logger)

	tokenService := services.NewTokenService(tokenRepo, dispatcher, rateLimiter, services.TokenServiceConfig{
		Secret:       cfg.Token.Secret,
		TTL:          cfg.Token.TTL,
		MaxAttempts:  cfg.Token.IssueMaxAttempts,
		RetryBackoff: cfg.Token.IssueRetryBackoff,
		BaseURL:      cfg.Email.BaseURL,
	}, logger)

	// Start the expiry sweeper
	sweeper := workers.NewExpirySweeper(tokenRepo, cfg.Token.SweepInterval, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("Failed to start expiry sweeper:", err)
	}
	defer sweeper.Stop()

	hcSlice := []ports.HealthChecker{health.NewDBHealthChecker(database), health.NewRedisHealthChecker(redisClient)}

	// Create server configuration
	serverConfig := &httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		TLSCertFile:  cfg.Server.TLSCertFile,
		TLSKeyFile:   cfg.Server.TLSKeyFile,
	}

	deps := httpserver.ServerDeps{
		TokenService:   tokenService,
		RateLimiter:    rateLimiter,
		HealthCheckers: hcSlice,
	}
	server := httpserver.NewServer(serverConfig, logger, deps)

	// Start server in a goroutine so shutdown signals can be handled
	go func() {
		if err := server.Start(); err != nil {
			logger.Info("Server stopped:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
