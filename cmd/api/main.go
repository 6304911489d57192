package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/background"
	"github.com/secureshare/secureshare/internal/config"
	"github.com/secureshare/secureshare/internal/database"
	"github.com/secureshare/secureshare/internal/handlers"
	"github.com/secureshare/secureshare/internal/ratelimit"
	"github.com/secureshare/secureshare/internal/repositories"
	"github.com/secureshare/secureshare/internal/routes"
	"github.com/secureshare/secureshare/internal/services"
	"github.com/secureshare/secureshare/internal/session"
	pkghttp "github.com/secureshare/secureshare/pkg/http"
	pkglogger "github.com/secureshare/secureshare/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	verifyTokenRepo := repositories.NewVerificationTokenRepository(db)
	deviceRepo := repositories.NewTrustedDeviceRepository(db)

	// Pending-2FA sessions and rate-limit counters live in Redis when
	// configured, so multiple API instances share state. Without Redis both
	// fall back to in-process stores, fine for a single instance.
	var sessionStore session.Store
	var limiterStore ratelimit.Store
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		pingCancel()
		defer redisClient.Close()

		sessionStore = session.NewRedisStore(redisClient, "pending2fa")
		limiterStore = ratelimit.NewRedisStore(redisClient, "ratelimit")
		logger.Info("using redis for sessions and rate limiting", slog.String("addr", cfg.Redis.Addr))
	} else {
		sessionStore = session.NewMemoryStore()
		limiterStore = ratelimit.NewMemoryStore()
		logger.Info("using in-memory sessions and rate limiting")
	}

	// Auth primitives
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 150,
	})

	csrfManager := auth.NewCSRFTokenManager(cfg.Auth.CSRFTokenExpiry)
	defer csrfManager.Close()

	auditLogger := pkglogger.NewAuditLogger(logger)
	guard := ratelimit.NewGuard(limiterStore, nil, logger)

	// Email delivery
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.SESRegion,
		cfg.Email.FromAddress,
		cfg.Server.BaseURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	verificationService := services.NewVerificationService(
		userRepo, userRepo, verifyTokenRepo, revokeRepo,
		emailService, guard, logger, auditLogger,
	)
	authService := services.NewAuthService(
		userRepo, revokeRepo, deviceRepo, sessionStore, verificationService,
		tokenManager, totpManager, guard, timingDelay, logger, auditLogger,
	)
	twoFactorService := services.NewTwoFactorService(userRepo, deviceRepo, totpManager, logger, auditLogger)
	userService := services.NewUserService(
		userRepo, revokeRepo, deviceRepo, verificationService,
		guard, logger, auditLogger,
	)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieCfg := auth.CookieConfig{
		Domain: cfg.Server.CookieDomain,
		Secure: cfg.Server.IsProduction(),
	}

	authHandler := handlers.NewAuthHandler(
		authService, csrfManager, ipConfig, cookieCfg,
		cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry,
	)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, cookieCfg)
	accountHandler := handlers.NewAccountHandler(userService, cookieCfg)
	verificationHandler := handlers.NewVerificationHandler(verificationService)

	router := routes.NewRouter(authHandler, twoFactorHandler, accountHandler, verificationHandler, routes.Options{
		TokenManager:      tokenManager,
		CSRFManager:       csrfManager,
		RevocationChecker: revokeRepo,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Production:        cfg.Server.IsProduction(),
		Logger:            logger,
		Health:            db,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Background cleanup of dead tokens
	cleanupManager := background.NewCleanupManager(
		revokeRepo, verifyTokenRepo, deviceRepo,
		logger, cfg.Auth.CleanupInterval,
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
