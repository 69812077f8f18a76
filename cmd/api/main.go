package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pulsepoll/voteguard/internal/auth"
	"github.com/pulsepoll/voteguard/internal/background"
	"github.com/pulsepoll/voteguard/internal/config"
	"github.com/pulsepoll/voteguard/internal/database"
	"github.com/pulsepoll/voteguard/internal/handlers"
	"github.com/pulsepoll/voteguard/internal/ipintel"
	middlewareCustom "github.com/pulsepoll/voteguard/internal/middleware"
	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/repositories"
	"github.com/pulsepoll/voteguard/internal/routes"
	"github.com/pulsepoll/voteguard/internal/services"
	"github.com/pulsepoll/voteguard/internal/store"
	"github.com/pulsepoll/voteguard/pkg/crypto"
	pkghttp "github.com/pulsepoll/voteguard/pkg/http"
	pkglogger "github.com/pulsepoll/voteguard/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize TTL store
	var ttlStore store.TTLStore
	var memStore *store.MemoryStore
	if cfg.Store.RedisURL != "" {
		redisStore, err := store.NewRedisStore(cfg.Store.RedisURL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisStore.Close()
		ttlStore = redisStore
	} else {
		logger.Warn("REDIS_URL not set, using in-memory store (single node only)")
		memStore = store.NewMemoryStore()
		ttlStore = memStore
	}

	// Derive key material
	keys, err := crypto.DeriveKeySet([]byte(cfg.Integrity.EncryptionMaster), []byte(cfg.Integrity.LookupSaltSecret))
	if err != nil {
		logger.Error("failed to derive key material", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	pollRepo := repositories.NewPollRepository(db)
	voteRepo := repositories.NewVoteRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Operator alerting: SES when a recipient is configured, structured
	// log otherwise.
	var alertService services.AlertService
	if cfg.Alert.ToAddress != "" {
		sesAlerts, err := services.NewAWSSESAlertService(cfg.Alert.AWSRegion, cfg.Alert.FromAddress, cfg.Alert.ToAddress, logger)
		if err != nil {
			logger.Error("failed to initialize alert service", slog.Any("error", err))
			os.Exit(1)
		}
		alertService = sesAlerts
	} else {
		alertService = services.NewLogAlertService(logger)
	}

	accountService := services.NewAccountService(accountRepo, keys, alertService, logger)

	// Code delivery for sms/email challenges
	var codeSender services.CodeSender
	if cfg.Alert.FromAddress != "" {
		codeSender, err = services.NewSESCodeSender(cfg.Alert.AWSRegion, cfg.Alert.FromAddress, accountService, logger)
		if err != nil {
			logger.Error("failed to initialize code sender", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		codeSender = services.NewLogCodeSender(logger)
	}

	// Captcha verification
	var captcha services.CaptchaVerifier
	if cfg.Integrity.CaptchaVerifyURL != "" {
		captcha = services.NewHTTPCaptchaVerifier(cfg.Integrity.CaptchaVerifyURL, cfg.Integrity.CaptchaSecret, logger)
	} else {
		if cfg.Server.Env == "production" {
			logger.Error("CAPTCHA_VERIFY_URL is required in production")
			os.Exit(1)
		}
		logger.Warn("CAPTCHA_VERIFY_URL not set, using stub captcha verifier")
		captcha = services.StubCaptchaVerifier{}
	}

	// IP intelligence
	intelProvider := ipintel.NewStaticProvider()

	// Attempt tokens and challenge machinery
	tokenManager := auth.NewAttemptTokenManager(cfg.Integrity.AttemptTokenSecret, cfg.Integrity.AttemptTokenTTL)
	otpManager := auth.NewOTPManager(cfg.Integrity.HashSecret)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    100,
		RandomDelayMs:  100,
		DelayOnSuccess: true,
	})

	// Initialize services
	bands := models.BandThresholds{
		Medium:   cfg.Integrity.BandMedium,
		High:     cfg.Integrity.BandHigh,
		Critical: cfg.Integrity.BandCritical,
	}
	riskService := services.NewRiskService(bands, services.DefaultRiskWeights())
	dedupService := services.NewDedupService(ttlStore, cfg.Integrity, logger)
	challengeService := services.NewChallengeService(ttlStore, otpManager, captcha, codeSender, timingDelay, cfg.Integrity, logger)
	voteService := services.NewVoteService(
		riskService,
		dedupService,
		challengeService,
		accountService,
		pollRepo,
		voteRepo,
		intelProvider,
		tokenManager,
		auditLogger,
		cfg.Integrity,
		logger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	voteHandler := handlers.NewVoteHandler(voteService, ipConfig)
	accountHandler := handlers.NewAccountHandler(accountService)
	pollHandler := handlers.NewPollHandler(voteRepo)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, voteHandler, accountHandler, pollHandler, cfg.Server.TrustedProxies)

	// Health check with database and store
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}
		if pinger, ok := ttlStore.(store.Pinger); ok {
			if err := pinger.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","store":"down"}`))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background tasks
	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	var sweeper *background.SweepManager
	if memStore != nil {
		sweeper = background.NewSweepManager(memStore, logger, 1*time.Minute)
		go sweeper.Start(backgroundCtx)
	}

	var rotator *background.RotationManager
	if cfg.Integrity.StandbyEncryption != "" {
		standbyKeys, err := crypto.DeriveKeySet([]byte(cfg.Integrity.StandbyEncryption), []byte(cfg.Integrity.LookupSaltSecret))
		if err != nil {
			logger.Error("failed to derive standby key", slog.Any("error", err))
			os.Exit(1)
		}
		rotator = background.NewRotationManager(
			accountRepo,
			keys.EncryptionKey,
			standbyKeys.EncryptionKey,
			cfg.Integrity.RotationTargetVersion,
			auditLogger,
			alertService,
			logger,
			cfg.Integrity.RotationInterval,
		)
		go rotator.Start(backgroundCtx)
	}

	// Start server
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

	backgroundCancel()
	if sweeper != nil {
		sweeper.Stop()
	}
	if rotator != nil {
		rotator.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
