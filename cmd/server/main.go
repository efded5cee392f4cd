package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/api"
	"trustlayer-backend-go/internal/config"
	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/middleware"
	"trustlayer-backend-go/internal/models"
	"trustlayer-backend-go/internal/storage"
)

func main() {
	// --- 1. Initialize Logger (Zap) ---
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Zap logger initialized successfully.")

	// --- 2. Load Application Configuration ---
	appConfig, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to load application configuration", zap.Error(err))
	}
	zapLogger.Info("Application configuration loaded successfully.")

	// --- 3. Initialize Storage ---
	secretRepo, err := storage.NewFileSecretRepository(appConfig.SecretStoreDir)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize secret store", zap.Error(err), zap.String("dir", appConfig.SecretStoreDir))
	}

	var auditRepo storage.AuditRepository
	var auditFile *storage.FileAuditRepository
	if appConfig.AuditLogFile != "" {
		auditFile, err = storage.NewFileAuditRepository(appConfig.AuditLogFile)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to open audit log file", zap.Error(err), zap.String("path", appConfig.AuditLogFile))
		}
		auditRepo = auditFile
		defer auditFile.Close()
	}
	zapLogger.Info("Storage initialized successfully.")

	// --- 4. Initialize Services ---
	telemetryService := core.NewTelemetryService(zapLogger, core.TelemetryOptions{
		MaxLogEntries:       appConfig.LogMaxEntries,
		MaxSamplesPerMetric: appConfig.MetricMaxSamples,
		MetricRetention:     appConfig.MetricRetention(),
	})
	if appConfig.AlertWebhookURL != "" {
		telemetryService.RegisterChannel("webhook", core.NewWebhookChannel(appConfig.AlertWebhookURL, nil))
		zapLogger.Info("Webhook alert channel registered.")
	}

	auditService := core.NewAuditService(auditRepo, zapLogger)

	secretService, err := core.NewSecretService(secretRepo, auditService, telemetryService, zapLogger, appConfig.MasterKey(), appConfig.CacheTTL())
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize SecretService", zap.Error(err))
	}

	configService, err := core.NewConfigService(secretService, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize ConfigService", zap.Error(err))
	}

	credentialService, err := core.NewCredentialService(secretService, telemetryService, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize CredentialService", zap.Error(err))
	}
	zapLogger.Info("Core services initialized successfully.")

	// --- 5. Warm the API key cache ---
	// Must complete before the server accepts traffic: key validation is
	// cache-only.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelWarm()
	loaded, err := credentialService.WarmCache(warmCtx)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to warm API key cache", zap.Error(err))
	}
	zapLogger.Info("API key cache warmed.", zap.Int("keys_loaded", loaded))

	// --- 6. Setup Gin HTTP Engine ---
	if strings.ToLower(appConfig.GinMode) == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()

	// --- 7. Apply Global Middleware (Order is important) ---
	router.Use(middleware.RequestLogger(zapLogger, telemetryService))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.SecurityHeaders(nil))
	router.Use(middleware.CORSMiddleware(appConfig.ClientURL))
	zapLogger.Info("Global middleware applied.", zap.String("clientURL", appConfig.ClientURL))

	authMW := middleware.NewAuthMiddleware(credentialService, telemetryService, zapLogger, []byte(appConfig.JWTSigningKey))
	rateLimiter := middleware.NewRateLimiter(credentialService, telemetryService, models.RateLimit{
		WindowMs: int64(appConfig.RateLimitWindowMs),
		Requests: appConfig.RateLimitRequests,
	})

	// --- 8. Setup API Routes ---
	api.SetupRoutes(router, zapLogger,
		secretService, auditService, configService, credentialService, telemetryService,
		authMW, rateLimiter,
	)

	// --- 9. Background Sweeps ---
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rotated, err := secretService.RotateDueSecrets(sweepCtx)
		if err != nil {
			zapLogger.Warn("Rotation sweep failed", zap.Error(err))
			return
		}
		if rotated > 0 {
			zapLogger.Info("Rotation sweep completed", zap.Int("rotated", rotated))
		}
	}); err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to schedule rotation sweep", zap.Error(err))
	}
	if _, err := scheduler.AddFunc("@every 5m", func() {
		secretService.SweepCache()
		telemetryService.SweepRetention()
		rateLimiter.SweepCounters()
	}); err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to schedule maintenance sweep", zap.Error(err))
	}
	scheduler.Start()
	zapLogger.Info("Background sweeps scheduled.")

	// --- 10. Configure and Start HTTP Server ---
	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zapLogger.Info("Starting HTTP server...", zap.String("address", serverAddr), zap.String("ginMode", gin.Mode()))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// --- 11. Graceful Shutdown Handling ---
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quitChannel
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Stop the sweeps first so no rotation runs while connections drain.
	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	zapLogger.Info("Background sweeps stopped.")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	zapLogger.Info("Attempting graceful shutdown of HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Fatal("Server forced to shutdown due to error during graceful shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exiting gracefully.")
}
