package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc"

	"anti-spam/internal/config"
	"anti-spam/internal/domain"
	"anti-spam/internal/handler"
	"anti-spam/internal/logger"
	"anti-spam/internal/service"
	"anti-spam/internal/storage"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	antiSpamConfig, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	serverConfig := configLoader.GetConfig()

	appLogger := logger.NewLogger(serverConfig.LogLevel, serverConfig.LogFormat)
	appLogger.Info("Starting Anti-Spam API", map[string]interface{}{
		"version":      "1.0.0",
		"log_level":    serverConfig.LogLevel,
		"port":         serverConfig.ServerPort,
		"storage_type": serverConfig.StorageType,
	})

	// Storage escolhido por STORAGE_TYPE
	storageConfig := storage.BuildStorageConfigFromEnv(
		serverConfig.StorageType,
		serverConfig.RedisHost,
		serverConfig.RedisPort,
		serverConfig.RedisPassword,
		serverConfig.RedisDB,
		antiSpamConfig.MaxTrackedIPs,
	)
	reputationStorage, err := storage.NewStorageFactory().CreateStorage(storageConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to create storage", err, nil)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	antiSpamService, err := buildService(ctx, reputationStorage, *antiSpamConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to create anti-spam service", err, nil)
		// os.Exit não executa os defers
		stop()
		os.Exit(1)
	}
	defer reputationStorage.Close()
	antiSpamService.Start()
	defer antiSpamService.Stop()

	handlers := handler.NewHandlers(antiSpamService, appLogger, serverConfig.AdminToken, serverConfig.TrustedProxies)

	if serverConfig.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if gin.Mode() == gin.DebugMode {
		router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.TimeStamp.Format("2006/01/02 - 15:04:05"),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		}))
	}

	// CORS só quando há origens configuradas (painel administrativo)
	if len(serverConfig.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  serverConfig.CORSAllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Admin-Token", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	handlers.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", serverConfig.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": serverConfig.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed", err, nil)
			stop()
		}
	})

	appLogger.Info("Anti-Spam API is running", map[string]interface{}{
		"port": serverConfig.ServerPort,
		"endpoints": []string{
			"GET    /health",
			"GET    /metrics",
			"POST   /api/v1/spam/check",
			"POST   /contact            (spam guarded)",
			"GET    /admin/blacklist",
			"POST   /admin/blacklist",
			"DELETE /admin/blacklist/:ip",
			"GET    /admin/rate-limit/:ip",
			"GET    /admin/suspicious",
			"GET    /admin/config",
			"PATCH  /admin/config",
			"GET    /admin/stats",
			"POST   /admin/cleanup",
		},
		"rate_limit": map[string]interface{}{
			"max_requests":      antiSpamConfig.RateLimit.MaxRequests,
			"window_ms":         antiSpamConfig.RateLimit.Window.Milliseconds(),
			"block_duration_ms": antiSpamConfig.RateLimit.BlockDuration.Milliseconds(),
		},
		"admin_auth":      serverConfig.AdminToken != "",
		"trusted_proxies": serverConfig.TrustedProxies,
	})

	// Bloquear até receber sinal (ou falha do servidor)
	<-ctx.Done()
	appLogger.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
	}
	wg.Wait()

	appLogger.Info("Server stopped gracefully", nil)
}

// buildService cria o serviço e fecha o storage quando a criação falha
func buildService(
	ctx context.Context,
	store domain.ReputationStorage,
	cfg domain.AntiSpamConfig,
	appLogger domain.Logger,
) (*service.AntiSpamService, error) {
	antiSpamService, err := service.NewAntiSpamService(ctx, store, cfg, appLogger)
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			appLogger.Error("Failed to close storage", closeErr, nil)
		}
		return nil, err
	}
	return antiSpamService, nil
}
