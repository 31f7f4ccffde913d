package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"admission-control/internal/alert"
	"admission-control/internal/config"
	"admission-control/internal/handler"
	"admission-control/internal/logger"
	"admission-control/internal/service"
	"admission-control/internal/storage"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	cfg, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Obter configurações do servidor
	serverConfig := configLoader.GetConfig()

	// Inicializar logger
	appLogger := logger.NewLogger(serverConfig.LogLevel, serverConfig.LogFormat)
	appLogger.Info("Starting Admission Control API", map[string]interface{}{
		"version":   "1.0.0",
		"log_level": serverConfig.LogLevel,
		"port":      serverConfig.ServerPort,
		"modules":   len(cfg.Policies),
	})

	// Inicializar Counter Store (memória ou Redis)
	storageConfig := storage.BuildStorageConfigFromEnv(
		serverConfig.StorageType,
		serverConfig.RedisHost,
		serverConfig.RedisPort,
		serverConfig.RedisPassword,
		serverConfig.RedisDB,
	)
	counterStore, err := storage.NewStorageFactory().CreateStorage(storageConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to create counter store", err, map[string]interface{}{
			"storage_type": serverConfig.StorageType,
		})
		os.Exit(1)
	}

	// Alertas operacionais (no-op sem URLs configuradas)
	notifier := alert.NewWebhookNotifier(serverConfig.AlertWebhookURLs, serverConfig.StoreTimeout, appLogger)

	// Inicializar motor de políticas
	admissionService, err := service.NewAdmissionService(counterStore, cfg, appLogger, service.WithNotifier(notifier))
	if err != nil {
		appLogger.Error("Failed to create admission service", err, nil)
		os.Exit(1)
	}

	// Inicializar handlers
	handlers := handler.NewHandlers(admissionService, counterStore, appLogger,
		handler.WithStoreTimeout(serverConfig.StoreTimeout),
		handler.WithAlertStats(notifier.Stats),
	)

	// Configurar Gin
	if serverConfig.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
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

	handlers.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", serverConfig.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": serverConfig.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP recarrega o arquivo de políticas sem reiniciar o servidor
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := configLoader.Reload(); err != nil {
				appLogger.Error("Failed to reload policies, keeping current ones", err, nil)
				continue
			}
			if err := admissionService.UpdatePolicies(configLoader.Policies()); err != nil {
				appLogger.Error("Failed to apply reloaded policies", err, nil)
			}
		}
	}()

	appLogger.Info("Admission Control API is running", map[string]interface{}{
		"port":         serverConfig.ServerPort,
		"storage_type": serverConfig.StorageType,
		"alerts":       notifier.Enabled(),
		"endpoints": []string{
			"GET  /health",
			"GET  /metrics",
			"POST /v1/admission",
			"GET  /v1/policies",
			"ANY  /v1/modules/:module/*path (admission controlled)",
			"GET  /admin/status",
			"POST /admin/reset",
		},
		"burst": map[string]interface{}{
			"threshold": cfg.Burst.Threshold,
			"lookback":  cfg.Burst.Lookback.String(),
			"cooldown":  cfg.Burst.Cooldown.String(),
		},
	})

	<-quit
	signal.Stop(reload)
	appLogger.Info("Shutting down server...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
	}
	if err := notifier.Wait(ctx); err != nil {
		appLogger.Warn("Pending alerts dropped on shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := counterStore.Close(); err != nil {
		appLogger.Error("Failed to close counter store", err, nil)
	}

	appLogger.Info("Server stopped gracefully", nil)
}
