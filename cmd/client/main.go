package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"admission-control/internal/advisory"
	"admission-control/internal/client"
	"admission-control/internal/domain"
	"admission-control/internal/fingerprint"
	"admission-control/internal/logger"
	"admission-control/internal/status"
)

// clientConfig reúne as variáveis de ambiente do client
type clientConfig struct {
	ServerURL       string
	IdentityDBPath  string
	AdvisoryMax     int
	SessionRotation time.Duration
	Timeout         time.Duration
	LogLevel        string
}

func loadClientConfig() clientConfig {
	// .env é opcional
	_ = godotenv.Load()

	return clientConfig{
		ServerURL:       getEnv("ADMISSION_SERVER_URL", "http://localhost:8080"),
		IdentityDBPath:  getEnv("IDENTITY_DB_PATH", ".admission/identity.db"),
		AdvisoryMax:     getEnvInt("ADVISORY_MAX_PER_MINUTE", advisory.DefaultMaxPerWindow),
		SessionRotation: time.Duration(getEnvInt("SESSION_ROTATION_HOURS", 24)) * time.Hour,
		Timeout:         time.Duration(getEnvInt("CLIENT_TIMEOUT_MS", 5000)) * time.Millisecond,
		LogLevel:        getEnv("LOG_LEVEL", "warn"),
	}
}

// Códigos de saída: 0 admitido, 1 erro, 2 rejeitado
const (
	exitAdmitted = 0
	exitError    = 1
	exitRejected = 2
)

const listFlag = "-list"

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: client <module> | client %s\n", listFlag)
		os.Exit(exitError)
	}

	cfg := loadClientConfig()
	if os.Args[1] == listFlag {
		os.Exit(listPolicies(cfg))
	}
	os.Exit(run(cfg, os.Args[1]))
}

func run(cfg clientConfig, module string) int {
	appLogger := logger.NewLoggerWithOutput(cfg.LogLevel, "text", os.Stderr)

	store, closeStore := openIdentityStore(cfg.IdentityDBPath, appLogger)
	defer closeStore()

	provider := fingerprint.NewProvider(store, appLogger, fingerprint.WithSessionRotation(cfg.SessionRotation))
	identity := provider.Identity()

	limiter := advisory.NewLimiter(provider, cfg.AdvisoryMax, appLogger)
	if !limiter.CanAttempt() {
		printView(advisoryRejection(module, limiter.RetryIn()))
		return exitRejected
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	view, code, err := client.NewWithTimeout(cfg.ServerURL, cfg.Timeout).Evaluate(ctx, identity, module)
	if err != nil {
		appLogger.Error("Admission request failed", err, map[string]interface{}{
			"server": cfg.ServerURL,
			"module": module,
		})
		return exitError
	}

	appLogger.Debug("Admission decision received", map[string]interface{}{
		"status":    code,
		"module":    module,
		"device_id": logger.MaskIdentifier(identity.DeviceID),
	})

	printView(view)
	if !view.Allowed {
		return exitRejected
	}
	return exitAdmitted
}

// listPolicies imprime os módulos configurados no servidor
func listPolicies(cfg clientConfig) int {
	appLogger := logger.NewLoggerWithOutput(cfg.LogLevel, "text", os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	policies, err := client.NewWithTimeout(cfg.ServerURL, cfg.Timeout).Policies(ctx)
	if err != nil {
		appLogger.Error("Failed to list policies", err, map[string]interface{}{
			"server": cfg.ServerURL,
		})
		return exitError
	}

	data, _ := json.MarshalIndent(policies, "", "  ")
	fmt.Println(string(data))
	return exitAdmitted
}

// openIdentityStore abre o SQLite; se não for possível (diretório ou arquivo somente leitura),
// segue com uma identidade temporária em memória
func openIdentityStore(path string, log domain.Logger) (domain.IdentityStore, func()) {
	store, err := fingerprint.NewSQLiteStore(path)
	if err != nil {
		log.Warn("Identity store unavailable, using temporary identity", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return fingerprint.NewMemoryStore(), func() {}
	}

	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close identity store", map[string]interface{}{"error": err.Error()})
		}
	}
}

// advisoryRejection monta a StatusView local quando o limite do client é atingido
func advisoryRejection(module string, wait time.Duration) domain.StatusView {
	now := time.Now()
	retry := status.RetryAfterSeconds(now.Add(wait), now)
	return domain.StatusView{
		Allowed:           false,
		Module:            module,
		Reason:            domain.RateLimited,
		Window:            domain.MinuteWindow,
		RetryAfterSeconds: &retry,
	}
}

func printView(view domain.StatusView) {
	data, _ := json.MarshalIndent(view, "", "  ")
	fmt.Println(string(data))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
