package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"admission-control/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Storage Configuration
	StorageType   string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	StoreTimeout  time.Duration

	// Burst Detection Configuration
	BurstThreshold     int
	BurstLookback      int // em segundos
	SuspiciousCooldown int // em segundos
	RecentRequestsMax  int

	// Key Derivation
	KeyHashSecret string

	// Server Configuration
	ServerPort string
	GinMode    string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Alerting
	AlertWebhookURLs []string

	// Policy Configuration File
	PolicyConfigFile string
}

// PoliciesFile representa a estrutura do arquivo de políticas (JSON ou YAML)
type PoliciesFile struct {
	Policies map[string]domain.Policy `json:"policies" yaml:"policies"`
}

// DefaultPolicies retorna as políticas embutidas usadas quando não há arquivo
func DefaultPolicies() map[string]domain.Policy {
	tabs := []string{"income", "expense", "asset", "liability", "summary"}
	policies := make(map[string]domain.Policy, len(tabs)+2)
	for _, tab := range tabs {
		policies[tab] = domain.Policy{
			Module:      tab,
			PerMinute:   2,
			PerHour:     10,
			PerDay:      50,
			Description: fmt.Sprintf("Data container %s", tab),
		}
	}
	policies["quiz"] = domain.Policy{Module: "quiz", PerMinute: 3, PerHour: 20, PerDay: 100, Description: "Quiz assistant"}
	policies["event"] = domain.Policy{Module: "event", PerMinute: 8, PerHour: 60, PerDay: 300, Description: "Event assistant"}
	return policies
}

// ConfigLoader implementa a interface domain.ConfigLoader
type ConfigLoader struct {
	config   *Config
	policies map[string]domain.Policy
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		policies: make(map[string]domain.Policy),
	}
}

// LoadConfig carrega as configurações do .env
func (c *ConfigLoader) LoadConfig() (*domain.AdmissionConfig, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	c.config = config

	policies, err := c.LoadPolicies()
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	return &domain.AdmissionConfig{
		Policies: policies,
		Burst: domain.BurstConfig{
			Threshold:      config.BurstThreshold,
			Lookback:       time.Duration(config.BurstLookback) * time.Second,
			Cooldown:       time.Duration(config.SuspiciousCooldown) * time.Second,
			MaxRecentItems: config.RecentRequestsMax,
		},
		KeyHashSecret: config.KeyHashSecret,
	}, nil
}

// LoadPolicies carrega as políticas por módulo do arquivo JSON ou YAML
func (c *ConfigLoader) LoadPolicies() (map[string]domain.Policy, error) {
	policyFile := c.getPolicyConfigFile()

	if _, err := os.Stat(policyFile); os.IsNotExist(err) {
		fmt.Printf("Warning: Policy config file %s not found, using built-in policies\n", policyFile)
		c.policies = DefaultPolicies()
		return c.policies, nil
	}

	data, err := os.ReadFile(policyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy config file: %w", err)
	}

	var file PoliciesFile
	switch strings.ToLower(filepath.Ext(policyFile)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse policy config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse policy config file: %w", err)
		}
	}

	if len(file.Policies) == 0 {
		return nil, fmt.Errorf("policy config file %s defines no policies", policyFile)
	}

	// Valida as políticas
	for module, policy := range file.Policies {
		if err := validatePolicy(module, policy); err != nil {
			return nil, err
		}
		// O nome do módulo vem da chave se não estiver presente
		if policy.Module == "" {
			policy.Module = module
			file.Policies[module] = policy
		}
	}

	c.policies = file.Policies
	return file.Policies, nil
}

// Reload recarrega todas as configurações
func (c *ConfigLoader) Reload() error {
	_, err := c.LoadConfig()
	return err
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// Policies retorna uma cópia das políticas carregadas
func (c *ConfigLoader) Policies() map[string]domain.Policy {
	policies := make(map[string]domain.Policy, len(c.policies))
	for module, policy := range c.policies {
		policies[module] = policy
	}
	return policies
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		StorageType:   strings.ToLower(getEnvWithDefault("STORAGE_TYPE", "memory")),
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		KeyHashSecret: getEnvWithDefault("KEY_HASH_SECRET", ""),

		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		AlertWebhookURLs: splitList(getEnvWithDefault("ALERT_WEBHOOK_URLS", "")),

		PolicyConfigFile: getEnvWithDefault("POLICY_CONFIG_FILE", "internal/config/policies.yaml"),
	}

	var err error
	if config.RedisDB, err = getIntEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if config.BurstThreshold, err = getIntEnv("BURST_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if config.BurstLookback, err = getIntEnv("BURST_LOOKBACK", 30); err != nil {
		return nil, err
	}
	if config.SuspiciousCooldown, err = getIntEnv("SUSPICIOUS_COOLDOWN", 300); err != nil {
		return nil, err
	}
	if config.RecentRequestsMax, err = getIntEnv("RECENT_REQUESTS_MAX", 10); err != nil {
		return nil, err
	}

	storeTimeoutMs, err := getIntEnv("STORE_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	config.StoreTimeout = time.Duration(storeTimeoutMs) * time.Millisecond

	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas
func (c *ConfigLoader) validateConfig(config *Config) error {
	if config.StorageType != "memory" && config.StorageType != "redis" {
		return fmt.Errorf("STORAGE_TYPE must be 'memory' or 'redis'")
	}

	if config.BurstThreshold <= 0 {
		return fmt.Errorf("BURST_THRESHOLD must be greater than 0")
	}

	if config.BurstLookback <= 0 {
		return fmt.Errorf("BURST_LOOKBACK must be greater than 0")
	}

	if config.SuspiciousCooldown <= 0 {
		return fmt.Errorf("SUSPICIOUS_COOLDOWN must be greater than 0")
	}

	// A lista precisa comportar o limiar de rajada
	if config.RecentRequestsMax < config.BurstThreshold {
		return fmt.Errorf("RECENT_REQUESTS_MAX must be at least BURST_THRESHOLD")
	}

	if config.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT_MS must be greater than 0")
	}

	// blake2b aceita chaves de até 64 bytes
	if len(config.KeyHashSecret) > 64 {
		return fmt.Errorf("KEY_HASH_SECRET must be at most 64 bytes")
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	return nil
}

// validatePolicy valida os tetos de uma política
func validatePolicy(module string, policy domain.Policy) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("policy module name cannot be empty")
	}
	if policy.PerMinute <= 0 || policy.PerHour <= 0 || policy.PerDay <= 0 {
		return fmt.Errorf("invalid ceilings for module %s: must be greater than 0", module)
	}
	if policy.PerMinute > policy.PerHour || policy.PerHour > policy.PerDay {
		return fmt.Errorf("invalid ceilings for module %s: perMinute <= perHour <= perDay required", module)
	}
	return nil
}

// getPolicyConfigFile retorna o caminho do arquivo de políticas
func (c *ConfigLoader) getPolicyConfigFile() string {
	if c.config != nil && c.config.PolicyConfigFile != "" {
		return c.config.PolicyConfigFile
	}
	return getEnvWithDefault("POLICY_CONFIG_FILE", "internal/config/policies.yaml")
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv lê uma variável inteira com valor padrão
func getIntEnv(key string, defaultValue int) (int, error) {
	value, err := strconv.Atoi(getEnvWithDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return value, nil
}

// splitList separa uma lista por vírgulas ignorando itens vazios
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
