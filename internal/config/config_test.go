package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoader_LoadConfig(t *testing.T) {
	tests := []struct {
		name              string
		envVars           map[string]string
		expectError       bool
		expectedThreshold int
		expectedLookback  time.Duration
		expectedCooldown  time.Duration
		expectedRecentMax int
	}{
		{
			name:              "Default values",
			envVars:           map[string]string{},
			expectError:       false,
			expectedThreshold: 5,
			expectedLookback:  30 * time.Second,
			expectedCooldown:  5 * time.Minute,
			expectedRecentMax: 10,
		},
		{
			name: "Custom values",
			envVars: map[string]string{
				"BURST_THRESHOLD":     "3",
				"BURST_LOOKBACK":      "10",
				"SUSPICIOUS_COOLDOWN": "60",
				"RECENT_REQUESTS_MAX": "6",
			},
			expectError:       false,
			expectedThreshold: 3,
			expectedLookback:  10 * time.Second,
			expectedCooldown:  time.Minute,
			expectedRecentMax: 6,
		},
		{
			name: "Invalid burst threshold",
			envVars: map[string]string{
				"BURST_THRESHOLD": "0",
			},
			expectError: true,
		},
		{
			name: "Invalid lookback",
			envVars: map[string]string{
				"BURST_LOOKBACK": "abc",
			},
			expectError: true,
		},
		{
			name: "Recent list smaller than threshold",
			envVars: map[string]string{
				"RECENT_REQUESTS_MAX": "2",
			},
			expectError: true,
		},
		{
			name: "Unsupported storage type",
			envVars: map[string]string{
				"STORAGE_TYPE": "etcd",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("POLICY_CONFIG_FILE", "/tmp/non_existent_policies.yaml")
			defer os.Unsetenv("POLICY_CONFIG_FILE")

			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}
			defer func() {
				for key := range tt.envVars {
					os.Unsetenv(key)
				}
			}()

			loader := NewConfigLoader()
			config, err := loader.LoadConfig()

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, config)
			} else {
				require.NoError(t, err)
				require.NotNil(t, config)

				assert.Equal(t, tt.expectedThreshold, config.Burst.Threshold)
				assert.Equal(t, tt.expectedLookback, config.Burst.Lookback)
				assert.Equal(t, tt.expectedCooldown, config.Burst.Cooldown)
				assert.Equal(t, tt.expectedRecentMax, config.Burst.MaxRecentItems)
				assert.Len(t, config.Policies, 7)
			}
		})
	}
}

func TestConfigLoader_LoadPolicies_YAML(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "policies.yaml")
	data := `
policies:
  income:
    perMinute: 2
    perHour: 10
    perDay: 50
  quiz:
    module: quiz
    perMinute: 3
    perHour: 20
    perDay: 100
    description: Quiz assistant
`
	require.NoError(t, os.WriteFile(tmpFile, []byte(data), 0644))

	os.Setenv("POLICY_CONFIG_FILE", tmpFile)
	defer os.Unsetenv("POLICY_CONFIG_FILE")

	loader := NewConfigLoader()
	policies, err := loader.LoadPolicies()
	require.NoError(t, err)

	assert.Len(t, policies, 2)

	income, exists := policies["income"]
	assert.True(t, exists)
	assert.Equal(t, "income", income.Module)
	assert.Equal(t, 2, income.PerMinute)
	assert.Equal(t, 10, income.PerHour)
	assert.Equal(t, 50, income.PerDay)

	quiz, exists := loader.Policies()["quiz"]
	assert.True(t, exists)
	assert.Equal(t, "Quiz assistant", quiz.Description)
}

func TestConfigLoader_Reload(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`
policies:
  income:
    perMinute: 2
    perHour: 10
    perDay: 50
`), 0644))

	os.Setenv("POLICY_CONFIG_FILE", tmpFile)
	defer os.Unsetenv("POLICY_CONFIG_FILE")

	loader := NewConfigLoader()
	_, err := loader.LoadConfig()
	require.NoError(t, err)
	assert.Len(t, loader.Policies(), 1)

	require.NoError(t, os.WriteFile(tmpFile, []byte(`
policies:
  income:
    perMinute: 4
    perHour: 10
    perDay: 50
  quiz:
    perMinute: 3
    perHour: 20
    perDay: 100
`), 0644))

	require.NoError(t, loader.Reload())
	policies := loader.Policies()
	assert.Len(t, policies, 2)
	assert.Equal(t, 4, policies["income"].PerMinute)
	assert.Equal(t, "quiz", policies["quiz"].Module)

	// Arquivo inválido mantém o erro visível para o chamador
	require.NoError(t, os.WriteFile(tmpFile, []byte("policies: {}"), 0644))
	assert.Error(t, loader.Reload())
}

func TestConfigLoader_LoadPolicies_JSON(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "policies.json")
	data := `{
		"policies": {
			"event": {"perMinute": 8, "perHour": 60, "perDay": 300}
		}
	}`
	require.NoError(t, os.WriteFile(tmpFile, []byte(data), 0644))

	os.Setenv("POLICY_CONFIG_FILE", tmpFile)
	defer os.Unsetenv("POLICY_CONFIG_FILE")

	loader := NewConfigLoader()
	policies, err := loader.LoadPolicies()
	require.NoError(t, err)

	event := policies["event"]
	assert.Equal(t, "event", event.Module)
	assert.Equal(t, 8, event.PerMinute)
}

func TestConfigLoader_LoadPolicies_FileNotFound(t *testing.T) {
	os.Setenv("POLICY_CONFIG_FILE", "/tmp/non_existent_policies.json")
	defer os.Unsetenv("POLICY_CONFIG_FILE")

	loader := NewConfigLoader()

	// Sem arquivo, usa as políticas embutidas
	policies, err := loader.LoadPolicies()
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies(), policies)
	assert.Equal(t, 3, policies["quiz"].PerMinute)
}

func TestConfigLoader_LoadPolicies_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		data     string
		errorMsg string
	}{
		{
			name:     "Invalid JSON",
			file:     "policies.json",
			data:     `{"policies": {"income": invalid json}}`,
			errorMsg: "failed to parse policy config file",
		},
		{
			name:     "Zero ceiling",
			file:     "policies.json",
			data:     `{"policies": {"income": {"perMinute": 0, "perHour": 10, "perDay": 50}}}`,
			errorMsg: "must be greater than 0",
		},
		{
			name:     "Minute ceiling above hour ceiling",
			file:     "policies.yaml",
			data:     "policies:\n  income:\n    perMinute: 20\n    perHour: 10\n    perDay: 50\n",
			errorMsg: "perMinute <= perHour <= perDay",
		},
		{
			name:     "No policies",
			file:     "policies.yaml",
			data:     "policies: {}\n",
			errorMsg: "defines no policies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpFile := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(tmpFile, []byte(tt.data), 0644))

			os.Setenv("POLICY_CONFIG_FILE", tmpFile)
			defer os.Unsetenv("POLICY_CONFIG_FILE")

			_, err := NewConfigLoader().LoadPolicies()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestConfigLoader_ValidateConfig(t *testing.T) {
	loader := NewConfigLoader()

	valid := func() *Config {
		return &Config{
			StorageType:        "memory",
			BurstThreshold:     5,
			BurstLookback:      30,
			SuspiciousCooldown: 300,
			RecentRequestsMax:  10,
			StoreTimeout:       5 * time.Second,
			RedisDB:            0,
		}
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "Valid config",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "Invalid cooldown",
			mutate:      func(c *Config) { c.SuspiciousCooldown = 0 },
			expectError: true,
			errorMsg:    "SUSPICIOUS_COOLDOWN must be greater than 0",
		},
		{
			name:        "Secret too long",
			mutate:      func(c *Config) { c.KeyHashSecret = string(make([]byte, 65)) },
			expectError: true,
			errorMsg:    "KEY_HASH_SECRET must be at most 64 bytes",
		},
		{
			name:        "Invalid Redis DB",
			mutate:      func(c *Config) { c.RedisDB = 16 },
			expectError: true,
			errorMsg:    "REDIS_DB must be between 0 and 15",
		},
		{
			name:        "Invalid store timeout",
			mutate:      func(c *Config) { c.StoreTimeout = 0 },
			expectError: true,
			errorMsg:    "STORE_TIMEOUT_MS must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)

			err := loader.validateConfig(config)

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetEnvWithDefault(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "Environment variable exists",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			expected:     "custom",
		},
		{
			name:         "Environment variable does not exist",
			key:          "NON_EXISTENT_VAR",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getEnvWithDefault(tt.key, tt.defaultValue)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
}
