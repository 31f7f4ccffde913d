package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageFactory_CreateStorage(t *testing.T) {
	tests := []struct {
		name         string
		config       *StorageConfig
		expectError  bool
		expectedType string
	}{
		{
			name: "Should create Memory storage successfully",
			config: &StorageConfig{
				Type: MemoryStorageType,
			},
			expectError:  false,
			expectedType: "*storage.MemoryStorage",
		},
		{
			name:        "Should return error for nil config",
			config:      nil,
			expectError: true,
		},
		{
			name: "Should return error for unsupported type",
			config: &StorageConfig{
				Type: StorageType("unsupported"),
			},
			expectError: true,
		},
		{
			name: "Should return error for Redis with nil config",
			config: &StorageConfig{
				Type:        RedisStorageType,
				RedisConfig: nil,
			},
			expectError: true,
		},
		{
			name: "Should return error for Redis with empty host",
			config: &StorageConfig{
				Type:        RedisStorageType,
				RedisConfig: &RedisConfig{Host: "", Port: "6379"},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewStorageFactory()
			testLogger := logger.NewLogger("debug", "text")

			storage, err := factory.CreateStorage(tt.config, testLogger)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, storage)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, storage)
			assert.Equal(t, tt.expectedType, typeName(storage))
			assert.NoError(t, storage.Close())
		})
	}
}

func TestStorageFactory_ValidateConfig(t *testing.T) {
	factory := NewStorageFactory()

	tests := []struct {
		name        string
		config      *StorageConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "Valid memory config",
			config:      &StorageConfig{Type: MemoryStorageType},
			expectError: false,
		},
		{
			name: "Valid Redis config",
			config: &StorageConfig{
				Type:        RedisStorageType,
				RedisConfig: &RedisConfig{Host: "localhost", Port: "6379", Database: 0},
			},
			expectError: false,
		},
		{
			name: "Redis without port",
			config: &StorageConfig{
				Type:        RedisStorageType,
				RedisConfig: &RedisConfig{Host: "localhost"},
			},
			expectError: true,
			errorMsg:    "Redis port cannot be empty",
		},
		{
			name: "Redis invalid database",
			config: &StorageConfig{
				Type:        RedisStorageType,
				RedisConfig: &RedisConfig{Host: "localhost", Port: "6379", Database: 16},
			},
			expectError: true,
			errorMsg:    "Redis database must be between 0 and 15",
		},
		{
			name:        "Unsupported type names the valid ones",
			config:      &StorageConfig{Type: StorageType("etcd")},
			expectError: true,
			errorMsg:    "unsupported storage type: etcd (expected memory or redis)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := factory.ValidateConfig(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildStorageConfigFromEnv(t *testing.T) {
	redisConfig := BuildStorageConfigFromEnv("REDIS", "cache", "6380", "secret", 2)
	assert.Equal(t, RedisStorageType, redisConfig.Type)
	require.NotNil(t, redisConfig.RedisConfig)
	assert.Equal(t, "cache", redisConfig.RedisConfig.Host)
	assert.Equal(t, "6380", redisConfig.RedisConfig.Port)
	assert.Equal(t, 2, redisConfig.RedisConfig.Database)

	memoryConfig := BuildStorageConfigFromEnv("memory", "cache", "6380", "", 0)
	assert.Equal(t, MemoryStorageType, memoryConfig.Type)
	assert.Nil(t, memoryConfig.RedisConfig)
}

func TestRedisStorage_UnreachableServerIsStoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	storage := NewRedisStorageWithClient(client, logger.NewLogger("error", "text"))
	ctx := context.Background()

	_, found, err := storage.Get(ctx, "admission:abc:minute")
	require.Error(t, err)
	assert.False(t, found)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	err = storage.Put(ctx, "admission:abc:minute", "1", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	err = storage.Delete(ctx, "admission:abc:minute")
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	assert.Error(t, storage.Health(ctx))
}

// TestRedisStorage_Integration roda contra um Redis real quando REDIS_TEST_ADDR está definido
func TestRedisStorage_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	storage := NewRedisStorageWithClient(client, logger.NewLogger("error", "text"))
	defer storage.Close()

	ctx := context.Background()
	key := "admission:integration:minute"

	require.NoError(t, storage.Put(ctx, key, "3", time.Minute))

	value, found, err := storage.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", value)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)

	require.NoError(t, storage.Delete(ctx, key))
	_, found, err = storage.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *MemoryStorage:
		return "*storage.MemoryStorage"
	case *RedisStorage:
		return "*storage.RedisStorage"
	default:
		return "unknown"
	}
}
