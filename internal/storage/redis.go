package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-control/internal/domain"

	"github.com/go-redis/redis/v8"
)

// RedisStorage implementa a interface domain.CounterStore usando Redis
type RedisStorage struct {
	client redis.Cmdable
	logger domain.Logger
}

// NewRedisStorage cria uma nova instância do RedisStorage
func NewRedisStorage(host, port, password string, db int, logger domain.Logger) (*RedisStorage, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"host": host,
			"port": port,
			"db":   db,
		})
	}

	return &RedisStorage{
		client: rdb,
		logger: logger,
	}, nil
}

// NewRedisStorageWithClient usa um cliente já construído (ex.: cluster ou testes)
func NewRedisStorageWithClient(client redis.Cmdable, logger domain.Logger) *RedisStorage {
	return &RedisStorage{client: client, logger: logger}
}

// Get recupera o valor de uma chave
func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()

	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
			return "", false, nil
		}
		r.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return "", false, fmt.Errorf("%w: failed to get key %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return result, true, nil
}

// Put grava o valor com TTL (SET key value EX ttl)
func (r *RedisStorage) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()

	if ttl < 0 {
		ttl = 0
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logStorageOperation("PUT", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("%w: failed to set key %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	r.logStorageOperation("PUT", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Delete remove uma chave
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logStorageOperation("DELETE", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("%w: failed to delete key %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	r.logStorageOperation("DELETE", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (r *RedisStorage) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("Redis health check failed: %w", err)
	}

	r.logStorageOperation("HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStorage) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			if r.logger != nil {
				r.logger.Error("Failed to close Redis connection", err, nil)
			}
			return err
		}
		if r.logger != nil {
			r.logger.Info("Redis connection closed", nil)
		}
	}
	return nil
}

// storageEventLogger é implementado pelo logger estruturado
type storageEventLogger interface {
	LogStorageEvent(operation string, key string, success bool, latency float64, err error)
}

// logStorageOperation registra operações de storage
func (r *RedisStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if r.logger == nil {
		return
	}

	if structured, ok := r.logger.(storageEventLogger); ok {
		structured.LogStorageEvent(operation, key, success, latency, err)
		return
	}

	if success {
		r.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		r.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}
