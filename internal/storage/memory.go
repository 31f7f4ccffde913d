package storage

import (
	"context"
	"sync"
	"time"

	"admission-control/internal/domain"
)

// memoryEntry guarda o valor e o instante de expiração de uma chave
type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = sem expiração
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStorage implementa a interface domain.CounterStore usando memória
type MemoryStorage struct {
	data   map[string]memoryEntry
	mutex  sync.RWMutex
	clock  domain.Clock
	logger domain.Logger
	stop   chan struct{}
	once   sync.Once
}

// NewMemoryStorage cria uma nova instância do MemoryStorage
func NewMemoryStorage(logger domain.Logger) *MemoryStorage {
	return NewMemoryStorageWithClock(logger, domain.SystemClock{})
}

// NewMemoryStorageWithClock cria o storage com um relógio injetável (testes)
func NewMemoryStorageWithClock(logger domain.Logger, clock domain.Clock) *MemoryStorage {
	storage := &MemoryStorage{
		data:   make(map[string]memoryEntry),
		clock:  clock,
		logger: logger,
		stop:   make(chan struct{}),
	}

	// Inicia goroutine de limpeza
	go storage.cleanup()

	if logger != nil {
		logger.Info("Memory storage initialized", nil)
	}

	return storage
}

// Get recupera o valor de uma chave; chaves expiradas são tratadas como ausentes
func (m *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()

	m.mutex.RLock()
	entry, exists := m.data[key]
	m.mutex.RUnlock()

	if !exists || entry.expired(m.clock.Now()) {
		m.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
		return "", false, nil
	}

	m.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return entry.value, true, nil
}

// Put grava o valor; ttl <= 0 grava sem expiração
func (m *MemoryStorage) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}

	m.mutex.Lock()
	m.data[key] = entry
	m.mutex.Unlock()

	m.logStorageOperation("PUT", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Delete remove uma chave
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()

	m.mutex.Lock()
	delete(m.data, key)
	m.mutex.Unlock()

	m.logStorageOperation("DELETE", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// TTL retorna o tempo restante de uma chave (0 se ausente ou sem expiração)
func (m *MemoryStorage) TTL(key string) time.Duration {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	entry, exists := m.data[key]
	if !exists || entry.expiresAt.IsZero() {
		return 0
	}
	remaining := entry.expiresAt.Sub(m.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Health verifica se o storage está saudável
func (m *MemoryStorage) Health(ctx context.Context) error {
	start := time.Now()

	m.mutex.RLock()
	dataSize := len(m.data)
	m.mutex.RUnlock()

	if m.logger != nil {
		m.logger.Debug("Memory storage health check", map[string]interface{}{
			"data_entries": dataSize,
		})
	}

	m.logStorageOperation("HEALTH", "check", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close para a limpeza e descarta os dados
func (m *MemoryStorage) Close() error {
	m.once.Do(func() { close(m.stop) })

	m.mutex.Lock()
	m.data = make(map[string]memoryEntry)
	m.mutex.Unlock()

	if m.logger != nil {
		m.logger.Info("Memory storage closed", nil)
	}
	return nil
}

// cleanup remove entradas expiradas periodicamente
func (m *MemoryStorage) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpiredEntries()
		case <-m.stop:
			return
		}
	}
}

// cleanupExpiredEntries remove entradas expiradas
func (m *MemoryStorage) cleanupExpiredEntries() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
			removed++
		}
	}

	if removed > 0 && m.logger != nil {
		m.logger.Debug("Memory storage cleanup completed", map[string]interface{}{
			"removed_entries": removed,
		})
	}
	return removed
}

// GetStats retorna estatísticas do storage em memória
func (m *MemoryStorage) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"data_entries": len(m.data),
		"type":         "memory",
	}
}

// logStorageOperation registra operações de storage
func (m *MemoryStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if m.logger == nil {
		return
	}

	if success {
		m.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		m.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}
