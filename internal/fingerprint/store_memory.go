package fingerprint

import "sync"

// MemoryStore é um IdentityStore em memória (testes e chamadores sem disco)
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore cria um store vazio
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}
