package domain

import (
	"context"
	"time"
)

// CounterStore define a interface para o armazenamento de contadores com TTL
// Implementa o Strategy Pattern (memória ou Redis)
type CounterStore interface {
	// Get recupera o valor de uma chave; found é false se a chave não existe ou expirou
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Put grava o valor com TTL próprio por chave (last write wins)
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete remove uma chave
	Delete(ctx context.Context, key string) error

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// AdmissionService define a interface do motor de políticas
type AdmissionService interface {
	// Evaluate decide se a chamada deve ser admitida; nunca retorna erro,
	// falhas são rejeições tipadas
	Evaluate(ctx context.Context, identity Fingerprint, module string) Decision

	// Status retorna o estado atual dos contadores
	Status(ctx context.Context, identity Fingerprint, module string) (*AdmissionStatus, error)

	// Reset limpa os contadores de uma identidade em um módulo
	Reset(ctx context.Context, identity Fingerprint, module string) error

	// Policy retorna a política de um módulo
	Policy(module string) (Policy, bool)

	// Policies retorna todas as políticas configuradas
	Policies() []Policy
}

// IdentityStore é a persistência local (síncrona) do chamador
type IdentityStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Notifier recebe alertas operacionais (best-effort, não bloqueante)
type Notifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent descreve um problema operacional
type AlertEvent struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Module    string                 `json:"module,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Clock fornece o horário atual
type Clock interface {
	Now() time.Time
}

// SystemClock usa time.Now
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}

// ConfigLoader define a interface para carregamento de configurações
type ConfigLoader interface {
	LoadConfig() (*AdmissionConfig, error)
	LoadPolicies() (map[string]Policy, error)
	Reload() error
}
