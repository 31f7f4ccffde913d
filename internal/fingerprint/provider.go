// Package fingerprint fornece a pseudo-identidade do chamador (deviceId + sessionId),
// persistida localmente e regenerada de forma transparente quando ausente ou corrompida.
package fingerprint

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"admission-control/internal/domain"
	"admission-control/internal/logger"
)

const (
	// DefaultStorageKey é a chave do registro no IdentityStore
	DefaultStorageKey = "admission_identity"

	// DefaultSessionRotation é a idade máxima de uma sessão
	DefaultSessionRotation = 24 * time.Hour
)

// Provider implementa o provedor de identidade
type Provider struct {
	store       domain.IdentityStore
	storageKey  string
	signals     SignalSource
	clock       domain.Clock
	logger      domain.Logger
	rotateAfter time.Duration

	mu sync.Mutex
	// identidade efêmera usada enquanto o store não aceitar leitura ou escrita;
	// só é descartada quando uma escrita volta a funcionar
	ephemeral *record
}

// Option configura o Provider
type Option func(*Provider)

// WithClock injeta o relógio
func WithClock(clock domain.Clock) Option {
	return func(p *Provider) { p.clock = clock }
}

// WithSignals substitui a fonte de sinais do ambiente
func WithSignals(source SignalSource) Option {
	return func(p *Provider) { p.signals = source }
}

// WithSessionRotation altera a idade máxima da sessão
func WithSessionRotation(d time.Duration) Option {
	return func(p *Provider) { p.rotateAfter = d }
}

// NewProvider cria um novo provedor de identidade
func NewProvider(store domain.IdentityStore, log domain.Logger, opts ...Option) *Provider {
	if log == nil {
		log = logger.Nop()
	}
	p := &Provider{
		store:       store,
		storageKey:  DefaultStorageKey,
		signals:     SystemSignals,
		clock:       domain.SystemClock{},
		logger:      log,
		rotateAfter: DefaultSessionRotation,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Identity retorna uma Fingerprint válida; nunca falha.
// O registro (possivelmente regenerado ou rotacionado) é persistido a cada chamada.
func (p *Provider) Identity() domain.Fingerprint {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.current()
	if err == nil {
		p.persist(rec)
	}
	return rec.fingerprint()
}

// RequestHistory retorna os timestamps locais de requisições da sessão atual
func (p *Provider) RequestHistory() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, _ := p.current()
	history := make([]time.Time, len(rec.Timestamps))
	copy(history, rec.Timestamps)
	return history
}

// SaveRequestHistory grava os timestamps no registro de identidade
func (p *Provider) SaveRequestHistory(history []time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.current()
	rec.Timestamps = append([]time.Time(nil), history...)
	if err != nil {
		p.ephemeral = &rec
		return err
	}
	return p.persist(rec)
}

// current lê o registro e aplica regeneração e rotação.
// Com erro de leitura, devolve a identidade efêmera junto do erro;
// após uma escrita falha, a identidade efêmera tem precedência sobre o store.
func (p *Provider) current() (record, error) {
	now := p.clock.Now()

	value, found, err := p.store.Get(p.storageKey)
	if err != nil {
		p.logger.Warn("Identity store unavailable, using ephemeral identity", map[string]interface{}{
			"error": err.Error(),
		})
		if p.ephemeral == nil {
			fresh := p.generate(now)
			p.ephemeral = &fresh
		}
		rec := p.rotate(*p.ephemeral, now)
		p.ephemeral = &rec
		return rec, err
	}

	if p.ephemeral != nil {
		rec := p.rotate(*p.ephemeral, now)
		p.ephemeral = &rec
		return rec, nil
	}

	switch state := decodeRecord(value, found).(type) {
	case validRecord:
		return p.rotate(state.record, now), nil
	case corruptRecord:
		p.logger.Warn("Corrupted identity record, regenerating", map[string]interface{}{
			"reason": state.reason,
		})
		return p.generate(now), nil
	default:
		p.logger.Debug("No identity record found, generating", nil)
		return p.generate(now), nil
	}
}

func (p *Provider) generate(now time.Time) record {
	return record{
		DeviceID:  DeriveDeviceID(p.signals()),
		SessionID: newSessionID(),
		CreatedAt: now,
	}
}

// rotate troca o sessionId e limpa o histórico quando a sessão expira; deviceId é preservado
func (p *Provider) rotate(rec record, now time.Time) record {
	if now.Sub(rec.CreatedAt) < p.rotateAfter {
		return rec
	}

	p.logger.Info("Rotating session", map[string]interface{}{
		"device_id":   logger.MaskIdentifier(rec.DeviceID),
		"session_age": now.Sub(rec.CreatedAt).String(),
	})
	return record{
		DeviceID:  rec.DeviceID,
		SessionID: newSessionID(),
		CreatedAt: now,
	}
}

// persist grava o registro; falhas são registradas e não propagadas ao chamador de Identity.
// Em caso de falha o registro passa a ser servido da memória.
func (p *Provider) persist(rec record) error {
	value, err := encodeRecord(rec)
	if err != nil {
		p.logger.Error("Failed to encode identity record", err, nil)
		p.ephemeral = &rec
		return err
	}
	if err := p.store.Set(p.storageKey, value); err != nil {
		if p.ephemeral == nil {
			p.logger.Warn("Identity store is read-only, using ephemeral identity", map[string]interface{}{
				"error": err.Error(),
			})
		}
		p.ephemeral = &rec
		return err
	}
	p.ephemeral = nil
	return nil
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}
