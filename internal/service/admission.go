package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/logger"
)

// AdmissionService implementa o motor de políticas do controle de admissão.
// Não há lock entre leitura e escrita dos contadores: requisições concorrentes
// da mesma identidade podem ultrapassar o teto em até N-1.
type AdmissionService struct {
	store    domain.CounterStore
	config   *domain.AdmissionConfig
	keys     *KeyDeriver
	clock    domain.Clock
	logger   domain.Logger
	notifier domain.Notifier

	// policies pode ser substituído em tempo de execução (SIGHUP)
	policiesMu sync.RWMutex
	policies   map[string]domain.Policy

	statsMu sync.Mutex
	stats   map[string]int64
}

// Option configura dependências opcionais do serviço
type Option func(*AdmissionService)

// WithClock injeta o relógio (testes)
func WithClock(clock domain.Clock) Option {
	return func(s *AdmissionService) { s.clock = clock }
}

// WithNotifier injeta o destino de alertas operacionais
func WithNotifier(notifier domain.Notifier) Option {
	return func(s *AdmissionService) { s.notifier = notifier }
}

// NewAdmissionService cria uma nova instância do serviço
func NewAdmissionService(
	store domain.CounterStore,
	config *domain.AdmissionConfig,
	log domain.Logger,
	opts ...Option,
) (*AdmissionService, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("admission config cannot be nil")
	}

	keys, err := NewKeyDeriver(config.KeyHashSecret)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.Nop()
	}

	s := &AdmissionService{
		store:  store,
		config: config,
		keys:   keys,
		clock:  domain.SystemClock{},
		logger: log,
		stats:  make(map[string]int64),
	}
	s.policies = copyPolicies(config.Policies)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Evaluate decide se a chamada é admitida.
// Ordem fixa: módulo, identidade, minuto, hora, dia, rajada; o primeiro motivo encontrado é o reportado.
func (s *AdmissionService) Evaluate(ctx context.Context, identity domain.Fingerprint, module string) domain.Decision {
	decision := s.evaluate(ctx, identity, module)
	s.record(decision)
	return decision
}

func (s *AdmissionService) evaluate(ctx context.Context, identity domain.Fingerprint, module string) domain.Decision {
	log := s.logger.WithContext(ctx)

	policy, ok := s.Policy(module)
	if !ok {
		log.Debug("Unknown module", map[string]interface{}{"module": module})
		return domain.Reject(module, domain.Rejection{Reason: domain.UnknownModule, Cause: domain.ErrPolicyNotFound})
	}

	if !identity.Valid() {
		log.Debug("Invalid identity", map[string]interface{}{
			"module":         module,
			"has_device_id":  identity.DeviceID != "",
			"has_session_id": identity.SessionID != "",
		})
		return domain.Reject(module, domain.Rejection{Reason: domain.InvalidIdentity, Cause: domain.ErrInvalidIdentity})
	}

	now := s.clock.Now()
	rateKey := s.keys.Derive(identity.DeviceID, identity.SessionID, module)
	limits := policy.Limits()

	// Tetos por janela: minuto, hora, dia
	counters := make(map[domain.Window]windowCounter, 3)
	for _, window := range domain.Windows() {
		counter, err := s.readCounter(ctx, rateKey, window, now)
		if err != nil {
			return s.storeUnavailable(ctx, module, rateKey, err)
		}

		if counter.Count >= limits.Get(window) {
			resetAt := counter.resetTime(window, now)
			log.Info("Rate limit exceeded", map[string]interface{}{
				"module":   module,
				"window":   window,
				"count":    counter.Count,
				"limit":    limits.Get(window),
				"reset_at": resetAt,
			})
			return domain.Reject(module, domain.Rejection{
				Reason:  domain.RateLimited,
				Window:  window,
				ResetAt: resetAt,
			})
		}
		counters[window] = counter
	}

	// Detector de rajada
	cooldownUntil, cooling, err := s.readCooldown(ctx, rateKey, now)
	if err != nil {
		return s.storeUnavailable(ctx, module, rateKey, err)
	}
	if cooling {
		return domain.Reject(module, domain.Rejection{Reason: domain.SuspiciousActivity, ResetAt: cooldownUntil})
	}

	recent, err := s.readRecent(ctx, rateKey, now)
	if err != nil {
		return s.storeUnavailable(ctx, module, rateKey, err)
	}

	burst := s.config.Burst
	// A requisição candidata conta para o limiar
	if len(recent)+1 >= burst.Threshold {
		resetAt := now.Add(burst.Cooldown)
		if err := s.store.Put(ctx, cooldownKey(rateKey), strconv.FormatInt(resetAt.UnixMilli(), 10), burst.Cooldown); err != nil {
			// A rejeição continua valendo mesmo sem o bloqueio persistido
			log.Error("Failed to persist cooldown", err, map[string]interface{}{"module": module})
		}

		log.Warn("Suspicious activity detected", map[string]interface{}{
			"module":          module,
			"recent_requests": len(recent),
			"lookback":        burst.Lookback.String(),
			"reset_at":        resetAt,
		})
		return domain.Reject(module, domain.Rejection{Reason: domain.SuspiciousActivity, ResetAt: resetAt})
	}

	// Admissão: incrementa as três janelas e registra o timestamp
	var left domain.Quota
	for _, window := range domain.Windows() {
		counter := counters[window]
		counter.Count++
		if counter.ResetAt == 0 {
			counter.ResetAt = now.Add(window.Duration()).UnixMilli()
		}

		ttl := ttlUntil(time.UnixMilli(counter.ResetAt), now)
		if err := s.store.Put(ctx, windowKey(rateKey, window), encodeWindowCounter(counter), ttl); err != nil {
			return s.storeUnavailable(ctx, module, rateKey, err)
		}
		left.Set(window, remaining(limits.Get(window), counter.Count))
	}

	recent = capRecent(append(recent, now.UnixMilli()), burst.MaxRecentItems)
	if err := s.store.Put(ctx, recentKey(rateKey), encodeRecent(recent), burst.Lookback); err != nil {
		return s.storeUnavailable(ctx, module, rateKey, err)
	}

	log.Debug("Request admitted", map[string]interface{}{
		"module":    module,
		"remaining": left,
	})

	return domain.Admit(module, left, limits)
}

// Status retorna o estado atual dos contadores sem modificá-los
func (s *AdmissionService) Status(ctx context.Context, identity domain.Fingerprint, module string) (*domain.AdmissionStatus, error) {
	policy, ok := s.Policy(module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPolicyNotFound, module)
	}
	if !identity.Valid() {
		return nil, domain.ErrInvalidIdentity
	}

	now := s.clock.Now()
	rateKey := s.keys.Derive(identity.DeviceID, identity.SessionID, module)
	limits := policy.Limits()

	status := &domain.AdmissionStatus{Module: module, Limits: limits}
	for _, window := range domain.Windows() {
		counter, err := s.readCounter(ctx, rateKey, window, now)
		if err != nil {
			return nil, fmt.Errorf("failed to get status: %w", err)
		}
		status.Counts.Set(window, counter.Count)
		status.Remaining.Set(window, remaining(limits.Get(window), counter.Count))
	}

	recent, err := s.readRecent(ctx, rateKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	status.RecentRequests = len(recent)

	until, cooling, err := s.readCooldown(ctx, rateKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	if cooling {
		status.CooldownUntil = &until
	}

	return status, nil
}

// Reset limpa todos os contadores de uma identidade em um módulo
func (s *AdmissionService) Reset(ctx context.Context, identity domain.Fingerprint, module string) error {
	if _, ok := s.Policy(module); !ok {
		return fmt.Errorf("%w: %s", domain.ErrPolicyNotFound, module)
	}
	if !identity.Valid() {
		return domain.ErrInvalidIdentity
	}

	rateKey := s.keys.Derive(identity.DeviceID, identity.SessionID, module)

	keys := []string{recentKey(rateKey), cooldownKey(rateKey)}
	for _, window := range domain.Windows() {
		keys = append(keys, windowKey(rateKey, window))
	}
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to reset key: %w", err)
		}
	}

	s.logger.WithContext(ctx).Info("Admission counters reset", map[string]interface{}{
		"module":    module,
		"device_id": logger.MaskIdentifier(identity.DeviceID),
	})
	return nil
}

// Policy retorna a política de um módulo
func (s *AdmissionService) Policy(module string) (domain.Policy, bool) {
	s.policiesMu.RLock()
	defer s.policiesMu.RUnlock()

	policy, ok := s.policies[module]
	return policy, ok
}

// Policies retorna todas as políticas ordenadas por módulo
func (s *AdmissionService) Policies() []domain.Policy {
	s.policiesMu.RLock()
	policies := make([]domain.Policy, 0, len(s.policies))
	for _, policy := range s.policies {
		policies = append(policies, policy)
	}
	s.policiesMu.RUnlock()

	sort.Slice(policies, func(i, j int) bool { return policies[i].Module < policies[j].Module })
	return policies
}

// UpdatePolicies substitui as políticas; contadores existentes são preservados
// e passam a ser comparados com os novos tetos
func (s *AdmissionService) UpdatePolicies(policies map[string]domain.Policy) error {
	if len(policies) == 0 {
		return fmt.Errorf("policies cannot be empty")
	}

	s.policiesMu.Lock()
	s.policies = copyPolicies(policies)
	s.policiesMu.Unlock()

	s.logger.Info("Admission policies updated", map[string]interface{}{
		"modules": len(policies),
	})
	return nil
}

func copyPolicies(policies map[string]domain.Policy) map[string]domain.Policy {
	copied := make(map[string]domain.Policy, len(policies))
	for module, policy := range policies {
		copied[module] = policy
	}
	return copied
}

// Stats retorna a contagem de decisões por resultado desde o início do processo
func (s *AdmissionService) Stats() map[string]int64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	stats := make(map[string]int64, len(s.stats))
	for k, v := range s.stats {
		stats[k] = v
	}
	return stats
}

func (s *AdmissionService) record(decision domain.Decision) {
	outcome := "admitted"
	if !decision.Admitted() {
		outcome = string(decision.Rejection.Reason)
	}

	s.statsMu.Lock()
	s.stats[outcome]++
	s.statsMu.Unlock()
}

// readCounter lê um contador; janelas vencidas contam como zeradas
func (s *AdmissionService) readCounter(ctx context.Context, rateKey string, window domain.Window, now time.Time) (windowCounter, error) {
	value, found, err := s.store.Get(ctx, windowKey(rateKey, window))
	if err != nil {
		return windowCounter{}, err
	}
	if !found {
		return windowCounter{}, nil
	}

	counter, err := decodeWindowCounter(value)
	if err != nil {
		return windowCounter{}, err
	}
	if counter.ResetAt != 0 && counter.ResetAt <= now.UnixMilli() {
		return windowCounter{}, nil
	}
	return counter, nil
}

// readRecent lê e poda a lista de timestamps recentes
func (s *AdmissionService) readRecent(ctx context.Context, rateKey string, now time.Time) ([]int64, error) {
	value, found, err := s.store.Get(ctx, recentKey(rateKey))
	if err != nil {
		return nil, err
	}
	if !found {
		return []int64{}, nil
	}
	return pruneRecent(decodeRecent(value), now, s.config.Burst.Lookback), nil
}

// readCooldown verifica se há bloqueio por atividade suspeita em vigor
func (s *AdmissionService) readCooldown(ctx context.Context, rateKey string, now time.Time) (time.Time, bool, error) {
	value, found, err := s.store.Get(ctx, cooldownKey(rateKey))
	if err != nil || !found {
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// marcador ilegível: aplica o cooldown completo a partir de agora
		return now.Add(s.config.Burst.Cooldown), true, nil
	}

	until := time.UnixMilli(ms)
	if !until.After(now) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// storeUnavailable registra a falha, dispara alerta e rejeita (fail-closed)
func (s *AdmissionService) storeUnavailable(ctx context.Context, module, rateKey string, err error) domain.Decision {
	s.logger.WithContext(ctx).Error("Counter store unavailable, rejecting request", err, map[string]interface{}{
		"module":   module,
		"rate_key": logger.MaskIdentifier(rateKey),
	})

	if s.notifier != nil {
		s.notifier.Notify(ctx, domain.AlertEvent{
			Type:      string(domain.StoreUnavailable),
			Message:   "counter store unavailable",
			Module:    module,
			Timestamp: s.clock.Now(),
			Details:   map[string]interface{}{"error": err.Error()},
		})
	}

	return domain.Reject(module, domain.Rejection{Reason: domain.StoreUnavailable, Cause: err})
}
