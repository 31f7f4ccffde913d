// Package advisory implementa o pré-check local do chamador.
// Não é autoritativo: o histórico fica em storage controlado pelo cliente.
package advisory

import (
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/logger"
)

const (
	DefaultMaxPerWindow = 3
	DefaultWindow       = time.Minute
)

// History é o armazenamento local dos timestamps de tentativas
type History interface {
	RequestHistory() []time.Time
	SaveRequestHistory(history []time.Time) error
}

// Limiter decide localmente se vale a pena enviar a requisição
type Limiter struct {
	history History
	max     int
	window  time.Duration
	clock   domain.Clock
	logger  domain.Logger
}

// Option configura o Limiter
type Option func(*Limiter)

// WithClock injeta o relógio
func WithClock(clock domain.Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithWindow altera a janela de contagem
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) { l.window = window }
}

// NewLimiter cria um limiter com no máximo max tentativas por janela
func NewLimiter(history History, max int, log domain.Logger, opts ...Option) *Limiter {
	if max <= 0 {
		max = DefaultMaxPerWindow
	}
	if log == nil {
		log = logger.Nop()
	}
	l := &Limiter{
		history: history,
		max:     max,
		window:  DefaultWindow,
		clock:   domain.SystemClock{},
		logger:  log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanAttempt retorna false quando o histórico podado atinge o máximo;
// caso contrário registra a tentativa e retorna true
func (l *Limiter) CanAttempt() bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	recent := make([]time.Time, 0, l.max)
	for _, ts := range l.history.RequestHistory() {
		if ts.After(cutoff) && !ts.After(now) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.max {
		l.logger.Debug("Advisory limit reached", map[string]interface{}{
			"recent_attempts": len(recent),
			"max":             l.max,
		})
		return false
	}

	recent = append(recent, now)
	if err := l.history.SaveRequestHistory(recent); err != nil {
		// sem persistência a tentativa segue; o servidor continua autoritativo
		l.logger.Warn("Failed to save advisory history", map[string]interface{}{"error": err.Error()})
	}
	return true
}

// RetryIn estima quanto falta para a próxima tentativa local ser liberada
func (l *Limiter) RetryIn() time.Duration {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	var recent []time.Time
	for _, ts := range l.history.RequestHistory() {
		if ts.After(cutoff) && !ts.After(now) {
			recent = append(recent, ts)
		}
	}
	if len(recent) < l.max {
		return 0
	}

	oldest := recent[0]
	for _, ts := range recent[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest.Add(l.window).Sub(now)
}
