// Package status converte decisões do motor de políticas em uma visão serializável.
package status

import (
	"math"
	"time"

	"admission-control/internal/domain"
)

// Project converte uma decisão em StatusView. Função pura: now só é usado para o retry hint.
func Project(decision domain.Decision, now time.Time) domain.StatusView {
	if decision.Admitted() {
		remaining := decision.Remaining
		limits := decision.Limits
		return domain.StatusView{
			Allowed:   true,
			Module:    decision.Module,
			Remaining: &remaining,
			Limits:    &limits,
		}
	}

	retryAfter := RetryAfterSeconds(decision.Rejection.ResetAt, now)
	return domain.StatusView{
		Allowed:           false,
		Module:            decision.Module,
		Reason:            decision.Rejection.Reason,
		Window:            decision.Rejection.Window,
		RetryAfterSeconds: &retryAfter,
	}
}

// RetryAfterSeconds calcula max(0, ceil((resetAt - now) / 1s)); resetAt zero resulta em 0
func RetryAfterSeconds(resetAt, now time.Time) int {
	if resetAt.IsZero() {
		return 0
	}
	seconds := math.Ceil(resetAt.Sub(now).Seconds())
	if seconds < 0 {
		return 0
	}
	return int(seconds)
}

// Message retorna a mensagem legível usada pela camada de transporte
func Message(view domain.StatusView) string {
	if view.Allowed {
		return "Request admitted"
	}

	switch view.Reason {
	case domain.InvalidIdentity:
		return "Fingerprint must carry both deviceId and sessionId"
	case domain.UnknownModule:
		return "Module is not configured"
	case domain.RateLimited:
		return "you have reached the maximum number of requests allowed for the " + string(view.Window) + " window"
	case domain.SuspiciousActivity:
		return "suspicious activity detected, requests are temporarily blocked"
	case domain.StoreUnavailable:
		return "Admission service temporarily unavailable"
	default:
		return "Request rejected"
	}
}
