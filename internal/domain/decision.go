package domain

import "time"

// RejectReason classifica o motivo de uma rejeição
type RejectReason string

const (
	InvalidIdentity    RejectReason = "invalid_identity"
	UnknownModule      RejectReason = "unknown_module"
	RateLimited        RejectReason = "rate_limited"
	SuspiciousActivity RejectReason = "suspicious_activity"
	StoreUnavailable   RejectReason = "store_unavailable"
)

// Rejection descreve uma requisição não admitida.
// Window só é preenchida para RateLimited; ResetAt é zero para
// InvalidIdentity, UnknownModule e StoreUnavailable.
type Rejection struct {
	Reason  RejectReason
	Window  Window
	ResetAt time.Time
	Cause   error
}

// Decision é o resultado de uma avaliação: admitida (Rejection nil) ou rejeitada
type Decision struct {
	Module    string
	Remaining Quota
	Limits    Quota
	Rejection *Rejection
}

// Admitted indica se a requisição foi admitida
func (d Decision) Admitted() bool {
	return d.Rejection == nil
}

// Admit cria uma decisão de admissão
func Admit(module string, remaining, limits Quota) Decision {
	return Decision{Module: module, Remaining: remaining, Limits: limits}
}

// Reject cria uma decisão de rejeição
func Reject(module string, rejection Rejection) Decision {
	return Decision{Module: module, Rejection: &rejection}
}

// StatusView é a projeção serializável de uma decisão consumida pela apresentação
type StatusView struct {
	Allowed           bool         `json:"allowed"`
	Module            string       `json:"module,omitempty"`
	Remaining         *Quota       `json:"remaining,omitempty"`
	Limits            *Quota       `json:"limits,omitempty"`
	Reason            RejectReason `json:"reason,omitempty"`
	Window            Window       `json:"window,omitempty"`
	RetryAfterSeconds *int         `json:"retryAfterSeconds,omitempty"`
}
