package domain

import "time"

// Window define as janelas de contagem suportadas pelo controle de admissão
type Window string

const (
	MinuteWindow Window = "minute"
	HourWindow   Window = "hour"
	DayWindow    Window = "day"
)

// Windows retorna as janelas na ordem fixa de avaliação (minuto, hora, dia)
func Windows() []Window {
	return []Window{MinuteWindow, HourWindow, DayWindow}
}

// Duration retorna a duração da janela
func (w Window) Duration() time.Duration {
	switch w {
	case MinuteWindow:
		return time.Minute
	case HourWindow:
		return time.Hour
	case DayWindow:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Fingerprint representa a pseudo-identidade de um chamador
type Fingerprint struct {
	DeviceID  string    `json:"deviceId"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Valid verifica se a identidade carrega os dois componentes obrigatórios
func (f Fingerprint) Valid() bool {
	return f.DeviceID != "" && f.SessionID != ""
}

// Quota agrupa um valor inteiro por janela
type Quota struct {
	Minute int `json:"minute" yaml:"minute"`
	Hour   int `json:"hour" yaml:"hour"`
	Day    int `json:"day" yaml:"day"`
}

// Get retorna o valor da janela informada
func (q Quota) Get(w Window) int {
	switch w {
	case MinuteWindow:
		return q.Minute
	case HourWindow:
		return q.Hour
	case DayWindow:
		return q.Day
	default:
		return 0
	}
}

// Set define o valor da janela informada
func (q *Quota) Set(w Window, value int) {
	switch w {
	case MinuteWindow:
		q.Minute = value
	case HourWindow:
		q.Hour = value
	case DayWindow:
		q.Day = value
	}
}

// Policy define os tetos de um módulo
type Policy struct {
	Module      string `json:"module" yaml:"module"`
	PerMinute   int    `json:"perMinute" yaml:"perMinute"`
	PerHour     int    `json:"perHour" yaml:"perHour"`
	PerDay      int    `json:"perDay" yaml:"perDay"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Limits retorna os tetos da política como Quota
func (p Policy) Limits() Quota {
	return Quota{Minute: p.PerMinute, Hour: p.PerHour, Day: p.PerDay}
}

// BurstConfig configura o detector de atividade suspeita
type BurstConfig struct {
	Threshold      int           `json:"threshold"`
	Lookback       time.Duration `json:"lookback"`
	Cooldown       time.Duration `json:"cooldown"`
	MaxRecentItems int           `json:"maxRecentItems"`
}

// AdmissionConfig representa todas as configurações do controle de admissão
type AdmissionConfig struct {
	Policies      map[string]Policy `json:"policies"`
	Burst         BurstConfig       `json:"burst"`
	KeyHashSecret string            `json:"-"`
}

// AdmissionStatus representa o estado atual dos contadores de uma identidade em um módulo
type AdmissionStatus struct {
	Module         string     `json:"module"`
	Counts         Quota      `json:"counts"`
	Limits         Quota      `json:"limits"`
	Remaining      Quota      `json:"remaining"`
	RecentRequests int        `json:"recentRequests"`
	CooldownUntil  *time.Time `json:"cooldownUntil,omitempty"`
}
