package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-control/internal/domain"
)

// windowCounter é o valor persistido de um contador de janela
type windowCounter struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"` // unix ms; 0 = desconhecido
}

// resetTime retorna o fim da janela; sem ResetAt conhecido assume a janela inteira a partir de now
func (c windowCounter) resetTime(window domain.Window, now time.Time) time.Time {
	if c.ResetAt == 0 {
		return now.Add(window.Duration())
	}
	return time.UnixMilli(c.ResetAt)
}

// decodeWindowCounter lê o formato JSON ou um inteiro simples
func decodeWindowCounter(value string) (windowCounter, error) {
	value = strings.TrimSpace(value)

	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return windowCounter{}, fmt.Errorf("%w: negative count %d", domain.ErrCorruptCounter, n)
		}
		return windowCounter{Count: n}, nil
	}

	var counter windowCounter
	if err := json.Unmarshal([]byte(value), &counter); err != nil {
		return windowCounter{}, fmt.Errorf("%w: %v", domain.ErrCorruptCounter, err)
	}
	if counter.Count < 0 {
		return windowCounter{}, fmt.Errorf("%w: negative count %d", domain.ErrCorruptCounter, counter.Count)
	}
	return counter, nil
}

func encodeWindowCounter(counter windowCounter) string {
	data, _ := json.Marshal(counter)
	return string(data)
}

// decodeRecent lê a lista de timestamps (unix ms); valor ilegível conta como lista vazia
func decodeRecent(value string) []int64 {
	var recent []int64
	if err := json.Unmarshal([]byte(value), &recent); err != nil {
		return nil
	}
	return recent
}

func encodeRecent(recent []int64) string {
	if recent == nil {
		recent = []int64{}
	}
	data, _ := json.Marshal(recent)
	return string(data)
}

// pruneRecent mantém apenas entradas dentro do lookback, em ordem crescente
func pruneRecent(recent []int64, now time.Time, lookback time.Duration) []int64 {
	cutoff := now.Add(-lookback).UnixMilli()
	pruned := make([]int64, 0, len(recent)+1)
	for _, ts := range recent {
		if ts > cutoff && ts <= now.UnixMilli() {
			pruned = append(pruned, ts)
		}
	}
	return pruned
}

// capRecent descarta as entradas mais antigas além do máximo
func capRecent(recent []int64, max int) []int64 {
	if max <= 0 || len(recent) <= max {
		return recent
	}
	return recent[len(recent)-max:]
}

// ttlUntil calcula o TTL restante até o instante informado (mínimo 1ms)
func ttlUntil(deadline, now time.Time) time.Duration {
	ttl := deadline.Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

func remaining(limit, count int) int {
	if limit-count < 0 {
		return 0
	}
	return limit - count
}
