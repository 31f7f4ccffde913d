// Package alert envia alertas operacionais (best-effort) para webhooks.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"admission-control/internal/domain"
	"admission-control/internal/logger"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxInFlight = 16
)

// Stats contadores de entrega
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// WebhookNotifier faz fan-out dos alertas para todas as URLs configuradas.
// Notify nunca bloqueia: com muitas entregas pendentes o alerta é descartado.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
	logger domain.Logger

	slots chan struct{}
	wg    sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewWebhookNotifier cria o notifier; URLs vazias são ignoradas
func NewWebhookNotifier(urls []string, timeout time.Duration, log domain.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}

	return &WebhookNotifier{
		urls:   clean,
		client: &http.Client{Timeout: timeout},
		logger: log,
		slots:  make(chan struct{}, defaultMaxInFlight),
	}
}

// Enabled indica se há algum destino configurado
func (n *WebhookNotifier) Enabled() bool {
	return len(n.urls) > 0
}

// Notify dispara o alerta de forma assíncrona; erros são contados e registrados, nunca retornados
func (n *WebhookNotifier) Notify(ctx context.Context, event domain.AlertEvent) {
	if !n.Enabled() {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.failed.Add(int64(len(n.urls)))
		n.logger.Error("Failed to encode alert", err, map[string]interface{}{"type": event.Type})
		return
	}

	for _, url := range n.urls {
		select {
		case n.slots <- struct{}{}:
		default:
			n.dropped.Add(1)
			continue
		}

		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			defer func() { <-n.slots }()
			n.deliver(url, payload, event.Type)
		}(url)
	}
}

// deliver usa um contexto próprio: o da requisição termina antes da entrega
func (n *WebhookNotifier) deliver(url string, payload []byte, eventType string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		n.fail(url, eventType, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail(url, eventType, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.fail(url, eventType, fmt.Errorf("http %d", resp.StatusCode))
		return
	}
	n.sent.Add(1)
}

func (n *WebhookNotifier) fail(url, eventType string, err error) {
	n.failed.Add(1)
	n.logger.Warn("Alert delivery failed", map[string]interface{}{
		"url":   url,
		"type":  eventType,
		"error": err.Error(),
	})
}

// Stats retorna os contadores de entrega
func (n *WebhookNotifier) Stats() Stats {
	return Stats{
		Sent:    n.sent.Load(),
		Failed:  n.failed.Load(),
		Dropped: n.dropped.Load(),
	}
}

// Wait aguarda as entregas pendentes ou o fim do contexto
func (n *WebhookNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
