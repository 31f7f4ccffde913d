// Package client consulta o serviço de admissão via HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"admission-control/internal/domain"
)

// Client implementa chamadas ao Admission Control API
type Client struct {
	baseURL string
	client  *http.Client
}

// New cria um client para a URL base informada
func New(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
}

// NewWithTimeout cria um client com timeout por requisição
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type evaluateRequest struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Module      string             `json:"module"`
}

// Evaluate pede uma decisão de admissão.
// Rejeições (429, 400, 500) também carregam uma StatusView e não são erro;
// err só é retornado em falha de transporte ou corpo ilegível.
func (c *Client) Evaluate(ctx context.Context, identity domain.Fingerprint, module string) (domain.StatusView, int, error) {
	payload, err := json.Marshal(evaluateRequest{
		Fingerprint: domain.Fingerprint{DeviceID: identity.DeviceID, SessionID: identity.SessionID},
		Module:      module,
	})
	if err != nil {
		return domain.StatusView{}, 0, err
	}

	body, status, err := c.do(ctx, http.MethodPost, "/v1/admission", payload)
	if err != nil {
		return domain.StatusView{}, status, err
	}

	var view domain.StatusView
	if err := json.Unmarshal(body, &view); err != nil {
		return domain.StatusView{}, status, decodeHTTPError(status, body)
	}
	return view, status, nil
}

// Policies lista os módulos configurados no servidor
func (c *Client) Policies(ctx context.Context) ([]domain.Policy, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/v1/policies", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeHTTPError(status, body)
	}

	var res struct {
		Policies []domain.Policy `json:"policies"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	return res.Policies, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeHTTPError(status int, body []byte) error {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		if resp.Message != "" {
			return fmt.Errorf("http %d: %s: %s", status, resp.Error, resp.Message)
		}
		return fmt.Errorf("http %d: %s", status, resp.Error)
	}
	return fmt.Errorf("http %d", status)
}
