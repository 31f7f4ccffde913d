package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"admission-control/internal/domain"
	"admission-control/internal/logger"
	"admission-control/internal/status"
)

const (
	DeviceIDHeader  = "X-Device-ID"
	SessionIDHeader = "X-Session-ID"

	// chave do gin.Context com a StatusView da requisição admitida
	StatusViewKey = "admission_status"
)

// AdmissionMiddleware protege rotas de módulo com o motor de políticas
type AdmissionMiddleware struct {
	service domain.AdmissionService
	logger  domain.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewAdmissionMiddleware cria o middleware; o módulo vem do parâmetro :module da rota
func NewAdmissionMiddleware(
	service domain.AdmissionService,
	logger domain.Logger,
	timeout time.Duration,
) gin.HandlerFunc {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	middleware := &AdmissionMiddleware{
		service: service,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *AdmissionMiddleware) Handle(c *gin.Context) {
	// Limita o tempo das chamadas ao Counter Store
	ctx, cancel := context.WithTimeout(c.Request.Context(), m.timeout)
	defer cancel()

	identity := ExtractFingerprint(c)
	module := strings.TrimSpace(c.Param("module"))

	ctx = logger.ContextWithRequestInfo(ctx, logger.GetRequestID(ctx), identity.DeviceID, module, c.GetHeader("User-Agent"))
	log := m.logger.WithContext(ctx)

	decision := m.service.Evaluate(ctx, identity, module)
	view := status.Project(decision, m.now())

	SetAdmissionHeaders(c, view)

	if !view.Allowed {
		log.Info("Request rejected by admission control", map[string]interface{}{
			"reason":      view.Reason,
			"window":      view.Window,
			"retry_after": view.RetryAfterSeconds,
			"path":        c.Request.URL.Path,
		})

		WriteStatusView(c, view)
		c.Abort()
		return
	}

	log.Debug("Request admitted", map[string]interface{}{
		"remaining": view.Remaining,
		"path":      c.Request.URL.Path,
	})

	c.Set(StatusViewKey, view)
	c.Next()
}

// ExtractFingerprint lê a identidade dos headers X-Device-ID e X-Session-ID
func ExtractFingerprint(c *gin.Context) domain.Fingerprint {
	return domain.Fingerprint{
		DeviceID:  strings.TrimSpace(c.GetHeader(DeviceIDHeader)),
		SessionID: strings.TrimSpace(c.GetHeader(SessionIDHeader)),
	}
}

// admissionResponse é o corpo HTTP: a StatusView mais error/message
type admissionResponse struct {
	domain.StatusView
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// HTTPStatus mapeia a StatusView para o código HTTP
func HTTPStatus(view domain.StatusView) int {
	if view.Allowed {
		return http.StatusOK
	}
	switch view.Reason {
	case domain.RateLimited, domain.SuspiciousActivity:
		return http.StatusTooManyRequests
	case domain.InvalidIdentity, domain.UnknownModule:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteStatusView escreve a StatusView com o código HTTP correspondente
func WriteStatusView(c *gin.Context, view domain.StatusView) {
	response := admissionResponse{
		StatusView: view,
		Message:    status.Message(view),
	}
	if !view.Allowed {
		response.Error = errorCode(view.Reason)
	}
	c.JSON(HTTPStatus(view), response)
}

// SetAdmissionHeaders define headers informativos da janela do minuto e o Retry-After
func SetAdmissionHeaders(c *gin.Context, view domain.StatusView) {
	if view.Module != "" {
		c.Header("X-RateLimit-Module", view.Module)
	}
	if view.Limits != nil {
		c.Header("X-RateLimit-Limit", strconv.Itoa(view.Limits.Minute))
	}
	if view.Remaining != nil {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(view.Remaining.Minute))
		c.Header("X-RateLimit-Remaining-Hour", strconv.Itoa(view.Remaining.Hour))
		c.Header("X-RateLimit-Remaining-Day", strconv.Itoa(view.Remaining.Day))
	}

	if HTTPStatus(view) == http.StatusTooManyRequests && view.RetryAfterSeconds != nil {
		c.Header("Retry-After", strconv.Itoa(*view.RetryAfterSeconds))
	}
}

func errorCode(reason domain.RejectReason) string {
	switch reason {
	case domain.RateLimited:
		return "rate_limit_exceeded"
	case domain.InvalidIdentity, domain.UnknownModule:
		return "validation_error"
	case domain.StoreUnavailable:
		return "internal_server_error"
	default:
		return string(reason)
	}
}
