package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"admission-control/internal/alert"
	"admission-control/internal/domain"
	"admission-control/internal/logger"
	"admission-control/internal/middleware"
	"admission-control/internal/status"
)

const serviceName = "Admission Control API"

// Handlers contém os handlers da API
type Handlers struct {
	service      domain.AdmissionService
	store        domain.CounterStore
	logger       domain.Logger
	alertStats   func() alert.Stats
	storeTimeout time.Duration
	now          func() time.Time
	startTime    time.Time
}

// Option configura dependências opcionais dos handlers
type Option func(*Handlers)

// WithStoreTimeout limita a duração das chamadas ao Counter Store
func WithStoreTimeout(timeout time.Duration) Option {
	return func(h *Handlers) { h.storeTimeout = timeout }
}

// WithAlertStats expõe os contadores do notifier em /metrics
func WithAlertStats(stats func() alert.Stats) Option {
	return func(h *Handlers) { h.alertStats = stats }
}

// WithClock substitui o relógio usado no retry hint
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(service domain.AdmissionService, store domain.CounterStore, log domain.Logger, opts ...Option) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handlers{
		service:      service,
		store:        store,
		logger:       log,
		storeTimeout: 5 * time.Second,
		now:          time.Now,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.Use(middleware.RequestID())

	// Rotas públicas
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", h.MetricsHandler)

	v1 := router.Group("/v1")
	{
		v1.POST("/admission", h.AdmissionHandler)
		v1.GET("/policies", h.PoliciesHandler)

		// Rotas de módulo protegidas pelo controle de admissão
		modules := v1.Group("/modules/:module")
		modules.Use(middleware.NewAdmissionMiddleware(h.service, h.logger, h.storeTimeout))
		{
			modules.Any("/*path", h.ModuleHandler)
		}
	}

	// Rotas administrativas
	admin := router.Group("/admin")
	{
		admin.GET("/status", h.AdminStatusHandler)
		admin.POST("/reset", h.AdminResetHandler)
	}
}

// AdmissionRequest é o corpo de POST /v1/admission
type AdmissionRequest struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Module      string             `json:"module"`
}

// admissionEventLogger é implementado pelo logger estruturado
type admissionEventLogger interface {
	LogAdmissionEvent(module, deviceID string, allowed bool, reason string, fields map[string]interface{})
}

// AdmissionHandler avalia {fingerprint, module} e responde com a StatusView
func (h *Handlers) AdmissionHandler(c *gin.Context) {
	var req AdmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"allowed": false,
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	identity := domain.Fingerprint{
		DeviceID:  strings.TrimSpace(req.Fingerprint.DeviceID),
		SessionID: strings.TrimSpace(req.Fingerprint.SessionID),
	}
	module := strings.TrimSpace(req.Module)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.storeTimeout)
	defer cancel()
	ctx = logger.ContextWithRequestInfo(ctx, logger.GetRequestID(ctx), identity.DeviceID, module, c.GetHeader("User-Agent"))

	decision := h.service.Evaluate(ctx, identity, module)
	view := status.Project(decision, h.now())

	reason := ""
	if !view.Allowed {
		reason = string(view.Reason)
	}
	if events, ok := h.logger.WithContext(ctx).(admissionEventLogger); ok {
		events.LogAdmissionEvent(module, identity.DeviceID, view.Allowed, reason, nil)
	}

	middleware.SetAdmissionHeaders(c, view)
	middleware.WriteStatusView(c, view)
}

// PoliciesHandler lista os módulos configurados
func (h *Handlers) PoliciesHandler(c *gin.Context) {
	policies := h.service.Policies()
	c.JSON(http.StatusOK, gin.H{
		"policies": policies,
		"count":    len(policies),
	})
}

// ModuleHandler implementa o endpoint de módulo protegido pelo controle de admissão
func (h *Handlers) ModuleHandler(c *gin.Context) {
	response := gin.H{
		"message":   "Request admitted",
		"module":    c.Param("module"),
		"path":      c.Param("path"),
		"method":    c.Request.Method,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if value, ok := c.Get(middleware.StatusViewKey); ok {
		if view, ok := value.(domain.StatusView); ok {
			response["remaining"] = view.Remaining
		}
	}

	c.JSON(http.StatusOK, response)
}

// HealthHandler verifica o Counter Store; 503 quando indisponível
func (h *Handlers) HealthHandler(c *gin.Context) {
	response := gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.storeTimeout)
		defer cancel()

		if err := h.store.Health(ctx); err != nil {
			h.logger.WithContext(ctx).Error("Counter store health check failed", err, nil)
			response["status"] = "unhealthy"
			response["store"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response["store"] = "ok"
	}

	c.JSON(http.StatusOK, response)
}

// decisionStats é implementado pelo serviço concreto
type decisionStats interface {
	Stats() map[string]int64
}

// MetricsHandler implementa endpoint de métricas do sistema
func (h *Handlers) MetricsHandler(c *gin.Context) {
	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := gin.H{
		"service":        serviceName,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"system": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": formatBytes(m.Alloc),
			"memory_total": formatBytes(m.TotalAlloc),
			"memory_sys":   formatBytes(m.Sys),
			"gc_runs":      m.NumGC,
		},
	}

	if stats, ok := h.service.(decisionStats); ok {
		response["decisions"] = stats.Stats()
	}
	if h.alertStats != nil {
		response["alerts"] = h.alertStats()
	}

	c.JSON(http.StatusOK, response)
}

// AdminStatusHandler retorna os contadores de uma identidade em um módulo
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	identity := domain.Fingerprint{
		DeviceID:  strings.TrimSpace(c.Query("deviceId")),
		SessionID: strings.TrimSpace(c.Query("sessionId")),
	}
	module := strings.TrimSpace(c.Query("module"))

	params := []struct{ name, value string }{
		{"deviceId", identity.DeviceID},
		{"sessionId", identity.SessionID},
		{"module", module},
	}
	for _, p := range params {
		if p.value == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": p.name + " parameter is required",
			})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.storeTimeout)
	defer cancel()

	log := h.logger.WithContext(ctx)
	log.Debug("Admin status endpoint accessed", map[string]interface{}{
		"device_id": logger.MaskIdentifier(identity.DeviceID),
		"module":    module,
	})

	current, err := h.service.Status(ctx, identity, module)
	if err != nil {
		h.writeAdminError(c, log, "Failed to get admission status", err, module)
		return
	}

	response := gin.H{
		"module":         current.Module,
		"counts":         current.Counts,
		"limits":         current.Limits,
		"remaining":      current.Remaining,
		"recentRequests": current.RecentRequests,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if current.CooldownUntil != nil {
		response["cooldownUntil"] = current.CooldownUntil.Unix()
		response["retryAfterSeconds"] = status.RetryAfterSeconds(*current.CooldownUntil, h.now())
	}

	c.JSON(http.StatusOK, response)
}

// AdminResetRequest representa o corpo da requisição para reset
type AdminResetRequest struct {
	DeviceID  string `json:"deviceId" binding:"required"`
	SessionID string `json:"sessionId" binding:"required"`
	Module    string `json:"module" binding:"required"`
}

// AdminResetHandler limpa os contadores de uma identidade em um módulo
func (h *Handlers) AdminResetHandler(c *gin.Context) {
	var req AdminResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	identity := domain.Fingerprint{
		DeviceID:  strings.TrimSpace(req.DeviceID),
		SessionID: strings.TrimSpace(req.SessionID),
	}
	module := strings.TrimSpace(req.Module)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.storeTimeout)
	defer cancel()

	log := h.logger.WithContext(ctx)
	if err := h.service.Reset(ctx, identity, module); err != nil {
		h.writeAdminError(c, log, "Failed to reset admission counters", err, module)
		return
	}

	log.Info("Admission counters reset via admin endpoint", map[string]interface{}{
		"device_id": logger.MaskIdentifier(identity.DeviceID),
		"module":    module,
	})

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Admission counters reset successfully",
		"module":    module,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeAdminError mapeia erros do serviço: entrada inválida vira 400, o resto 500
func (h *Handlers) writeAdminError(c *gin.Context, log domain.Logger, msg string, err error, module string) {
	switch {
	case errors.Is(err, domain.ErrPolicyNotFound):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Module is not configured: " + module,
		})
	case errors.Is(err, domain.ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "deviceId and sessionId are required",
		})
	default:
		log.Error(msg, err, map[string]interface{}{"module": module})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_server_error",
			"message": msg,
		})
	}
}

// formatBytes formata bytes em formato legível
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + "KMGTPE"[exp:exp+1] + "B"
}
