package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"admission-control/internal/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propaga ou gera o X-Request-ID e o coloca no contexto para logging
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.ContextWithRequestInfo(c.Request.Context(), requestID, "", "", c.GetHeader("User-Agent"))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
