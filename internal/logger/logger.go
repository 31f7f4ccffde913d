package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"admission-control/internal/domain"

	"github.com/sirupsen/logrus"
)

// StructuredLogger implementa a interface domain.Logger
type StructuredLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// contextKey define chaves para contexto
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	DeviceIDKey  contextKey = "device_id"
	ModuleKey    contextKey = "module"
	UserAgentKey contextKey = "user_agent"
)

// NewLogger cria uma nova instância do logger estruturado
func NewLogger(level, format string) domain.Logger {
	return NewLoggerWithOutput(level, format, os.Stdout)
}

// NewLoggerWithOutput cria o logger escrevendo na saída informada
func NewLoggerWithOutput(level, format string, out io.Writer) domain.Logger {
	logger := logrus.New()

	// Configura o nível de log
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Configura o formato de saída
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
			},
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logger.SetOutput(out)

	return &StructuredLogger{
		logger: logger,
		fields: make(logrus.Fields),
	}
}

// Debug registra uma mensagem de debug
func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	l.logWithFields(logrus.DebugLevel, msg, fields)
}

// Info registra uma mensagem informativa
func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.logWithFields(logrus.InfoLevel, msg, fields)
}

// Warn registra uma mensagem de warning
func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.logWithFields(logrus.WarnLevel, msg, fields)
}

// Error registra uma mensagem de erro
func (l *StructuredLogger) Error(msg string, err error, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if err != nil {
		merged["error"] = err.Error()
	}
	l.logWithFields(logrus.ErrorLevel, msg, merged)
}

// WithContext cria um novo logger com contexto da requisição
func (l *StructuredLogger) WithContext(ctx context.Context) domain.Logger {
	return l.WithFields(l.extractContextFields(ctx))
}

// WithFields cria um novo logger com campos específicos
func (l *StructuredLogger) WithFields(fields map[string]interface{}) domain.Logger {
	newFields := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &StructuredLogger{
		logger: l.logger,
		fields: newFields,
	}
}

// logWithFields registra uma mensagem com campos específicos
func (l *StructuredLogger) logWithFields(level logrus.Level, msg string, fields map[string]interface{}) {
	allFields := make(logrus.Fields, len(l.fields)+len(fields)+2)

	for k, v := range l.fields {
		allFields[k] = v
	}
	for k, v := range fields {
		allFields[k] = v
	}

	l.addServiceFields(allFields)

	l.logger.WithFields(allFields).Log(level, msg)
}

// extractContextFields extrai campos relevantes do contexto
func (l *StructuredLogger) extractContextFields(ctx context.Context) logrus.Fields {
	fields := make(logrus.Fields)

	if ctx == nil {
		return fields
	}

	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		fields["request_id"] = requestID
	}

	// deviceId é mascarado: apenas os primeiros 8 caracteres
	if deviceID, ok := ctx.Value(DeviceIDKey).(string); ok && deviceID != "" {
		fields["device_id"] = MaskIdentifier(deviceID)
	}

	if module := ctx.Value(ModuleKey); module != nil {
		fields["module"] = module
	}

	if userAgent := ctx.Value(UserAgentKey); userAgent != nil {
		fields["user_agent"] = userAgent
	}

	return fields
}

// addServiceFields adiciona campos fixos do serviço
func (l *StructuredLogger) addServiceFields(fields logrus.Fields) {
	fields["component"] = "admission_control"

	if version := os.Getenv("APP_VERSION"); version != "" {
		fields["version"] = version
	}
}

// LogAdmissionEvent registra o resultado de uma avaliação de admissão
func (l *StructuredLogger) LogAdmissionEvent(module, deviceID string, allowed bool, reason string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		merged[k] = v
	}
	merged["module"] = module
	merged["device_id"] = MaskIdentifier(deviceID)
	merged["allowed"] = allowed
	if reason != "" {
		merged["reason"] = reason
	}

	if allowed {
		l.Info("Admission granted", merged)
	} else {
		l.Warn("Admission rejected", merged)
	}
}

// LogStorageEvent registra eventos do storage
func (l *StructuredLogger) LogStorageEvent(operation string, key string, success bool, latency float64, err error) {
	fields := map[string]interface{}{
		"operation":  operation,
		"key":        key,
		"success":    success,
		"latency_ms": latency,
	}

	if err != nil {
		l.Error("Storage operation failed", err, fields)
	} else {
		l.Debug("Storage operation completed", fields)
	}
}

// MaskIdentifier mascara identificadores para logs de segurança
func MaskIdentifier(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return value + "***"
	}
	return value[:8] + "***"
}

// ContextWithRequestInfo adiciona informações da requisição ao contexto
func ContextWithRequestInfo(ctx context.Context, requestID, deviceID, module, userAgent string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	if deviceID != "" {
		ctx = context.WithValue(ctx, DeviceIDKey, deviceID)
	}
	if module != "" {
		ctx = context.WithValue(ctx, ModuleKey, module)
	}
	ctx = context.WithValue(ctx, UserAgentKey, userAgent)
	return ctx
}

// GetRequestID extrai o request ID do contexto
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// Nop retorna um logger que descarta tudo
func Nop() domain.Logger {
	return NewLoggerWithOutput("panic", "text", io.Discard)
}
