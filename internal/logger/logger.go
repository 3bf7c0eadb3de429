package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"anti-spam/internal/domain"

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
	IPKey        contextKey = "ip"
	UserAgentKey contextKey = "user_agent"
)

// NewLogger cria uma nova instância do logger estruturado
func NewLogger(level, format string) domain.Logger {
	return NewLoggerWithOutput(level, format, os.Stdout)
}

// NewLoggerWithOutput cria um logger escrevendo em out (útil em testes)
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

// NewNopLogger cria um logger que descarta tudo
func NewNopLogger() domain.Logger {
	return NewLoggerWithOutput("panic", "text", io.Discard)
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
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logWithFields(logrus.ErrorLevel, msg, fields)
}

// WithContext cria um novo logger com contexto da requisição
func (l *StructuredLogger) WithContext(ctx context.Context) domain.Logger {
	contextFields := l.extractContextFields(ctx)

	mergedFields := make(logrus.Fields)
	for k, v := range l.fields {
		mergedFields[k] = v
	}
	for k, v := range contextFields {
		mergedFields[k] = v
	}

	return &StructuredLogger{
		logger: l.logger,
		fields: mergedFields,
	}
}

// WithFields cria um novo logger com campos específicos
func (l *StructuredLogger) WithFields(fields map[string]interface{}) domain.Logger {
	newFields := make(logrus.Fields)
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
	if !l.logger.IsLevelEnabled(level) {
		return
	}

	allFields := make(logrus.Fields)
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

	if ip := ctx.Value(IPKey); ip != nil {
		fields["ip"] = ip
	}

	if userAgent := ctx.Value(UserAgentKey); userAgent != nil {
		fields["user_agent"] = userAgent
	}

	return fields
}

// addServiceFields adiciona campos fixos do serviço
func (l *StructuredLogger) addServiceFields(fields logrus.Fields) {
	fields["component"] = "anti_spam"

	if version := os.Getenv("APP_VERSION"); version != "" {
		fields["version"] = version
	}
}

// LogSpamVerdict registra o veredito de uma verificação.
// Bloqueios e desafios sobem para warning.
func (l *StructuredLogger) LogSpamVerdict(ip string, result *domain.SpamCheckResult, fields map[string]interface{}) {
	if result == nil {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["event_type"] = "spam_check"
	fields["ip"] = ip
	fields["is_spam"] = result.IsSpam
	fields["confidence"] = result.Confidence
	fields["action"] = result.Action
	fields["reasons"] = result.Reasons

	if result.Action == domain.ActionAllow {
		l.Info("Spam check passed", fields)
	} else {
		l.Warn("Spam check flagged submission", fields)
	}
}

// LogConfigEvent registra eventos de configuração
func (l *StructuredLogger) LogConfigEvent(eventType string, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["event_type"] = eventType

	l.Info("Configuration event", details)
}

// ContextWithRequestInfo adiciona informações da requisição ao contexto
func ContextWithRequestInfo(ctx context.Context, requestID, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	ctx = context.WithValue(ctx, IPKey, ip)
	ctx = context.WithValue(ctx, UserAgentKey, userAgent)
	return ctx
}

// GetRequestID extrai o request ID do contexto
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
