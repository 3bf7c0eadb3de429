package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"anti-spam/internal/logger"
)

// Chaves gravadas no gin.Context
const (
	ClientIPKey  = "client_ip"
	RequestIDKey = "request_id"
)

// RequestIDHeader é o header usado para correlacionar requisições
const RequestIDHeader = "X-Request-ID"

// RequestContext resolve o request id e o IP do cliente e os propaga
// para o contexto da requisição, onde o logger os encontra
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		clientIP := extractClientIP(c)
		c.Set(RequestIDKey, requestID)
		c.Set(ClientIPKey, clientIP)

		ctx := logger.ContextWithRequestInfo(c.Request.Context(), requestID, clientIP, c.GetHeader("User-Agent"))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetClientIP devolve o IP resolvido por RequestContext,
// ou resolve na hora quando o middleware não rodou
func GetClientIP(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return extractClientIP(c)
}

// extractClientIP delega para c.ClientIP: X-Forwarded-For e X-Real-IP só
// valem quando o peer direto está em engine.SetTrustedProxies, e o valor
// precisa ser um IP válido. Caso contrário vale o host de RemoteAddr.
func extractClientIP(c *gin.Context) string {
	return c.ClientIP()
}
