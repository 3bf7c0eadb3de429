package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"anti-spam/internal/domain"
)

// AdminAuth protege as rotas administrativas com um token fixo.
// Com token vazio a autenticação fica desligada.
func AdminAuth(token string, logger domain.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		provided := extractAdminToken(c)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			logger.WithContext(c.Request.Context()).Warn("Unauthorized admin request", map[string]interface{}{
				"client_ip": GetClientIP(c),
				"path":      c.Request.URL.Path,
				"method":    c.Request.Method,
			})

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "A valid admin token is required",
			})
			return
		}

		c.Next()
	}
}

// extractAdminToken aceita "Authorization: Bearer <token>" ou X-Admin-Token
func extractAdminToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		scheme, value, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}

	return strings.TrimSpace(c.GetHeader("X-Admin-Token"))
}
