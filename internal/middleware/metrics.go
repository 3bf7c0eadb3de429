package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"anti-spam/internal/metrics"
)

// unmatchedPath evita uma série por URL desconhecida
const unmatchedPath = "unmatched"

// RequestMetrics mede a duração das requisições por rota
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}

		metrics.APIDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
