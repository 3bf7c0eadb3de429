package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anti-spam/internal/domain"
	"anti-spam/internal/middleware"
)

const (
	serviceName    = "Anti-Spam API"
	serviceVersion = "1.0.0"
)

// Handlers contém os handlers da API
type Handlers struct {
	service        domain.AntiSpamService
	logger         domain.Logger
	adminToken     string
	trustedProxies []string
	startTime      time.Time
}

// NewHandlers cria uma nova instância dos handlers.
// adminToken vazio desliga a autenticação das rotas /admin.
// trustedProxies vazio faz o IP do cliente ser sempre o peer TCP.
func NewHandlers(service domain.AntiSpamService, logger domain.Logger, adminToken string, trustedProxies []string) *Handlers {
	return &Handlers{
		service:        service,
		logger:         logger,
		adminToken:     adminToken,
		trustedProxies: trustedProxies,
		startTime:      time.Now(),
	}
}

// SetupRoutes configura as rotas da API
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// O gin confia em qualquer proxy por padrão
	if err := router.SetTrustedProxies(h.trustedProxies); err != nil {
		h.logger.Error("Invalid trusted proxies, ignoring forwarding headers", err, map[string]interface{}{
			"trusted_proxies": h.trustedProxies,
		})
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(middleware.RequestContext(), middleware.RequestMetrics())

	// Rotas públicas
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/spam/check", h.CheckHandler)
	}

	// Formulário de exemplo protegido pelo guard
	router.POST("/contact", middleware.NewSpamGuard(h.service, h.logger), h.ContactHandler)

	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth(h.adminToken, h.logger))
	{
		admin.GET("/blacklist", h.GetBlacklistHandler)
		admin.POST("/blacklist", h.AddToBlacklistHandler)
		admin.DELETE("/blacklist/:ip", h.RemoveFromBlacklistHandler)
		admin.GET("/rate-limit/:ip", h.RateLimitInfoHandler)
		admin.GET("/suspicious", h.SuspiciousHandler)
		admin.GET("/config", h.GetConfigHandler)
		admin.PATCH("/config", h.UpdateConfigHandler)
		admin.GET("/stats", h.StatsHandler)
		admin.POST("/cleanup", h.CleanupHandler)
	}
}

// HealthHandler implementa health check com verificação do storage
func (h *Handlers) HealthHandler(c *gin.Context) {
	response := gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   serviceVersion,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"storage":   "ok",
	}

	if err := h.service.Health(c.Request.Context()); err != nil {
		h.logger.WithContext(c.Request.Context()).Error("Health check failed", err, nil)

		response["status"] = "unhealthy"
		response["storage"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// CheckRequest é o corpo de POST /api/v1/spam/check
type CheckRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Subject   string `json:"subject"`
	Honeypot  string `json:"honeypot"`
	UserAgent string `json:"userAgent"`
}

// CheckHandler devolve o veredito completo, inclusive os motivos.
// A rota é destinada a backends de formulário confiáveis.
func (h *Handlers) CheckHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.GetHeader("User-Agent")
	}

	result, err := h.service.CheckMessage(ctx, &domain.SpamCheckRequest{
		IP:        middleware.GetClientIP(c),
		Email:     req.Email,
		Name:      req.Name,
		Message:   req.Message,
		Subject:   req.Subject,
		Honeypot:  req.Honeypot,
		UserAgent: userAgent,
	})
	if err != nil {
		h.respondError(c, err, "Failed to check message")
		return
	}

	c.JSON(http.StatusOK, result)
}

// ContactHandler só roda quando o guard permitiu a submissão
func (h *Handlers) ContactHandler(c *gin.Context) {
	var form middleware.FormSubmission
	if err := c.ShouldBindBodyWith(&form, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid form submission",
		})
		return
	}

	h.logger.WithContext(c.Request.Context()).Info("Contact form accepted", map[string]interface{}{
		"client_ip": middleware.GetClientIP(c),
		"email":     form.Email,
	})

	c.JSON(http.StatusOK, gin.H{
		"status":  "received",
		"message": "Thank you for your message",
	})
}

// GetBlacklistHandler lista os IPs bloqueados
func (h *Handlers) GetBlacklistHandler(c *gin.Context) {
	ips, err := h.service.GetBlacklist(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list blacklist")
		return
	}
	if ips == nil {
		ips = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"ips":   ips,
		"count": len(ips),
	})
}

// BlacklistRequest é o corpo de POST /admin/blacklist
type BlacklistRequest struct {
	IP string `json:"ip" binding:"required"`
}

// AddToBlacklistHandler insere um IP na lista negra
func (h *Handlers) AddToBlacklistHandler(c *gin.Context) {
	var req BlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := h.service.AddToBlacklist(c.Request.Context(), req.IP); err != nil {
		h.respondError(c, err, "Failed to add IP to blacklist")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "IP added to blacklist",
		"ip":        req.IP,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// RemoveFromBlacklistHandler remove um IP da lista negra
func (h *Handlers) RemoveFromBlacklistHandler(c *gin.Context) {
	ip := c.Param("ip")

	if err := h.service.RemoveFromBlacklist(c.Request.Context(), ip); err != nil {
		h.respondError(c, err, "Failed to remove IP from blacklist")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "IP removed from blacklist",
		"ip":        ip,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// RateLimitInfoHandler devolve a janela de rate limiting de um IP
func (h *Handlers) RateLimitInfoHandler(c *gin.Context) {
	ip := c.Param("ip")

	record, err := h.service.GetRateLimitInfo(c.Request.Context(), ip)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve rate limit info")
		return
	}

	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No rate limit record for this IP",
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

// SuspiciousHandler lista os contadores de violações
func (h *Handlers) SuspiciousHandler(c *gin.Context) {
	items, err := h.service.GetSuspiciousIPs(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list suspicious IPs")
		return
	}
	if items == nil {
		items = []domain.SuspiciousIP{}
	}

	c.JSON(http.StatusOK, gin.H{
		"ips":   items,
		"count": len(items),
	})
}

// GetConfigHandler devolve a configuração vigente
func (h *Handlers) GetConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetConfig())
}

// UpdateConfigHandler aplica uma atualização parcial da configuração
func (h *Handlers) UpdateConfigHandler(c *gin.Context) {
	var update domain.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := h.service.UpdateConfig(update); err != nil {
		h.respondError(c, err, "Failed to update config")
		return
	}

	c.JSON(http.StatusOK, h.service.GetConfig())
}

// StatsHandler resume o estado do anti-spam
func (h *Handlers) StatsHandler(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to retrieve stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// CleanupHandler executa uma varredura imediatamente
func (h *Handlers) CleanupHandler(c *gin.Context) {
	result, err := h.service.CleanupOldEntries(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to cleanup old entries")
		return
	}

	c.JSON(http.StatusOK, result)
}

// respondError mapeia erros de validação para 400 e o resto para 500
func (h *Handlers) respondError(c *gin.Context, err error, message string) {
	if errors.Is(err, domain.ErrInvalidIP) || errors.Is(err, domain.ErrInvalidConfig) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	h.logger.WithContext(c.Request.Context()).Error(message, err, map[string]interface{}{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	})

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_server_error",
		"message": message,
	})
}
