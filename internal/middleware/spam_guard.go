package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"anti-spam/internal/domain"
)

// VerdictKey guarda o resultado da verificação no gin.Context
const VerdictKey = "spam_verdict"

// checkTimeout limita o tempo gasto consultando o storage
const checkTimeout = 5 * time.Second

// MessageChecker é a parte do serviço anti-spam usada pelo guard
type MessageChecker interface {
	CheckMessage(ctx context.Context, req *domain.SpamCheckRequest) (*domain.SpamCheckResult, error)
}

// FormSubmission é o corpo esperado dos formulários protegidos.
// O campo armadilha é aceito como "website" ou "honeypot".
type FormSubmission struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Message  string `json:"message"`
	Subject  string `json:"subject"`
	Website  string `json:"website"`
	Honeypot string `json:"honeypot"`
}

// HoneypotValue devolve o conteúdo do campo armadilha
func (f FormSubmission) HoneypotValue() string {
	if f.Website != "" {
		return f.Website
	}
	return f.Honeypot
}

// SpamGuardMiddleware barra submissões de formulário classificadas como spam
type SpamGuardMiddleware struct {
	checker MessageChecker
	logger  domain.Logger
}

// NewSpamGuard cria o middleware. O corpo é lido com ShouldBindBodyWith,
// então o handler seguinte pode fazer o bind de novo.
func NewSpamGuard(checker MessageChecker, logger domain.Logger) gin.HandlerFunc {
	guard := &SpamGuardMiddleware{
		checker: checker,
		logger:  logger,
	}

	return guard.Handle
}

// Handle executa a verificação antes do handler do formulário
func (m *SpamGuardMiddleware) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	logger := m.logger.WithContext(ctx)

	var form FormSubmission
	if err := c.ShouldBindBodyWith(&form, binding.JSON); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid form submission",
		})
		return
	}

	clientIP := GetClientIP(c)
	result, err := m.checker.CheckMessage(ctx, &domain.SpamCheckRequest{
		IP:        clientIP,
		Email:     form.Email,
		Name:      form.Name,
		Message:   form.Message,
		Subject:   form.Subject,
		Honeypot:  form.HoneypotValue(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		logger.Error("Spam check failed", err, map[string]interface{}{
			"client_ip": clientIP,
			"path":      c.Request.URL.Path,
		})

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"message": "Unable to process your submission",
		})
		return
	}

	c.Set(VerdictKey, result)

	// Os motivos nunca são devolvidos a quem submeteu o formulário
	switch result.Action {
	case domain.ActionBlock:
		logger.Info("Form submission rejected", map[string]interface{}{
			"client_ip":  clientIP,
			"confidence": result.Confidence,
			"reasons":    result.Reasons,
		})

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "submission_rejected",
			"message": "Your submission could not be accepted",
		})
		return

	case domain.ActionChallenge:
		logger.Info("Form submission requires verification", map[string]interface{}{
			"client_ip":  clientIP,
			"confidence": result.Confidence,
		})

		c.AbortWithStatusJSON(http.StatusPreconditionRequired, gin.H{
			"error":   "verification_required",
			"message": "Please complete the verification step and submit again",
		})
		return
	}

	c.Next()
}

// GetVerdict devolve o veredito gravado pelo guard, se houver
func GetVerdict(c *gin.Context) (*domain.SpamCheckResult, bool) {
	value, ok := c.Get(VerdictKey)
	if !ok {
		return nil, false
	}
	result, ok := value.(*domain.SpamCheckResult)
	return result, ok
}
