package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"anti-spam/internal/domain"
)

const (
	userAgentPenalty  = 0.4
	genericNameScore  = 0.2
	disposablePenalty = 0.6
	minNameLength     = 2
)

var suspiciousUserAgent = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|curl|wget|python`)

var genericNames = map[string]struct{}{
	"test":          {},
	"teste":         {},
	"testing":       {},
	"admin":         {},
	"administrator": {},
	"user":          {},
	"usuario":       {},
	"usuário":       {},
	"anonymous":     {},
	"anonimo":       {},
	"anônimo":       {},
	"john doe":      {},
	"jane doe":      {},
	"fulano":        {},
	"fulano de tal": {},
	"asdf":          {},
	"qwerty":        {},
	"abc":           {},
	"aaa":           {},
	"xxx":           {},
	"name":          {},
	"nome":          {},
	"spam":          {},
	"null":          {},
	"undefined":     {},
}

var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"guerrillamail.com": {},
	"guerrillamail.net": {},
	"sharklasers.com":   {},
	"mailinator.com":    {},
	"tempmail.org":      {},
	"temp-mail.org":     {},
	"tempmail.com":      {},
	"throwawaymail.com": {},
	"yopmail.com":       {},
	"getnada.com":       {},
	"trashmail.com":     {},
	"maildrop.cc":       {},
	"dispostable.com":   {},
	"fakeinbox.com":     {},
	"mintemail.com":     {},
	"emailondeck.com":   {},
	"mohmal.com":        {},
	"discard.email":     {},
	"mailnesia.com":     {},
}

// BehaviorAnalyzer pontua os metadados da requisição
type BehaviorAnalyzer struct{}

// NewBehaviorAnalyzer cria um analisador de comportamento
func NewBehaviorAnalyzer() *BehaviorAnalyzer {
	return &BehaviorAnalyzer{}
}

// Analyze soma as penalidades; o chamador satura o resultado
func (a *BehaviorAnalyzer) Analyze(userAgent, name, email string) (float64, []string) {
	var score float64
	reasons := []string{}

	if isSuspiciousUserAgent(userAgent) {
		score += userAgentPenalty
		reasons = append(reasons, "Suspicious user agent")
	}

	if isGenericName(name) {
		score += genericNameScore
		reasons = append(reasons, "Generic or suspicious name")
	}

	if isDisposableEmail(email) {
		score += disposablePenalty
		reasons = append(reasons, "Disposable email address")
	}

	return score, reasons
}

// isSuspiciousUserAgent só avalia user agents informados
func isSuspiciousUserAgent(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return suspiciousUserAgent.MatchString(userAgent)
}

func isGenericName(name string) bool {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if utf8.RuneCountInString(normalized) < minNameLength {
		return true
	}
	_, generic := genericNames[normalized]
	return generic
}

func isDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, disposable := disposableDomains[strings.ToLower(strings.TrimSpace(email[at+1:]))]
	return disposable
}

// combineConfidence aplica a regra de máximo entre analisadores
func combineConfidence(running, next float64) float64 {
	next = domain.ClampConfidence(next)
	if next > running {
		return next
	}
	return running
}
