package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig indica uma configuração inconsistente (ex.: maxRequests <= 0)
	ErrInvalidConfig = errors.New("invalid anti-spam config")
	// ErrInvalidIP indica um endereço IP vazio ou inválido em operações administrativas
	ErrInvalidIP = errors.New("invalid ip address")
)

// Action é a ação recomendada para o chamador do formulário
type Action string

const (
	ActionAllow     Action = "allow"
	ActionBlock     Action = "block"
	ActionChallenge Action = "challenge"
)

// Limiares de confiança usados pelo pipeline de verificação
const (
	RateLimitConfidence       = 0.8
	HoneypotConfidence        = 0.9
	BlacklistConfidence       = 1.0
	ContentBlockThreshold     = 0.7
	ContentChallengeThreshold = 0.4
	BehaviorBlockThreshold    = 0.6
)

// Reasons fixas produzidas pelas verificações de bloqueio imediato
const (
	ReasonBlacklisted    = "IP address is blacklisted"
	ReasonHoneypotFilled = "Honeypot field filled"
)

// SpamCheckRequest representa uma submissão candidata vinda de um formulário
type SpamCheckRequest struct {
	IP        string `json:"ip"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Subject   string `json:"subject"`
	Honeypot  string `json:"honeypot,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// SpamCheckResult é o veredito da verificação
type SpamCheckResult struct {
	IsSpam     bool     `json:"isSpam"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Action     Action   `json:"action"`
}

// NewAllowResult cria um resultado neutro (permitido, confiança zero)
func NewAllowResult() *SpamCheckResult {
	return &SpamCheckResult{
		IsSpam:     false,
		Confidence: 0,
		Reasons:    []string{},
		Action:     ActionAllow,
	}
}

// NewBlockResult cria um resultado de bloqueio imediato
func NewBlockResult(confidence float64, reason string) *SpamCheckResult {
	return &SpamCheckResult{
		IsSpam:     true,
		Confidence: ClampConfidence(confidence),
		Reasons:    []string{reason},
		Action:     ActionBlock,
	}
}

// ClampConfidence satura a confiança no intervalo [0, 1]
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RateLimitRecord representa a janela de rate limiting de um IP
type RateLimitRecord struct {
	IP          string    `json:"ip"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"windowStart"`
	Blocked     bool      `json:"blocked"`
	ResetTime   time.Time `json:"resetTime"`
}

// RateLimitPolicy agrupa os parâmetros de rate limiting aplicados a um hit
type RateLimitPolicy struct {
	MaxRequests     int
	Window          time.Duration
	BlockDuration   time.Duration
	BlockUntilReset bool
}

// NextRateLimitRecord calcula o próximo estado de um registro de rate limiting.
// prev nil significa primeira requisição do IP.
func NextRateLimitRecord(ip string, prev *RateLimitRecord, now time.Time, p RateLimitPolicy) RateLimitRecord {
	if prev == nil || prev.startsFresh(now, p) {
		return RateLimitRecord{
			IP:          ip,
			Count:       1,
			WindowStart: now,
			Blocked:     false,
			ResetTime:   now.Add(p.Window),
		}
	}

	next := *prev
	next.IP = ip
	next.Count++
	if next.Count > p.MaxRequests {
		next.Blocked = true
		next.ResetTime = now.Add(p.BlockDuration)
	}
	return next
}

// startsFresh indica se o próximo hit deve abrir uma nova janela
func (r *RateLimitRecord) startsFresh(now time.Time, p RateLimitPolicy) bool {
	if r.Blocked && p.BlockUntilReset {
		return !now.Before(r.ResetTime)
	}
	return now.Sub(r.WindowStart) > p.Window
}

// Expired indica se o registro pode ser removido pela varredura periódica
func (r *RateLimitRecord) Expired(now time.Time, p RateLimitPolicy) bool {
	return now.Sub(r.WindowStart) > p.Window+p.BlockDuration && now.After(r.ResetTime)
}

// SuspiciousActivity é o contador de violações de um IP
type SuspiciousActivity struct {
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// Stale indica se o contador está inativo há mais tempo que ttl
func (s *SuspiciousActivity) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastSeen) > ttl
}

// SuspiciousIP é a visão administrativa de um contador de violações
type SuspiciousIP struct {
	IP       string    `json:"ip"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// StorageStats resume o estado do armazenamento de reputação
type StorageStats struct {
	Blacklisted int `json:"blacklisted"`
	Suspicious  int `json:"suspicious"`
	RateLimited int `json:"rateLimited"`
	Blocked     int `json:"blocked"`
}

// Stats é a visão administrativa exposta por GetStats
type Stats struct {
	TotalBlacklisted int `json:"totalBlacklisted"`
	TotalSuspicious  int `json:"totalSuspicious"`
	RateLimitedIPs   int `json:"rateLimitedIPs"`
	BlockedIPs       int `json:"blockedIPs"`
}

// SweepPolicy define as idades máximas usadas pela limpeza periódica
type SweepPolicy struct {
	RateLimit     RateLimitPolicy
	SuspiciousTTL time.Duration
}

// SweepResult informa quantas entradas foram removidas numa varredura
type SweepResult struct {
	RateLimitsEvicted int       `json:"rateLimitsEvicted"`
	SuspiciousEvicted int       `json:"suspiciousEvicted"`
	SweptAt           time.Time `json:"sweptAt"`
}

// RateLimitConfig configura o limitador por IP
type RateLimitConfig struct {
	MaxRequests     int           `json:"maxRequests"`
	Window          time.Duration `json:"-"`
	BlockDuration   time.Duration `json:"-"`
	BlockUntilReset bool          `json:"blockUntilReset"`
}

// MarshalJSON expõe as durações em milissegundos
func (c RateLimitConfig) MarshalJSON() ([]byte, error) {
	type alias RateLimitConfig
	return json.Marshal(struct {
		alias
		WindowMs        int64 `json:"windowMs"`
		BlockDurationMs int64 `json:"blockDurationMs"`
	}{
		alias:           alias(c),
		WindowMs:        c.Window.Milliseconds(),
		BlockDurationMs: c.BlockDuration.Milliseconds(),
	})
}

// ContentAnalysisConfig configura a análise heurística do texto
type ContentAnalysisConfig struct {
	Enabled            bool     `json:"enabled"`
	SpamKeywords       []string `json:"spamKeywords"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
	MaxLinkCount       int      `json:"maxLinkCount"`
	MinMessageLength   int      `json:"minMessageLength"`
	MaxMessageLength   int      `json:"maxMessageLength"`
}

// HoneypotConfig configura a verificação do campo armadilha
type HoneypotConfig struct {
	Enabled   bool   `json:"enabled"`
	FieldName string `json:"fieldName"`
}

// IPBlacklistConfig configura a lista negra e o bloqueio automático
type IPBlacklistConfig struct {
	Enabled            bool     `json:"enabled"`
	IPs                []string `json:"ips"`
	AutoBlock          bool     `json:"autoBlock"`
	AutoBlockThreshold int      `json:"autoBlockThreshold"`
}

// AntiSpamConfig é a configuração completa do serviço
type AntiSpamConfig struct {
	Enabled         bool                  `json:"enabled"`
	RateLimit       RateLimitConfig       `json:"rateLimit"`
	ContentAnalysis ContentAnalysisConfig `json:"contentAnalysis"`
	Honeypot        HoneypotConfig        `json:"honeypot"`
	IPBlacklist     IPBlacklistConfig     `json:"ipBlacklist"`
	CleanupInterval time.Duration         `json:"-"`
	SuspiciousTTL   time.Duration         `json:"-"`
	MaxTrackedIPs   int                   `json:"maxTrackedIps"`
}

// MarshalJSON expõe as durações em milissegundos
func (c AntiSpamConfig) MarshalJSON() ([]byte, error) {
	type alias AntiSpamConfig
	return json.Marshal(struct {
		alias
		CleanupIntervalMs int64 `json:"cleanupIntervalMs"`
		SuspiciousTTLMs   int64 `json:"suspiciousTtlMs"`
	}{
		alias:             alias(c),
		CleanupIntervalMs: c.CleanupInterval.Milliseconds(),
		SuspiciousTTLMs:   c.SuspiciousTTL.Milliseconds(),
	})
}

// DefaultAntiSpamConfig retorna a configuração padrão documentada
func DefaultAntiSpamConfig() AntiSpamConfig {
	return AntiSpamConfig{
		Enabled: true,
		RateLimit: RateLimitConfig{
			MaxRequests:     5,
			Window:          15 * time.Minute,
			BlockDuration:   time.Hour,
			BlockUntilReset: true,
		},
		ContentAnalysis: ContentAnalysisConfig{
			Enabled:            true,
			SpamKeywords:       append([]string(nil), DefaultSpamKeywords...),
			SuspiciousKeywords: append([]string(nil), DefaultSuspiciousKeywords...),
			MaxLinkCount:       2,
			MinMessageLength:   10,
			MaxMessageLength:   5000,
		},
		Honeypot: HoneypotConfig{
			Enabled:   true,
			FieldName: "website",
		},
		IPBlacklist: IPBlacklistConfig{
			Enabled:            true,
			IPs:                []string{},
			AutoBlock:          true,
			AutoBlockThreshold: 5,
		},
		CleanupInterval: 5 * time.Minute,
		SuspiciousTTL:   24 * time.Hour,
		MaxTrackedIPs:   100000,
	}
}

// Clone devolve uma cópia profunda da configuração
func (c AntiSpamConfig) Clone() AntiSpamConfig {
	out := c
	out.ContentAnalysis.SpamKeywords = append([]string(nil), c.ContentAnalysis.SpamKeywords...)
	out.ContentAnalysis.SuspiciousKeywords = append([]string(nil), c.ContentAnalysis.SuspiciousKeywords...)
	out.IPBlacklist.IPs = append([]string(nil), c.IPBlacklist.IPs...)
	return out
}

// RateLimitPolicy extrai a política de rate limiting da configuração
func (c AntiSpamConfig) RateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		MaxRequests:     c.RateLimit.MaxRequests,
		Window:          c.RateLimit.Window,
		BlockDuration:   c.RateLimit.BlockDuration,
		BlockUntilReset: c.RateLimit.BlockUntilReset,
	}
}

// SweepPolicy extrai a política de limpeza da configuração
func (c AntiSpamConfig) SweepPolicy() SweepPolicy {
	return SweepPolicy{
		RateLimit:     c.RateLimitPolicy(),
		SuspiciousTTL: c.SuspiciousTTL,
	}
}

// Validate rejeita valores sem sentido (ex.: maxRequests=0 bloquearia tudo)
func (c AntiSpamConfig) Validate() error {
	switch {
	case c.RateLimit.MaxRequests <= 0:
		return fmt.Errorf("%w: maxRequests must be greater than 0", ErrInvalidConfig)
	case c.RateLimit.Window <= 0:
		return fmt.Errorf("%w: window must be greater than 0", ErrInvalidConfig)
	case c.RateLimit.BlockDuration <= 0:
		return fmt.Errorf("%w: blockDuration must be greater than 0", ErrInvalidConfig)
	case c.ContentAnalysis.MaxLinkCount < 0:
		return fmt.Errorf("%w: maxLinkCount must not be negative", ErrInvalidConfig)
	case c.ContentAnalysis.MinMessageLength < 0:
		return fmt.Errorf("%w: minMessageLength must not be negative", ErrInvalidConfig)
	case c.ContentAnalysis.MaxMessageLength <= 0:
		return fmt.Errorf("%w: maxMessageLength must be greater than 0", ErrInvalidConfig)
	case c.IPBlacklist.AutoBlockThreshold <= 0:
		return fmt.Errorf("%w: autoBlockThreshold must be greater than 0", ErrInvalidConfig)
	case c.CleanupInterval <= 0:
		return fmt.Errorf("%w: cleanupInterval must be greater than 0", ErrInvalidConfig)
	case c.SuspiciousTTL <= 0:
		return fmt.Errorf("%w: suspiciousTTL must be greater than 0", ErrInvalidConfig)
	case c.MaxTrackedIPs <= 0:
		return fmt.Errorf("%w: maxTrackedIPs must be greater than 0", ErrInvalidConfig)
	}
	return nil
}

// ConfigUpdate é uma atualização parcial; campos nil são mantidos
type ConfigUpdate struct {
	Enabled         *bool                        `json:"enabled,omitempty"`
	RateLimit       *RateLimitConfigUpdate       `json:"rateLimit,omitempty"`
	ContentAnalysis *ContentAnalysisConfigUpdate `json:"contentAnalysis,omitempty"`
	Honeypot        *HoneypotConfigUpdate        `json:"honeypot,omitempty"`
	IPBlacklist     *IPBlacklistConfigUpdate     `json:"ipBlacklist,omitempty"`
}

// RateLimitConfigUpdate usa milissegundos, como a configuração por ambiente
type RateLimitConfigUpdate struct {
	MaxRequests     *int   `json:"maxRequests,omitempty"`
	WindowMs        *int64 `json:"windowMs,omitempty"`
	BlockDurationMs *int64 `json:"blockDurationMs,omitempty"`
	BlockUntilReset *bool  `json:"blockUntilReset,omitempty"`
}

type ContentAnalysisConfigUpdate struct {
	Enabled            *bool    `json:"enabled,omitempty"`
	SpamKeywords       []string `json:"spamKeywords,omitempty"`
	SuspiciousKeywords []string `json:"suspiciousKeywords,omitempty"`
	MaxLinkCount       *int     `json:"maxLinkCount,omitempty"`
	MinMessageLength   *int     `json:"minMessageLength,omitempty"`
	MaxMessageLength   *int     `json:"maxMessageLength,omitempty"`
}

type HoneypotConfigUpdate struct {
	Enabled   *bool   `json:"enabled,omitempty"`
	FieldName *string `json:"fieldName,omitempty"`
}

type IPBlacklistConfigUpdate struct {
	Enabled            *bool `json:"enabled,omitempty"`
	AutoBlock          *bool `json:"autoBlock,omitempty"`
	AutoBlockThreshold *int  `json:"autoBlockThreshold,omitempty"`
}

// Apply devolve uma nova configuração com a atualização mesclada (shallow merge)
func (u ConfigUpdate) Apply(base AntiSpamConfig) AntiSpamConfig {
	out := base.Clone()

	if u.Enabled != nil {
		out.Enabled = *u.Enabled
	}

	if rl := u.RateLimit; rl != nil {
		if rl.MaxRequests != nil {
			out.RateLimit.MaxRequests = *rl.MaxRequests
		}
		if rl.WindowMs != nil {
			out.RateLimit.Window = time.Duration(*rl.WindowMs) * time.Millisecond
		}
		if rl.BlockDurationMs != nil {
			out.RateLimit.BlockDuration = time.Duration(*rl.BlockDurationMs) * time.Millisecond
		}
		if rl.BlockUntilReset != nil {
			out.RateLimit.BlockUntilReset = *rl.BlockUntilReset
		}
	}

	if ca := u.ContentAnalysis; ca != nil {
		if ca.Enabled != nil {
			out.ContentAnalysis.Enabled = *ca.Enabled
		}
		if ca.SpamKeywords != nil {
			out.ContentAnalysis.SpamKeywords = append([]string(nil), ca.SpamKeywords...)
		}
		if ca.SuspiciousKeywords != nil {
			out.ContentAnalysis.SuspiciousKeywords = append([]string(nil), ca.SuspiciousKeywords...)
		}
		if ca.MaxLinkCount != nil {
			out.ContentAnalysis.MaxLinkCount = *ca.MaxLinkCount
		}
		if ca.MinMessageLength != nil {
			out.ContentAnalysis.MinMessageLength = *ca.MinMessageLength
		}
		if ca.MaxMessageLength != nil {
			out.ContentAnalysis.MaxMessageLength = *ca.MaxMessageLength
		}
	}

	if hp := u.Honeypot; hp != nil {
		if hp.Enabled != nil {
			out.Honeypot.Enabled = *hp.Enabled
		}
		if hp.FieldName != nil {
			out.Honeypot.FieldName = *hp.FieldName
		}
	}

	if bl := u.IPBlacklist; bl != nil {
		if bl.Enabled != nil {
			out.IPBlacklist.Enabled = *bl.Enabled
		}
		if bl.AutoBlock != nil {
			out.IPBlacklist.AutoBlock = *bl.AutoBlock
		}
		if bl.AutoBlockThreshold != nil {
			out.IPBlacklist.AutoBlockThreshold = *bl.AutoBlockThreshold
		}
	}

	return out
}
