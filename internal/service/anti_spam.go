package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"anti-spam/internal/domain"
	"anti-spam/internal/metrics"
)

// unknownIP agrupa requisições sem endereço identificável
const unknownIP = "unknown"

// verdictLogger é implementado pelo logger estruturado
type verdictLogger interface {
	LogSpamVerdict(ip string, result *domain.SpamCheckResult, fields map[string]interface{})
}

// configEventLogger é implementado pelo logger estruturado
type configEventLogger interface {
	LogConfigEvent(eventType string, details map[string]interface{})
}

// Option configura o AntiSpamService na construção
type Option func(*AntiSpamService)

// WithClock substitui o relógio (útil em testes)
func WithClock(clock func() time.Time) Option {
	return func(s *AntiSpamService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// AntiSpamService orquestra as verificações de spam.
// Todo o estado mutável vive no storage; a configuração é trocada por inteiro
// sob o RWMutex, então uma verificação em andamento usa sempre um snapshot.
type AntiSpamService struct {
	storage domain.ReputationStorage
	logger  domain.Logger
	clock   func() time.Time

	mu       sync.RWMutex
	config   domain.AntiSpamConfig
	content  *ContentAnalyzer
	behavior *BehaviorAnalyzer

	sweeper *Sweeper
}

// NewAntiSpamService valida a configuração, semeia a lista negra e cria o serviço.
// A limpeza periódica só começa com Start.
func NewAntiSpamService(
	ctx context.Context,
	storage domain.ReputationStorage,
	config domain.AntiSpamConfig,
	logger domain.Logger,
	opts ...Option,
) (*AntiSpamService, error) {
	if storage == nil {
		return nil, errors.New("reputation storage cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &AntiSpamService{
		storage:  storage,
		logger:   logger,
		clock:    time.Now,
		config:   config.Clone(),
		content:  NewContentAnalyzer(config.ContentAnalysis),
		behavior: NewBehaviorAnalyzer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, raw := range config.IPBlacklist.IPs {
		ip, err := normalizeIP(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid seed blacklist entry: %w", err)
		}
		if err := storage.AddToBlacklist(ctx, ip); err != nil {
			return nil, fmt.Errorf("failed to seed blacklist: %w", err)
		}
	}

	s.sweeper = NewSweeper(s, config.CleanupInterval, logger)

	logger.Info("Anti-spam service initialized", map[string]interface{}{
		"enabled":          config.Enabled,
		"max_requests":     config.RateLimit.MaxRequests,
		"window_ms":        config.RateLimit.Window.Milliseconds(),
		"block_ms":         config.RateLimit.BlockDuration.Milliseconds(),
		"seed_blacklisted": len(config.IPBlacklist.IPs),
	})

	return s, nil
}

// Start inicia a limpeza periódica
func (s *AntiSpamService) Start() {
	s.sweeper.Start()
}

// Stop interrompe a limpeza periódica e aguarda o término
func (s *AntiSpamService) Stop() {
	s.sweeper.Stop()
}

// CheckMessage executa o pipeline de verificação na ordem:
// lista negra, rate limit, honeypot, conteúdo e comportamento.
func (s *AntiSpamService) CheckMessage(ctx context.Context, req *domain.SpamCheckRequest) (*domain.SpamCheckResult, error) {
	if req == nil {
		return nil, errors.New("spam check request cannot be nil")
	}

	config, content, behavior := s.snapshot()
	if !config.Enabled {
		return domain.NewAllowResult(), nil
	}

	ip := canonicalIP(req.IP)
	now := s.clock()
	log := s.logger.WithContext(ctx)

	// 1. Lista negra
	if config.IPBlacklist.Enabled {
		listed, err := s.storage.IsBlacklisted(ctx, ip)
		if err != nil {
			log.Error("Failed to check blacklist", err, map[string]interface{}{"ip": ip})
			return nil, fmt.Errorf("failed to check blacklist: %w", err)
		}
		if listed {
			metrics.RecordSignal(metrics.SignalBlacklist)
			result := domain.NewBlockResult(domain.BlacklistConfidence, domain.ReasonBlacklisted)
			s.recordVerdict(log, ip, result)
			return result, nil
		}
	}

	// 2. Rate limit (o hit também registra a requisição)
	record, err := s.storage.HitRateLimit(ctx, ip, now, config.RateLimitPolicy())
	if err != nil {
		log.Error("Failed to record rate limit hit", err, map[string]interface{}{"ip": ip})
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if record.Blocked {
		metrics.RecordSignal(metrics.SignalRateLimit)
		result := domain.NewBlockResult(domain.RateLimitConfidence,
			fmt.Sprintf("Rate limit exceeded (%d requests)", record.Count))
		if err := s.recordSuspiciousActivity(ctx, log, ip, now, config); err != nil {
			return nil, err
		}
		s.recordVerdict(log, ip, result)
		return result, nil
	}

	// 3. Honeypot
	if config.Honeypot.Enabled && req.Honeypot != "" {
		metrics.RecordSignal(metrics.SignalHoneypot)
		result := domain.NewBlockResult(domain.HoneypotConfidence, domain.ReasonHoneypotFilled)
		if err := s.recordSuspiciousActivity(ctx, log, ip, now, config); err != nil {
			return nil, err
		}
		s.recordVerdict(log, ip, result)
		return result, nil
	}

	result := domain.NewAllowResult()
	flagged := false

	// 4. Conteúdo: soma interna, máximo com o acumulado
	if config.ContentAnalysis.Enabled {
		confidence, reasons := content.Analyze(req.Message, req.Subject, req.Name, req.Email)
		result.Confidence = combineConfidence(result.Confidence, confidence)
		result.Reasons = append(result.Reasons, reasons...)

		if confidence >= domain.ContentChallengeThreshold {
			metrics.RecordSignal(metrics.SignalContent)
		}

		if result.Confidence >= domain.ContentBlockThreshold {
			result.IsSpam = true
			result.Action = domain.ActionBlock
			flagged = true
		} else if result.Confidence >= domain.ContentChallengeThreshold {
			result.Action = domain.ActionChallenge
		}
	}

	// 5. Comportamento
	confidence, reasons := behavior.Analyze(req.UserAgent, req.Name, req.Email)
	result.Confidence = combineConfidence(result.Confidence, confidence)
	result.Reasons = append(result.Reasons, reasons...)

	if confidence >= domain.BehaviorBlockThreshold {
		metrics.RecordSignal(metrics.SignalBehavior)
	}

	if result.Confidence >= domain.BehaviorBlockThreshold {
		result.IsSpam = true
		result.Action = domain.ActionBlock
		flagged = true
	}

	if flagged {
		if err := s.recordSuspiciousActivity(ctx, log, ip, now, config); err != nil {
			return nil, err
		}
	}

	s.recordVerdict(log, ip, result)
	return result, nil
}

// recordSuspiciousActivity incrementa o contador e promove o IP à lista negra
func (s *AntiSpamService) recordSuspiciousActivity(ctx context.Context, log domain.Logger, ip string, now time.Time, config domain.AntiSpamConfig) error {
	count, err := s.storage.IncrementSuspicious(ctx, ip, now)
	if err != nil {
		log.Error("Failed to record suspicious activity", err, map[string]interface{}{"ip": ip})
		return fmt.Errorf("failed to record suspicious activity: %w", err)
	}

	if !config.IPBlacklist.AutoBlock || count < config.IPBlacklist.AutoBlockThreshold {
		return nil
	}

	// Com a lista negra desligada o IP segue violando; só a primeira promoção conta
	listed, err := s.storage.IsBlacklisted(ctx, ip)
	if err != nil {
		log.Error("Failed to check blacklist before auto-blacklisting", err, map[string]interface{}{"ip": ip})
		return fmt.Errorf("failed to check blacklist for %s: %w", ip, err)
	}
	if listed {
		return nil
	}

	if err := s.storage.AddToBlacklist(ctx, ip); err != nil {
		log.Error("Failed to auto-blacklist IP", err, map[string]interface{}{"ip": ip})
		return fmt.Errorf("failed to auto-blacklist %s: %w", ip, err)
	}

	metrics.AutoBlacklisted.Inc()
	log.Warn("IP auto-blacklisted after repeated violations", map[string]interface{}{
		"ip":               ip,
		"suspicious_count": count,
		"threshold":        config.IPBlacklist.AutoBlockThreshold,
	})
	return nil
}

// recordVerdict registra o veredito em métricas e logs
func (s *AntiSpamService) recordVerdict(log domain.Logger, ip string, result *domain.SpamCheckResult) {
	metrics.RecordCheck(string(result.Action))

	if vl, ok := log.(verdictLogger); ok {
		vl.LogSpamVerdict(ip, result, nil)
		return
	}
	log.Info("Spam check completed", map[string]interface{}{
		"ip":         ip,
		"action":     result.Action,
		"confidence": result.Confidence,
	})
}

// AddToBlacklist insere um IP na lista negra
func (s *AntiSpamService) AddToBlacklist(ctx context.Context, ip string) error {
	normalized, err := normalizeIP(ip)
	if err != nil {
		return err
	}

	if err := s.storage.AddToBlacklist(ctx, normalized); err != nil {
		return fmt.Errorf("failed to add to blacklist: %w", err)
	}

	s.logger.WithContext(ctx).Info("IP added to blacklist", map[string]interface{}{"ip": normalized})
	return nil
}

// RemoveFromBlacklist remove um IP da lista negra
func (s *AntiSpamService) RemoveFromBlacklist(ctx context.Context, ip string) error {
	normalized, err := normalizeIP(ip)
	if err != nil {
		return err
	}

	if err := s.storage.RemoveFromBlacklist(ctx, normalized); err != nil {
		return fmt.Errorf("failed to remove from blacklist: %w", err)
	}

	s.logger.WithContext(ctx).Info("IP removed from blacklist", map[string]interface{}{"ip": normalized})
	return nil
}

// GetBlacklist lista os IPs bloqueados
func (s *AntiSpamService) GetBlacklist(ctx context.Context) ([]string, error) {
	ips, err := s.storage.ListBlacklist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	return ips, nil
}

// GetRateLimitInfo retorna o registro de rate limiting (nil se não houver)
func (s *AntiSpamService) GetRateLimitInfo(ctx context.Context, ip string) (*domain.RateLimitRecord, error) {
	normalized, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}

	record, err := s.storage.GetRateLimit(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit info: %w", err)
	}
	return record, nil
}

// GetSuspiciousIPs lista os contadores de violações
func (s *AntiSpamService) GetSuspiciousIPs(ctx context.Context) ([]domain.SuspiciousIP, error) {
	items, err := s.storage.ListSuspicious(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspicious IPs: %w", err)
	}
	return items, nil
}

// UpdateConfig mescla a atualização, valida e só então substitui a configuração
func (s *AntiSpamService) UpdateConfig(update domain.ConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := update.Apply(s.config)
	if err := merged.Validate(); err != nil {
		s.logger.Warn("Rejected invalid config update", map[string]interface{}{"error": err.Error()})
		return err
	}

	s.config = merged
	if update.ContentAnalysis != nil {
		s.content = NewContentAnalyzer(merged.ContentAnalysis)
	}

	details := map[string]interface{}{
		"enabled":           merged.Enabled,
		"max_requests":      merged.RateLimit.MaxRequests,
		"window_ms":         merged.RateLimit.Window.Milliseconds(),
		"block_ms":          merged.RateLimit.BlockDuration.Milliseconds(),
		"content_enabled":   merged.ContentAnalysis.Enabled,
		"honeypot_enabled":  merged.Honeypot.Enabled,
		"blacklist_enabled": merged.IPBlacklist.Enabled,
		"auto_block":        merged.IPBlacklist.AutoBlock,
	}
	if cl, ok := s.logger.(configEventLogger); ok {
		cl.LogConfigEvent("config_updated", details)
	} else {
		s.logger.Info("Configuration updated", details)
	}
	return nil
}

// GetConfig retorna uma cópia da configuração atual
func (s *AntiSpamService) GetConfig() domain.AntiSpamConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// GetStats resume o estado do storage
func (s *AntiSpamService) GetStats(ctx context.Context) (*domain.Stats, error) {
	stats, err := s.storage.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &domain.Stats{
		TotalBlacklisted: stats.Blacklisted,
		TotalSuspicious:  stats.Suspicious,
		RateLimitedIPs:   stats.RateLimited,
		BlockedIPs:       stats.Blocked,
	}, nil
}

// CleanupOldEntries executa uma varredura imediatamente
func (s *AntiSpamService) CleanupOldEntries(ctx context.Context) (*domain.SweepResult, error) {
	config, _, _ := s.snapshot()

	result, err := s.storage.Sweep(ctx, s.clock(), config.SweepPolicy())
	if err != nil {
		s.logger.Error("Cleanup sweep failed", err, nil)
		return nil, fmt.Errorf("failed to cleanup old entries: %w", err)
	}

	metrics.RecordSweep(result.RateLimitsEvicted, result.SuspiciousEvicted)

	fields := map[string]interface{}{
		"rate_limits_evicted": result.RateLimitsEvicted,
		"suspicious_evicted":  result.SuspiciousEvicted,
	}
	if result.RateLimitsEvicted > 0 || result.SuspiciousEvicted > 0 {
		s.logger.Info("Cleanup sweep evicted entries", fields)
	} else {
		s.logger.Debug("Cleanup sweep completed", fields)
	}
	return result, nil
}

// Health verifica o storage
func (s *AntiSpamService) Health(ctx context.Context) error {
	return s.storage.Health(ctx)
}

// snapshot devolve a configuração e os analisadores vigentes
func (s *AntiSpamService) snapshot() (domain.AntiSpamConfig, *ContentAnalyzer, *BehaviorAnalyzer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.content, s.behavior
}

// normalizeIP valida um IP administrativo e devolve a forma canônica
func normalizeIP(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty address", domain.ErrInvalidIP)
	}
	parsed := net.ParseIP(trimmed)
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidIP, raw)
	}
	return parsed.String(), nil
}

// canonicalIP normaliza o IP de uma verificação sem rejeitar valores estranhos
func canonicalIP(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return unknownIP
	}
	if parsed := net.ParseIP(trimmed); parsed != nil {
		return parsed.String()
	}
	return trimmed
}
