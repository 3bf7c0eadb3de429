package domain

import (
	"context"
	"time"
)

// ReputationStorage define a interface para o estado mutável do anti-spam
// (janelas de rate limiting, contadores de violações e lista negra).
// Implementa o Strategy Pattern: memória ou Redis.
type ReputationStorage interface {
	// HitRateLimit registra uma requisição do IP e devolve o registro atualizado.
	// A leitura-incremento-escrita é atômica por IP.
	HitRateLimit(ctx context.Context, ip string, now time.Time, policy RateLimitPolicy) (*RateLimitRecord, error)

	// GetRateLimit recupera o registro de um IP (nil se não existir)
	GetRateLimit(ctx context.Context, ip string) (*RateLimitRecord, error)

	// IncrementSuspicious incrementa o contador de violações e retorna o novo valor
	IncrementSuspicious(ctx context.Context, ip string, now time.Time) (int, error)

	// ListSuspicious lista os contadores de violações ativos
	ListSuspicious(ctx context.Context) ([]SuspiciousIP, error)

	// AddToBlacklist insere um IP na lista negra (idempotente)
	AddToBlacklist(ctx context.Context, ip string) error

	// RemoveFromBlacklist remove um IP da lista negra (idempotente)
	RemoveFromBlacklist(ctx context.Context, ip string) error

	// IsBlacklisted verifica se um IP está na lista negra
	IsBlacklisted(ctx context.Context, ip string) (bool, error)

	// ListBlacklist lista os IPs da lista negra
	ListBlacklist(ctx context.Context) ([]string, error)

	// Stats resume o conteúdo do storage
	Stats(ctx context.Context) (*StorageStats, error)

	// Sweep remove entradas expiradas considerando o instante now
	Sweep(ctx context.Context, now time.Time, policy SweepPolicy) (*SweepResult, error)

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// AntiSpamService define a fronteira consumida pelos handlers de formulário
// e pela API administrativa
type AntiSpamService interface {
	// CheckMessage classifica uma submissão e recomenda uma ação
	CheckMessage(ctx context.Context, req *SpamCheckRequest) (*SpamCheckResult, error)

	AddToBlacklist(ctx context.Context, ip string) error
	RemoveFromBlacklist(ctx context.Context, ip string) error
	GetBlacklist(ctx context.Context) ([]string, error)
	GetRateLimitInfo(ctx context.Context, ip string) (*RateLimitRecord, error)
	GetSuspiciousIPs(ctx context.Context) ([]SuspiciousIP, error)

	// UpdateConfig mescla uma atualização parcial na configuração atual
	UpdateConfig(update ConfigUpdate) error

	// GetConfig retorna uma cópia da configuração atual
	GetConfig() AntiSpamConfig

	GetStats(ctx context.Context) (*Stats, error)

	// CleanupOldEntries executa uma varredura de limpeza imediatamente
	CleanupOldEntries(ctx context.Context) (*SweepResult, error)

	// Health verifica as dependências do serviço
	Health(ctx context.Context) error
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}

// ConfigLoader define a interface para carregamento de configurações
type ConfigLoader interface {
	LoadConfig() (*AntiSpamConfig, error)
	LoadKeywordsFile() (*KeywordsFile, error)
	Reload() error
}

// KeywordsFile representa o arquivo JSON opcional de palavras-chave
type KeywordsFile struct {
	SpamKeywords       []string `json:"spamKeywords"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
	BlacklistedIPs     []string `json:"blacklistedIps"`
}
