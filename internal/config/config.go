package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"anti-spam/internal/domain"

	"github.com/joho/godotenv"
)

// Config representa as configurações de infraestrutura da aplicação
type Config struct {
	// Storage Configuration
	StorageType   string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Server Configuration
	ServerPort         string
	GinMode            string
	AdminToken         string
	CORSAllowedOrigins []string
	TrustedProxies     []string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Keywords File
	KeywordsFile string
}

// ConfigLoader implementa a interface domain.ConfigLoader
type ConfigLoader struct {
	config   *Config
	antiSpam *domain.AntiSpamConfig
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// LoadConfig carrega as configurações do .env e do arquivo de palavras-chave
func (c *ConfigLoader) LoadConfig() (*domain.AntiSpamConfig, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}
	c.config = config

	antiSpam, err := loadAntiSpamFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load anti-spam config: %w", err)
	}

	keywords, err := c.LoadKeywordsFile()
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords file: %w", err)
	}
	applyKeywordsFile(antiSpam, keywords)

	if err := antiSpam.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	c.antiSpam = antiSpam
	return antiSpam, nil
}

// LoadKeywordsFile carrega o arquivo JSON opcional de palavras-chave.
// Arquivo ausente devolve listas vazias.
func (c *ConfigLoader) LoadKeywordsFile() (*domain.KeywordsFile, error) {
	path := c.getKeywordsFile()

	// Verifica se o arquivo existe
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Warning: keywords file %s not found, using built-in keyword lists\n", path)
		return &domain.KeywordsFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords file: %w", err)
	}

	var file domain.KeywordsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse keywords file: %w", err)
	}

	file.SpamKeywords = normalizeKeywords(file.SpamKeywords)
	file.SuspiciousKeywords = normalizeKeywords(file.SuspiciousKeywords)

	ips, err := normalizeIPs(file.BlacklistedIPs)
	if err != nil {
		return nil, fmt.Errorf("invalid blacklisted IP in keywords file: %w", err)
	}
	file.BlacklistedIPs = ips

	return &file, nil
}

// Reload recarrega todas as configurações
func (c *ConfigLoader) Reload() error {
	_, err := c.LoadConfig()
	return err
}

// GetConfig retorna a configuração de infraestrutura atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// GetAntiSpamConfig retorna a última configuração anti-spam carregada
func (c *ConfigLoader) GetAntiSpamConfig() *domain.AntiSpamConfig {
	return c.antiSpam
}

// loadFromEnv carrega configurações de infraestrutura das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		// Storage defaults
		StorageType:   strings.ToLower(getEnvWithDefault("STORAGE_TYPE", "memory")),
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		// Server defaults
		ServerPort:         getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:            getEnvWithDefault("GIN_MODE", "debug"),
		AdminToken:         getEnvWithDefault("ADMIN_TOKEN", ""),
		CORSAllowedOrigins: splitList(getEnvWithDefault("CORS_ALLOWED_ORIGINS", "")),
		TrustedProxies:     splitList(getEnvWithDefault("TRUSTED_PROXIES", "")),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		KeywordsFile: getEnvWithDefault("ANTISPAM_KEYWORDS_FILE", "internal/config/keywords.json"),
	}

	redisDB, err := strconv.Atoi(getEnvWithDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB value: %w", err)
	}
	config.RedisDB = redisDB

	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações de infraestrutura são válidas
func (c *ConfigLoader) validateConfig(config *Config) error {
	if config.StorageType != "memory" && config.StorageType != "redis" {
		return fmt.Errorf("STORAGE_TYPE must be memory or redis, got: %s", config.StorageType)
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	if config.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	for _, proxy := range config.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry is not an IP or CIDR: %s", proxy)
		}
	}

	return nil
}

// loadAntiSpamFromEnv monta a configuração do anti-spam a partir dos defaults
func loadAntiSpamFromEnv() (*domain.AntiSpamConfig, error) {
	cfg := domain.DefaultAntiSpamConfig()
	var err error

	if cfg.Enabled, err = getBoolEnv("ANTISPAM_ENABLED", cfg.Enabled); err != nil {
		return nil, err
	}

	// Rate limiting
	if cfg.RateLimit.MaxRequests, err = getIntEnv("ANTISPAM_MAX_REQUESTS", cfg.RateLimit.MaxRequests); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Window, err = getMillisEnv("ANTISPAM_WINDOW_MS", cfg.RateLimit.Window); err != nil {
		return nil, err
	}
	if cfg.RateLimit.BlockDuration, err = getMillisEnv("ANTISPAM_BLOCK_DURATION_MS", cfg.RateLimit.BlockDuration); err != nil {
		return nil, err
	}
	if cfg.RateLimit.BlockUntilReset, err = getBoolEnv("ANTISPAM_BLOCK_UNTIL_RESET", cfg.RateLimit.BlockUntilReset); err != nil {
		return nil, err
	}

	// Análise de conteúdo
	if cfg.ContentAnalysis.Enabled, err = getBoolEnv("ANTISPAM_CONTENT_ANALYSIS_ENABLED", cfg.ContentAnalysis.Enabled); err != nil {
		return nil, err
	}
	if cfg.ContentAnalysis.MaxLinkCount, err = getIntEnv("ANTISPAM_MAX_LINK_COUNT", cfg.ContentAnalysis.MaxLinkCount); err != nil {
		return nil, err
	}
	if cfg.ContentAnalysis.MinMessageLength, err = getIntEnv("ANTISPAM_MIN_MESSAGE_LENGTH", cfg.ContentAnalysis.MinMessageLength); err != nil {
		return nil, err
	}
	if cfg.ContentAnalysis.MaxMessageLength, err = getIntEnv("ANTISPAM_MAX_MESSAGE_LENGTH", cfg.ContentAnalysis.MaxMessageLength); err != nil {
		return nil, err
	}

	// Honeypot
	if cfg.Honeypot.Enabled, err = getBoolEnv("ANTISPAM_HONEYPOT_ENABLED", cfg.Honeypot.Enabled); err != nil {
		return nil, err
	}
	cfg.Honeypot.FieldName = getEnvWithDefault("ANTISPAM_HONEYPOT_FIELD", cfg.Honeypot.FieldName)

	// Lista negra
	if cfg.IPBlacklist.Enabled, err = getBoolEnv("ANTISPAM_BLACKLIST_ENABLED", cfg.IPBlacklist.Enabled); err != nil {
		return nil, err
	}
	if cfg.IPBlacklist.AutoBlock, err = getBoolEnv("ANTISPAM_AUTO_BLOCK", cfg.IPBlacklist.AutoBlock); err != nil {
		return nil, err
	}
	if cfg.IPBlacklist.AutoBlockThreshold, err = getIntEnv("ANTISPAM_AUTO_BLOCK_THRESHOLD", cfg.IPBlacklist.AutoBlockThreshold); err != nil {
		return nil, err
	}
	seedIPs, err := normalizeIPs(splitList(getEnvWithDefault("ANTISPAM_BLACKLIST_IPS", "")))
	if err != nil {
		return nil, fmt.Errorf("invalid ANTISPAM_BLACKLIST_IPS value: %w", err)
	}
	cfg.IPBlacklist.IPs = seedIPs

	// Limpeza
	if cfg.CleanupInterval, err = getMillisEnv("ANTISPAM_CLEANUP_INTERVAL_MS", cfg.CleanupInterval); err != nil {
		return nil, err
	}
	if cfg.SuspiciousTTL, err = getMillisEnv("ANTISPAM_SUSPICIOUS_TTL_MS", cfg.SuspiciousTTL); err != nil {
		return nil, err
	}
	if cfg.MaxTrackedIPs, err = getIntEnv("ANTISPAM_MAX_TRACKED_IPS", cfg.MaxTrackedIPs); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyKeywordsFile substitui as listas embutidas quando o arquivo traz valores
func applyKeywordsFile(cfg *domain.AntiSpamConfig, file *domain.KeywordsFile) {
	if file == nil {
		return
	}
	if len(file.SpamKeywords) > 0 {
		cfg.ContentAnalysis.SpamKeywords = file.SpamKeywords
	}
	if len(file.SuspiciousKeywords) > 0 {
		cfg.ContentAnalysis.SuspiciousKeywords = file.SuspiciousKeywords
	}

	seen := make(map[string]struct{}, len(cfg.IPBlacklist.IPs))
	for _, ip := range cfg.IPBlacklist.IPs {
		seen[ip] = struct{}{}
	}
	for _, ip := range file.BlacklistedIPs {
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		cfg.IPBlacklist.IPs = append(cfg.IPBlacklist.IPs, ip)
	}
}

// getKeywordsFile retorna o caminho do arquivo de palavras-chave
func (c *ConfigLoader) getKeywordsFile() string {
	if c.config != nil && c.config.KeywordsFile != "" {
		return c.config.KeywordsFile
	}
	return getEnvWithDefault("ANTISPAM_KEYWORDS_FILE", "internal/config/keywords.json")
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return value, nil
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return value, nil
}

// getMillisEnv lê uma duração expressa em milissegundos
func getMillisEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// splitList separa uma lista por vírgulas ignorando itens vazios
func splitList(raw string) []string {
	items := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// normalizeKeywords aplica minúsculas, remove vazios e duplicados
func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// normalizeIPs valida cada endereço e devolve a forma canônica
func normalizeIPs(ips []string) ([]string, error) {
	out := make([]string, 0, len(ips))
	for _, raw := range ips {
		parsed := net.ParseIP(strings.TrimSpace(raw))
		if parsed == nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidIP, raw)
		}
		out = append(out, parsed.String())
	}
	return out, nil
}
