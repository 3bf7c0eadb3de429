package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"anti-spam/internal/domain"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxTrackedIPs limita cada cache em memória quando nenhum valor é informado
const DefaultMaxTrackedIPs = 100000

// MemoryStorage implementa a interface domain.ReputationStorage usando memória.
// Janelas de rate limiting e contadores de violações ficam em LRUs limitados;
// a lista negra é um conjunto sem limite (só muda por ação administrativa
// ou bloqueio automático).
type MemoryStorage struct {
	rateLimits *simplelru.LRU[string, *domain.RateLimitRecord]
	suspicious *simplelru.LRU[string, *domain.SuspiciousActivity]
	blacklist  map[string]struct{}
	mutex      sync.RWMutex
	logger     domain.Logger
}

// NewMemoryStorage cria uma nova instância do MemoryStorage
func NewMemoryStorage(maxTrackedIPs int, logger domain.Logger) (*MemoryStorage, error) {
	if maxTrackedIPs <= 0 {
		maxTrackedIPs = DefaultMaxTrackedIPs
	}

	rateLimits, err := simplelru.NewLRU[string, *domain.RateLimitRecord](maxTrackedIPs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit cache: %w", err)
	}

	suspicious, err := simplelru.NewLRU[string, *domain.SuspiciousActivity](maxTrackedIPs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create suspicious activity cache: %w", err)
	}

	storage := &MemoryStorage{
		rateLimits: rateLimits,
		suspicious: suspicious,
		blacklist:  make(map[string]struct{}),
		logger:     logger,
	}

	if logger != nil {
		logger.Info("Memory storage initialized", map[string]interface{}{
			"max_tracked_ips": maxTrackedIPs,
		})
	}

	return storage, nil
}

// HitRateLimit registra uma requisição e devolve uma cópia do registro atualizado
func (m *MemoryStorage) HitRateLimit(ctx context.Context, ip string, now time.Time, policy domain.RateLimitPolicy) (*domain.RateLimitRecord, error) {
	start := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	prev, _ := m.rateLimits.Get(ip)
	next := domain.NextRateLimitRecord(ip, prev, now, policy)
	m.rateLimits.Add(ip, &next)

	m.logStorageOperation("HIT_RATE_LIMIT", ip, time.Since(start))

	result := next
	return &result, nil
}

// GetRateLimit recupera o registro de um IP sem alterar a ordem do LRU
func (m *MemoryStorage) GetRateLimit(ctx context.Context, ip string) (*domain.RateLimitRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, exists := m.rateLimits.Peek(ip)
	if !exists {
		return nil, nil
	}

	// Cria cópia para evitar modificações concorrentes
	result := *record
	return &result, nil
}

// IncrementSuspicious incrementa o contador de violações de um IP
func (m *MemoryStorage) IncrementSuspicious(ctx context.Context, ip string, now time.Time) (int, error) {
	start := time.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	activity, exists := m.suspicious.Get(ip)
	if !exists {
		activity = &domain.SuspiciousActivity{}
	}
	activity.Count++
	activity.LastSeen = now
	m.suspicious.Add(ip, activity)

	m.logStorageOperation("INCREMENT_SUSPICIOUS", ip, time.Since(start))
	return activity.Count, nil
}

// ListSuspicious lista os contadores ordenados por contagem decrescente
func (m *MemoryStorage) ListSuspicious(ctx context.Context) ([]domain.SuspiciousIP, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]domain.SuspiciousIP, 0, m.suspicious.Len())
	for _, ip := range m.suspicious.Keys() {
		activity, ok := m.suspicious.Peek(ip)
		if !ok {
			continue
		}
		result = append(result, domain.SuspiciousIP{
			IP:       ip,
			Count:    activity.Count,
			LastSeen: activity.LastSeen,
		})
	}

	sortSuspicious(result)
	return result, nil
}

// AddToBlacklist insere um IP na lista negra
func (m *MemoryStorage) AddToBlacklist(ctx context.Context, ip string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.blacklist[ip] = struct{}{}
	return nil
}

// RemoveFromBlacklist remove um IP da lista negra
func (m *MemoryStorage) RemoveFromBlacklist(ctx context.Context, ip string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.blacklist, ip)
	return nil
}

// IsBlacklisted verifica se um IP está na lista negra
func (m *MemoryStorage) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, exists := m.blacklist[ip]
	return exists, nil
}

// ListBlacklist lista os IPs da lista negra em ordem alfabética
func (m *MemoryStorage) ListBlacklist(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ips := make([]string, 0, len(m.blacklist))
	for ip := range m.blacklist {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips, nil
}

// Stats retorna estatísticas do storage em memória
func (m *MemoryStorage) Stats(ctx context.Context) (*domain.StorageStats, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	blocked := 0
	for _, ip := range m.rateLimits.Keys() {
		if record, ok := m.rateLimits.Peek(ip); ok && record.Blocked {
			blocked++
		}
	}

	return &domain.StorageStats{
		Blacklisted: len(m.blacklist),
		Suspicious:  m.suspicious.Len(),
		RateLimited: m.rateLimits.Len(),
		Blocked:     blocked,
	}, nil
}

// Sweep remove registros de rate limiting expirados e contadores inativos.
// As chaves são copiadas antes da remoção, numa única passada sob o lock.
func (m *MemoryStorage) Sweep(ctx context.Context, now time.Time, policy domain.SweepPolicy) (*domain.SweepResult, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := &domain.SweepResult{SweptAt: now}

	for _, ip := range m.rateLimits.Keys() {
		record, ok := m.rateLimits.Peek(ip)
		if ok && record.Expired(now, policy.RateLimit) {
			m.rateLimits.Remove(ip)
			result.RateLimitsEvicted++
		}
	}

	for _, ip := range m.suspicious.Keys() {
		activity, ok := m.suspicious.Peek(ip)
		if ok && activity.Stale(now, policy.SuspiciousTTL) {
			m.suspicious.Remove(ip)
			result.SuspiciousEvicted++
		}
	}

	if m.logger != nil && (result.RateLimitsEvicted > 0 || result.SuspiciousEvicted > 0) {
		m.logger.Debug("Memory storage sweep completed", map[string]interface{}{
			"rate_limits_evicted": result.RateLimitsEvicted,
			"suspicious_evicted":  result.SuspiciousEvicted,
		})
	}

	return result, nil
}

// Health verifica se o storage está saudável
func (m *MemoryStorage) Health(ctx context.Context) error {
	m.mutex.RLock()
	rateLimits := m.rateLimits.Len()
	suspicious := m.suspicious.Len()
	blacklisted := len(m.blacklist)
	m.mutex.RUnlock()

	if m.logger != nil {
		m.logger.Debug("Memory storage health check", map[string]interface{}{
			"rate_limit_entries": rateLimits,
			"suspicious_entries": suspicious,
			"blacklist_entries":  blacklisted,
		})
	}
	return nil
}

// Close limpa todos os dados (o storage em memória não tem conexão)
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.rateLimits.Purge()
	m.suspicious.Purge()
	m.blacklist = make(map[string]struct{})

	if m.logger != nil {
		m.logger.Info("Memory storage closed", nil)
	}
	return nil
}

// logStorageOperation registra operações de storage
func (m *MemoryStorage) logStorageOperation(operation, key string, latency time.Duration) {
	if m.logger == nil {
		return
	}

	m.logger.Debug("Storage operation completed", map[string]interface{}{
		"operation":  operation,
		"key":        key,
		"latency_ms": float64(latency.Microseconds()) / 1000,
	})
}

// sortSuspicious ordena por contagem decrescente e depois por IP
func sortSuspicious(items []domain.SuspiciousIP) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].IP < items[j].IP
	})
}
