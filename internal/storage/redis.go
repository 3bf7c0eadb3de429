package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"anti-spam/internal/domain"

	"github.com/go-redis/redis/v8"
)

const (
	RateLimitKeyPrefix  = "antispam:rate_limit:"
	SuspiciousKeyPrefix = "antispam:suspicious:"
	BlacklistKey        = "antispam:blacklist"

	scanBatchSize = 200
)

// hitRateLimitScript aplica um hit de forma atômica.
// O registro vive num hash com count, window_start, blocked e reset_time (ms).
var hitRateLimitScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local maxRequests = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local block = tonumber(ARGV[4])
	local untilReset = ARGV[5] == '1'

	local current = redis.call('HMGET', key, 'count', 'window_start', 'blocked', 'reset_time')
	local count = tonumber(current[1])
	local windowStart = tonumber(current[2])
	local blocked = current[3] == '1'
	local resetTime = tonumber(current[4])

	-- Verifica se precisa abrir uma nova janela
	local fresh = count == nil or windowStart == nil or resetTime == nil
	if not fresh then
		if blocked and untilReset then
			fresh = now >= resetTime
		else
			fresh = (now - windowStart) > window
		end
	end

	if fresh then
		count = 1
		windowStart = now
		blocked = false
		resetTime = now + window
	else
		count = count + 1
		if count > maxRequests then
			blocked = true
			resetTime = now + block
		end
	end

	local blockedFlag = 0
	if blocked then
		blockedFlag = 1
	end

	redis.call('HSET', key, 'count', count, 'window_start', windowStart, 'blocked', blockedFlag, 'reset_time', resetTime)

	-- Mantém a chave até a varredura poder removê-la
	local expireAt = math.max(windowStart + window + block, resetTime)
	redis.call('PEXPIRE', key, expireAt - now + 1)

	return {count, windowStart, blockedFlag, resetTime}
`)

// RedisStorage implementa a interface domain.ReputationStorage usando Redis
type RedisStorage struct {
	client redis.Cmdable
	logger domain.Logger
}

// NewRedisStorage cria uma nova instância do RedisStorage
func NewRedisStorage(host, port, password string, db int, logger domain.Logger) (*RedisStorage, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"host": host,
			"port": port,
			"db":   db,
		})
	}

	return NewRedisStorageFromClient(rdb, logger), nil
}

// NewRedisStorageFromClient usa um cliente já configurado
func NewRedisStorageFromClient(client redis.Cmdable, logger domain.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		logger: logger,
	}
}

// HitRateLimit registra uma requisição via script Lua e devolve o registro atualizado
func (r *RedisStorage) HitRateLimit(ctx context.Context, ip string, now time.Time, policy domain.RateLimitPolicy) (*domain.RateLimitRecord, error) {
	start := time.Now()
	key := BuildKey(RateLimitKeyPrefix, ip)

	untilReset := "0"
	if policy.BlockUntilReset {
		untilReset = "1"
	}

	result, err := hitRateLimitScript.Run(ctx, r.client, []string{key},
		now.UnixMilli(),
		policy.MaxRequests,
		policy.Window.Milliseconds(),
		policy.BlockDuration.Milliseconds(),
		untilReset,
	).Result()
	if err != nil {
		r.logStorageOperation("HIT_RATE_LIMIT", key, false, time.Since(start), err)
		return nil, fmt.Errorf("failed to hit rate limit for %s: %w", ip, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		err := fmt.Errorf("invalid rate limit result for %s", ip)
		r.logStorageOperation("HIT_RATE_LIMIT", key, false, time.Since(start), err)
		return nil, err
	}

	nums := make([]int64, len(values))
	for i, v := range values {
		n, err := strconv.ParseInt(fmt.Sprint(v), 10, 64)
		if err != nil {
			r.logStorageOperation("HIT_RATE_LIMIT", key, false, time.Since(start), err)
			return nil, fmt.Errorf("invalid rate limit field for %s: %w", ip, err)
		}
		nums[i] = n
	}

	r.logStorageOperation("HIT_RATE_LIMIT", key, true, time.Since(start), nil)
	return &domain.RateLimitRecord{
		IP:          ip,
		Count:       int(nums[0]),
		WindowStart: time.UnixMilli(nums[1]),
		Blocked:     nums[2] == 1,
		ResetTime:   time.UnixMilli(nums[3]),
	}, nil
}

// GetRateLimit recupera o registro de um IP (nil se não existir)
func (r *RedisStorage) GetRateLimit(ctx context.Context, ip string) (*domain.RateLimitRecord, error) {
	start := time.Now()
	key := BuildKey(RateLimitKeyPrefix, ip)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		r.logStorageOperation("GET_RATE_LIMIT", key, false, time.Since(start), err)
		return nil, fmt.Errorf("failed to get rate limit for %s: %w", ip, err)
	}

	r.logStorageOperation("GET_RATE_LIMIT", key, true, time.Since(start), nil)
	if len(fields) == 0 {
		return nil, nil
	}

	record, err := parseRateLimitHash(ip, fields)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// IncrementSuspicious incrementa o contador numa transação
func (r *RedisStorage) IncrementSuspicious(ctx context.Context, ip string, now time.Time) (int, error) {
	start := time.Now()
	key := BuildKey(SuspiciousKeyPrefix, ip)

	pipe := r.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_seen", now.UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		r.logStorageOperation("INCREMENT_SUSPICIOUS", key, false, time.Since(start), err)
		return 0, fmt.Errorf("failed to increment suspicious counter for %s: %w", ip, err)
	}

	r.logStorageOperation("INCREMENT_SUSPICIOUS", key, true, time.Since(start), nil)
	return int(incr.Val()), nil
}

// ListSuspicious lista os contadores ordenados por contagem decrescente
func (r *RedisStorage) ListSuspicious(ctx context.Context) ([]domain.SuspiciousIP, error) {
	keys, err := r.scanKeys(ctx, SuspiciousKeyPrefix)
	if err != nil {
		return nil, err
	}

	result := make([]domain.SuspiciousIP, 0, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HMGet(ctx, key, "count", "last_seen")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list suspicious counters: %w", err)
	}

	for i, cmd := range cmds {
		activity, ok := parseSuspiciousValues(cmd.Val())
		if !ok {
			continue
		}
		result = append(result, domain.SuspiciousIP{
			IP:       strings.TrimPrefix(keys[i], SuspiciousKeyPrefix),
			Count:    activity.Count,
			LastSeen: activity.LastSeen,
		})
	}

	sortSuspicious(result)
	return result, nil
}

// AddToBlacklist insere um IP no conjunto da lista negra
func (r *RedisStorage) AddToBlacklist(ctx context.Context, ip string) error {
	start := time.Now()
	if err := r.client.SAdd(ctx, BlacklistKey, ip).Err(); err != nil {
		r.logStorageOperation("BLACKLIST_ADD", ip, false, time.Since(start), err)
		return fmt.Errorf("failed to blacklist %s: %w", ip, err)
	}
	r.logStorageOperation("BLACKLIST_ADD", ip, true, time.Since(start), nil)
	return nil
}

// RemoveFromBlacklist remove um IP do conjunto da lista negra
func (r *RedisStorage) RemoveFromBlacklist(ctx context.Context, ip string) error {
	start := time.Now()
	if err := r.client.SRem(ctx, BlacklistKey, ip).Err(); err != nil {
		r.logStorageOperation("BLACKLIST_REMOVE", ip, false, time.Since(start), err)
		return fmt.Errorf("failed to remove %s from blacklist: %w", ip, err)
	}
	r.logStorageOperation("BLACKLIST_REMOVE", ip, true, time.Since(start), nil)
	return nil
}

// IsBlacklisted verifica se um IP está na lista negra
func (r *RedisStorage) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	member, err := r.client.SIsMember(ctx, BlacklistKey, ip).Result()
	if err != nil {
		r.logStorageOperation("BLACKLIST_CHECK", ip, false, 0, err)
		return false, fmt.Errorf("failed to check blacklist for %s: %w", ip, err)
	}
	return member, nil
}

// ListBlacklist lista os IPs da lista negra em ordem alfabética
func (r *RedisStorage) ListBlacklist(ctx context.Context) ([]string, error) {
	ips, err := r.client.SMembers(ctx, BlacklistKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	sort.Strings(ips)
	return ips, nil
}

// Stats resume o conteúdo do Redis usando SCAN
func (r *RedisStorage) Stats(ctx context.Context) (*domain.StorageStats, error) {
	blacklisted, err := r.client.SCard(ctx, BlacklistKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count blacklist: %w", err)
	}

	suspiciousKeys, err := r.scanKeys(ctx, SuspiciousKeyPrefix)
	if err != nil {
		return nil, err
	}

	rateLimitKeys, err := r.scanKeys(ctx, RateLimitKeyPrefix)
	if err != nil {
		return nil, err
	}

	blocked := 0
	if len(rateLimitKeys) > 0 {
		pipe := r.client.Pipeline()
		cmds := make([]*redis.StringCmd, len(rateLimitKeys))
		for i, key := range rateLimitKeys {
			cmds[i] = pipe.HGet(ctx, key, "blocked")
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to read rate limit flags: %w", err)
		}
		for _, cmd := range cmds {
			if cmd.Val() == "1" {
				blocked++
			}
		}
	}

	return &domain.StorageStats{
		Blacklisted: int(blacklisted),
		Suspicious:  len(suspiciousKeys),
		RateLimited: len(rateLimitKeys),
		Blocked:     blocked,
	}, nil
}

// Sweep remove registros expirados. Os registros de rate limiting também
// expiram por TTL; a varredura cobre mudanças de política e os contadores
// de violações, que não têm TTL.
func (r *RedisStorage) Sweep(ctx context.Context, now time.Time, policy domain.SweepPolicy) (*domain.SweepResult, error) {
	result := &domain.SweepResult{SweptAt: now}

	rateLimitKeys, err := r.scanKeys(ctx, RateLimitKeyPrefix)
	if err != nil {
		return nil, err
	}
	for _, key := range rateLimitKeys {
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		record, err := parseRateLimitHash(strings.TrimPrefix(key, RateLimitKeyPrefix), fields)
		if err != nil || record.Expired(now, policy.RateLimit) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return nil, fmt.Errorf("failed to delete %s: %w", key, err)
			}
			result.RateLimitsEvicted++
		}
	}

	suspiciousKeys, err := r.scanKeys(ctx, SuspiciousKeyPrefix)
	if err != nil {
		return nil, err
	}
	for _, key := range suspiciousKeys {
		values, err := r.client.HMGet(ctx, key, "count", "last_seen").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		activity, ok := parseSuspiciousValues(values)
		if !ok || activity.Stale(now, policy.SuspiciousTTL) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return nil, fmt.Errorf("failed to delete %s: %w", key, err)
			}
			result.SuspiciousEvicted++
		}
	}

	if r.logger != nil && (result.RateLimitsEvicted > 0 || result.SuspiciousEvicted > 0) {
		r.logger.Debug("Redis storage sweep completed", map[string]interface{}{
			"rate_limits_evicted": result.RateLimitsEvicted,
			"suspicious_evicted":  result.SuspiciousEvicted,
		})
	}

	return result, nil
}

// Health verifica se o storage está saudável
func (r *RedisStorage) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("HEALTH", "ping", false, time.Since(start), err)
		return fmt.Errorf("Redis health check failed: %w", err)
	}

	r.logStorageOperation("HEALTH", "ping", true, time.Since(start), nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStorage) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			if r.logger != nil {
				r.logger.Error("Failed to close Redis connection", err, nil)
			}
			return err
		}
		if r.logger != nil {
			r.logger.Info("Redis connection closed", nil)
		}
	}
	return nil
}

// scanKeys percorre as chaves com o prefixo usando SCAN (nunca KEYS)
func (r *RedisStorage) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s keys: %w", prefix, err)
	}
	return keys, nil
}

// logStorageOperation registra operações de storage
func (r *RedisStorage) logStorageOperation(operation, key string, success bool, latency time.Duration, err error) {
	if r.logger == nil {
		return
	}

	fields := map[string]interface{}{
		"operation":  operation,
		"key":        key,
		"latency_ms": float64(latency.Microseconds()) / 1000,
	}
	if success {
		r.logger.Debug("Storage operation completed", fields)
	} else {
		r.logger.Error("Storage operation failed", err, fields)
	}
}

// BuildKey constrói chaves padronizadas para Redis
func BuildKey(prefix, ip string) string {
	return prefix + ip
}

// parseRateLimitHash converte o hash do Redis num registro
func parseRateLimitHash(ip string, fields map[string]string) (*domain.RateLimitRecord, error) {
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return nil, fmt.Errorf("invalid count for %s: %w", ip, err)
	}
	windowStart, err := strconv.ParseInt(fields["window_start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid window_start for %s: %w", ip, err)
	}
	resetTime, err := strconv.ParseInt(fields["reset_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid reset_time for %s: %w", ip, err)
	}

	return &domain.RateLimitRecord{
		IP:          ip,
		Count:       count,
		WindowStart: time.UnixMilli(windowStart),
		Blocked:     fields["blocked"] == "1",
		ResetTime:   time.UnixMilli(resetTime),
	}, nil
}

// parseSuspiciousValues converte a resposta de HMGET count last_seen
func parseSuspiciousValues(values []interface{}) (*domain.SuspiciousActivity, bool) {
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return nil, false
	}

	count, err := strconv.Atoi(fmt.Sprint(values[0]))
	if err != nil {
		return nil, false
	}
	lastSeen, err := strconv.ParseInt(fmt.Sprint(values[1]), 10, 64)
	if err != nil {
		return nil, false
	}

	return &domain.SuspiciousActivity{
		Count:    count,
		LastSeen: time.UnixMilli(lastSeen),
	}, true
}
