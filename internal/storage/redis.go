package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deposit-scanner/internal/config"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
)

const (
	walletLockPrefix = "lock:wallet:"
	priceSnapshotKey = "prices:snapshot"
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// releaseScript deletes the lock only if the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// WalletLock serializes operations on one deposit wallet across processes
type WalletLock struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewWalletLock creates a wallet lock whose leases expire after ttl
func NewWalletLock(cache *RedisCache, ttl time.Duration) *WalletLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &WalletLock{cache: cache, ttl: ttl}
}

// Acquire takes the lock for address. It fails with WALLET_BUSY when
// another holder owns it. The returned release only deletes the lock while
// this caller still owns it.
func (l *WalletLock) Acquire(ctx context.Context, address string) (func(context.Context) error, error) {
	key := walletLockPrefix + address
	token := uuid.NewString()

	ok, err := l.cache.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, apperrors.NewCacheError("acquire wallet lock", err)
	}
	if !ok {
		return nil, apperrors.NewWalletBusyError(address)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.cache.client, []string{key}, token).Err(); err != nil {
			return apperrors.NewCacheError("release wallet lock", err)
		}
		return nil
	}
	return release, nil
}

// PriceSnapshotStore mirrors the latest price snapshot so a restarted
// worker can price deposits before its first oracle fetch
type PriceSnapshotStore struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewPriceSnapshotStore creates a snapshot store whose entries expire after ttl
func NewPriceSnapshotStore(cache *RedisCache, ttl time.Duration) *PriceSnapshotStore {
	return &PriceSnapshotStore{cache: cache, ttl: ttl}
}

// Save stores the snapshot
func (s *PriceSnapshotStore) Save(ctx context.Context, snap *models.PriceSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal price snapshot: %w", err)
	}
	if err := s.cache.client.Set(ctx, priceSnapshotKey, raw, s.ttl).Err(); err != nil {
		return apperrors.NewCacheError("save price snapshot", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when there is none
func (s *PriceSnapshotStore) Load(ctx context.Context) (*models.PriceSnapshot, error) {
	raw, err := s.cache.client.Get(ctx, priceSnapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.NewCacheError("load price snapshot", err)
	}

	var snap models.PriceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, apperrors.NewDataError("malformed price snapshot", err)
	}
	return &snap, nil
}
