package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrWalletBusy is returned when another operation currently holds the
// lease for a wallet account. Retryable by the caller with backoff; never
// a business rejection.
var ErrWalletBusy = errors.New("wallet account lease held by another operation")

// Locker serializes concurrent mutations to a wallet account across
// processes. The lease is TTL-bound: a crashed holder is released by
// expiry, and the durable reservation row is reconciled by the sweeper.
type Locker interface {
	Acquire(ctx context.Context, walletAccountID uint64, ownerID string, ttl time.Duration) error
	Release(ctx context.Context, walletAccountID uint64, ownerID string) error
}

func leaseKey(walletAccountID uint64) string {
	return fmt.Sprintf("wallet:lease:%d", walletAccountID)
}

// RedisLocker implements Locker with SET NX PX on a per-account key.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, walletAccountID uint64, ownerID string, ttl time.Duration) error {
	ok, err := l.rdb.SetNX(ctx, leaseKey(walletAccountID), ownerID, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrWalletBusy
	}
	return nil
}

// Release deletes the lease only if still held by ownerID; a lease that
// expired and was re-acquired by someone else is left alone.
func (l *RedisLocker) Release(ctx context.Context, walletAccountID uint64, ownerID string) error {
	key := leaseKey(walletAccountID)
	val, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != ownerID {
		return nil
	}
	return l.rdb.Del(ctx, key).Err()
}

// MemoryLocker is an in-process Locker for tests and single-node runs.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	owner   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease)}
}

func (l *MemoryLocker) Acquire(_ context.Context, walletAccountID uint64, ownerID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := leaseKey(walletAccountID)
	if cur, ok := l.leases[key]; ok && cur.owner != ownerID && time.Now().Before(cur.expires) {
		return ErrWalletBusy
	}
	l.leases[key] = memoryLease{owner: ownerID, expires: time.Now().Add(ttl)}
	return nil
}

func (l *MemoryLocker) Release(_ context.Context, walletAccountID uint64, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := leaseKey(walletAccountID)
	if cur, ok := l.leases[key]; ok && cur.owner == ownerID {
		delete(l.leases, key)
	}
	return nil
}
