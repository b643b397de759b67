package repo

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	ttl := time.Minute

	require.NoError(t, l.Acquire(ctx, 1, "op-1", ttl))
	// a second operation on the same account is busy
	assert.ErrorIs(t, l.Acquire(ctx, 1, "op-2", ttl), ErrWalletBusy)
	// the holder may re-enter its own lease
	assert.NoError(t, l.Acquire(ctx, 1, "op-1", ttl))
	// other accounts are independent
	assert.NoError(t, l.Acquire(ctx, 2, "op-2", ttl))

	require.NoError(t, l.Release(ctx, 1, "op-1"))
	assert.NoError(t, l.Acquire(ctx, 1, "op-2", ttl))

	// releasing someone else's lease is a no-op
	require.NoError(t, l.Release(ctx, 1, "op-1"))
	assert.ErrorIs(t, l.Acquire(ctx, 1, "op-3", ttl), ErrWalletBusy)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	require.NoError(t, l.Acquire(ctx, 1, "op-1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, l.Acquire(ctx, 1, "op-2", time.Minute))
}

func TestRedisLocker_Acquire(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLocker(rdb)
	ttl := 30 * time.Second

	mock.ExpectSetNX("wallet:lease:1", "op-1", ttl).SetVal(true)
	assert.NoError(t, l.Acquire(ctx, 1, "op-1", ttl))

	mock.ExpectSetNX("wallet:lease:1", "op-2", ttl).SetVal(false)
	assert.ErrorIs(t, l.Acquire(ctx, 1, "op-2", ttl), ErrWalletBusy)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_Release(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLocker(rdb)

	// held by us: deleted
	mock.ExpectGet("wallet:lease:1").SetVal("op-1")
	mock.ExpectDel("wallet:lease:1").SetVal(1)
	assert.NoError(t, l.Release(ctx, 1, "op-1"))

	// expired and re-acquired by someone else: left alone
	mock.ExpectGet("wallet:lease:1").SetVal("op-2")
	assert.NoError(t, l.Release(ctx, 1, "op-1"))

	// already gone: nothing to do
	mock.ExpectGet("wallet:lease:1").RedisNil()
	assert.NoError(t, l.Release(ctx, 1, "op-1"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
