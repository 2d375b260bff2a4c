package coord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestAcquireLockMutualExclusion(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	assert.True(t, c.AcquireLock(ctx, "claim:g1:u1", time.Minute))
	assert.False(t, c.AcquireLock(ctx, "claim:g1:u1", time.Minute))
	assert.True(t, c.AcquireLock(ctx, "claim:g1:u2", time.Minute))

	mr.FastForward(2 * time.Minute)
	assert.True(t, c.AcquireLock(ctx, "claim:g1:u1", time.Minute))

	c.ReleaseLock(ctx, "claim:g1:u2")
	assert.True(t, c.AcquireLock(ctx, "claim:g1:u2", time.Minute))
}

func TestOwnedLockContention(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, ok := c.AcquireOwnedLock(ctx, "startup", time.Minute)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok = c.AcquireOwnedLock(ctx, "startup", time.Minute)
	assert.False(t, ok)

	c.ReleaseOwnedLock(ctx, "startup", "not-the-token")
	_, ok = c.AcquireOwnedLock(ctx, "startup", time.Minute)
	assert.False(t, ok, "foreign-token release must not free the lock")

	c.ReleaseOwnedLock(ctx, "startup", token)
	_, ok = c.AcquireOwnedLock(ctx, "startup", time.Minute)
	assert.True(t, ok)
}

func TestOwnedLockStaleHolderCannotTouchSuccessor(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	old, ok := c.AcquireOwnedLock(ctx, "startup", time.Minute)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	cur, ok := c.AcquireOwnedLock(ctx, "startup", time.Minute)
	require.True(t, ok)
	require.NotEqual(t, old, cur)

	c.ReleaseOwnedLock(ctx, "startup", old)
	assert.False(t, c.RefreshOwnedLock(ctx, "startup", old, time.Minute))

	_, ok = c.AcquireOwnedLock(ctx, "startup", time.Minute)
	assert.False(t, ok, "successor's lock must survive the stale holder")
	assert.True(t, c.RefreshOwnedLock(ctx, "startup", cur, time.Minute))
}

func TestRefreshOwnedLockExtendsExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	token, ok := c.AcquireOwnedLock(ctx, "startup", time.Minute)
	require.True(t, ok)

	mr.FastForward(45 * time.Second)
	require.True(t, c.RefreshOwnedLock(ctx, "startup", token, time.Minute))

	mr.FastForward(45 * time.Second)
	_, ok = c.AcquireOwnedLock(ctx, "startup", time.Minute)
	assert.False(t, ok, "refreshed lock must still be held")
}

func TestSessionRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	type pollState struct {
		Question string  `json:"question"`
		Votes    []int64 `json:"votes"`
	}
	in := pollState{Question: "fish or hunt", Votes: []int64{3, 1}}
	require.NoError(t, c.PutSession(ctx, "poll", "msg-1", in, time.Minute))

	var out pollState
	require.True(t, c.GetSession(ctx, "poll", "msg-1", &out))
	assert.Equal(t, in, out)

	assert.False(t, c.GetSession(ctx, "poll", "msg-2", &out))

	c.DeleteSession(ctx, "poll", "msg-1")
	assert.False(t, c.GetSession(ctx, "poll", "msg-1", &out))
}

func TestSessionExpires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.PutSession(ctx, "duel", "msg-9", map[string]any{"stake": 50}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var out map[string]any
	assert.False(t, c.GetSession(ctx, "duel", "msg-9", &out))
}

func TestSessionCorruptBlobReadsAsAbsent(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("session:poll:msg-1", "{not json"))

	var out map[string]any
	assert.False(t, c.GetSession(ctx, "poll", "msg-1", &out))
}

func TestReserveCooldown(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	ok, wait := c.ReserveCooldown(ctx, "u1", "g1", "daily", expires)
	assert.True(t, ok)
	assert.Zero(t, wait)

	ok, wait = c.ReserveCooldown(ctx, "u1", "g1", "daily", expires)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Minute)

	ok, _ = c.ReserveCooldown(ctx, "u1", "g1", "weekly", expires)
	assert.True(t, ok, "cooldowns are per command")
	ok, _ = c.ReserveCooldown(ctx, "u2", "g1", "daily", expires)
	assert.True(t, ok, "cooldowns are per user")
}

func TestReserveCooldownPastExpiryIsFree(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ok, wait := c.ReserveCooldown(ctx, "u1", "g1", "daily", time.Now().Add(-time.Second))
	assert.True(t, ok)
	assert.Zero(t, wait)

	ok, _ = c.ReserveCooldown(ctx, "u1", "g1", "daily", time.Now().Add(-time.Second))
	assert.True(t, ok, "nothing is written for an already-expired reservation")
}

func TestClearCooldown(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	ok, _ := c.ReserveCooldown(ctx, "u1", "g1", "daily", expires)
	require.True(t, ok)

	c.ClearCooldown(ctx, "u1", "g1", "daily")
	ok, _ = c.ReserveCooldown(ctx, "u1", "g1", "daily", expires)
	assert.True(t, ok)
}

func TestGetCooldownRemaining(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	assert.Zero(t, c.GetCooldownRemaining(ctx, "u1", "g1", "daily"))

	ok, _ := c.ReserveCooldown(ctx, "u1", "g1", "daily", time.Now().Add(time.Minute))
	require.True(t, ok)
	assert.Greater(t, c.GetCooldownRemaining(ctx, "u1", "g1", "daily"), time.Duration(0))

	mr.FastForward(2 * time.Minute)
	assert.Zero(t, c.GetCooldownRemaining(ctx, "u1", "g1", "daily"))
}

func TestIncrWindow(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWindow(ctx, "transfers:g1:u1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	mr.FastForward(2 * time.Hour)
	n, err := c.IncrWindow(ctx, "transfers:g1:u1", time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "window restarts after expiry")
}

func TestStoreFailureDegradesClosed(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	mr.Close()

	assert.False(t, c.AcquireLock(ctx, "claim:g1:u1", time.Minute))
	_, ok := c.AcquireOwnedLock(ctx, "startup", time.Minute)
	assert.False(t, ok)
	assert.False(t, c.RefreshOwnedLock(ctx, "startup", "tok", time.Minute))

	err := c.PutSession(ctx, "poll", "msg-1", map[string]any{}, time.Minute)
	assert.True(t, errors.Is(err, ErrSessionUnavailable))
	var out map[string]any
	assert.False(t, c.GetSession(ctx, "poll", "msg-1", &out))

	ok, wait := c.ReserveCooldown(ctx, "u1", "g1", "daily", time.Now().Add(time.Minute))
	assert.False(t, ok)
	assert.Zero(t, wait)

	_, err = c.IncrWindow(ctx, "transfers:g1:u1", time.Hour)
	assert.Error(t, err)
}
