package coord

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ownership checks run server-side so an expired-and-reacquired lock
// can never be released or extended by its previous holder.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// AcquireLock takes a fire-and-forget mutual-exclusion lock: a sentinel
// written only if the key is absent. There is no release; the lock
// simply expires. Returns false on contention or store failure.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := c.rdb.SetNX(ctx, lockKey(key), "1", ttl).Result()
	if err != nil {
		c.log.Warn("lock acquire failed", "key", key, "err", err)
		return false
	}
	return ok
}

// ReleaseLock drops a fire-and-forget lock early. Callers that cannot
// tell whether they still hold it should just let it expire.
func (c *Client) ReleaseLock(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, lockKey(key)).Err(); err != nil {
		c.log.Warn("lock release failed", "key", key, "err", err)
	}
}

// AcquireOwnedLock takes a lock whose holder is proven by a random
// token. Returns the token and whether this caller became the owner.
func (c *Client) AcquireOwnedLock(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		c.log.Warn("owned lock acquire failed", "key", key, "err", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	return token, true
}

// ReleaseOwnedLock deletes the lock only if it still carries token. A
// stale or foreign token is a no-op, as is a store failure (the key
// expires on its own).
func (c *Client) ReleaseOwnedLock(ctx context.Context, key, token string) {
	if err := releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, token).Err(); err != nil {
		c.log.Warn("owned lock release failed", "key", key, "err", err)
	}
}

// RefreshOwnedLock extends the lock's expiry under the same ownership
// check. Used by long-held locks renewed from a background tick.
func (c *Client) RefreshOwnedLock(ctx context.Context, key, token string, ttl time.Duration) bool {
	n, err := refreshScript.Run(ctx, c.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		c.log.Warn("owned lock refresh failed", "key", key, "err", err)
		return false
	}
	return n == 1
}
