package coord

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript sets the reservation only if absent; on contention it
// returns the remaining TTL in the same round-trip so the caller never
// races a separate read.
var reserveScript = redis.NewScript(`
if redis.call("set", KEYS[1], "1", "NX", "PX", ARGV[1]) then
	return -1
end
return redis.call("pttl", KEYS[1])`)

var incrWindowScript = redis.NewScript(`
local v = redis.call("incr", KEYS[1])
if v == 1 then
	redis.call("pexpire", KEYS[1], ARGV[1])
end
return v`)

// ReserveCooldown claims the cooldown slot for one command invocation.
// Two racing invocations cannot both reserve: the write is
// create-if-absent. On contention the remaining wait is returned.
// Store failure reports not-reserved, which callers treat as "do not
// run the command".
func (c *Client) ReserveCooldown(ctx context.Context, userID, guildID, command string, expiresAt time.Time) (bool, time.Duration) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return true, 0
	}
	n, err := reserveScript.Run(ctx, c.rdb, []string{cooldownKey(guildID, userID, command)}, ttl.Milliseconds()).Int64()
	if err != nil {
		c.log.Warn("cooldown reserve failed", "command", command, "err", err)
		return false, 0
	}
	if n < 0 {
		return true, 0
	}
	return false, time.Duration(n) * time.Millisecond
}

// ClearCooldown releases a reservation early, for commands that abort
// before doing anything cooldown-worthy.
func (c *Client) ClearCooldown(ctx context.Context, userID, guildID, command string) {
	if err := c.rdb.Del(ctx, cooldownKey(guildID, userID, command)).Err(); err != nil {
		c.log.Warn("cooldown clear failed", "command", command, "err", err)
	}
}

func (c *Client) GetCooldownRemaining(ctx context.Context, userID, guildID, command string) time.Duration {
	d, err := c.rdb.PTTL(ctx, cooldownKey(guildID, userID, command)).Result()
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// IncrWindow counts uses of key inside a rolling window, creating the
// window on first use. Backs the transfer policy's daily limit.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrWindowScript.Run(ctx, c.rdb, []string{"window:" + key}, window.Milliseconds()).Int64()
}
