package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PutSession stores the serialized state of one in-flight interactive
// command under (sessionType, messageID) with a TTL. A failure means
// the session could not be started or continued; the caller is
// expected to cancel and refund rather than proceed.
func (c *Client) PutSession(ctx context.Context, sessionType, messageID string, blob any, ttl time.Duration) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", ErrSessionUnavailable, err)
	}
	if err := c.rdb.Set(ctx, sessionKey(sessionType, messageID), raw, ttl).Err(); err != nil {
		c.log.Warn("session put failed", "type", sessionType, "message_id", messageID, "err", err)
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

// GetSession loads a session blob into dest. Absent, expired, and
// corrupt payloads all report false: session data crosses a
// serialization boundary and stale shapes must read as "no session".
func (c *Client) GetSession(ctx context.Context, sessionType, messageID string, dest any) bool {
	raw, err := c.rdb.Get(ctx, sessionKey(sessionType, messageID)).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.log.Warn("session get failed", "type", sessionType, "message_id", messageID, "err", err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn("session blob corrupt, treating as absent", "type", sessionType, "message_id", messageID, "err", err)
		return false
	}
	return true
}

func (c *Client) DeleteSession(ctx context.Context, sessionType, messageID string) {
	if err := c.rdb.Del(ctx, sessionKey(sessionType, messageID)).Err(); err != nil {
		c.log.Warn("session delete failed", "type", sessionType, "message_id", messageID, "err", err)
	}
}
