// Package coord holds the cooperative coordination primitives: keyed
// locks, session blobs, and cooldown reservations on a shared Redis.
// These are a best-effort layer above the ledger's own transactional
// locking; every store failure degrades to "not acquired" or
// "unavailable", never to success.
package coord

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockUnavailable    = errors.New("lock store unavailable")
	ErrSessionUnavailable = errors.New("session store unavailable")
)

type Client struct {
	rdb redis.UniversalClient
	log *slog.Logger
}

func New(rdb redis.UniversalClient, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rdb: rdb, log: logger}
}

func lockKey(key string) string      { return "lock:" + key }
func sessionKey(t, id string) string { return "session:" + t + ":" + id }

func cooldownKey(guildID, userID, command string) string {
	return "cooldown:" + guildID + ":" + userID + ":" + command
}
