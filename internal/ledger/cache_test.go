package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBalanceCache(t *testing.T) {
	c := newBalanceCache(50 * time.Millisecond)
	defer c.stop()
	id := AccountID{UserID: "u1", GuildID: "g1"}

	_, ok := c.get(id)
	assert.False(t, ok)

	c.put(id, 1200)
	got, ok := c.get(id)
	assert.True(t, ok)
	assert.EqualValues(t, 1200, got)

	c.invalidate(id)
	_, ok = c.get(id)
	assert.False(t, ok)
}

func TestBalanceCacheExpires(t *testing.T) {
	c := newBalanceCache(10 * time.Millisecond)
	defer c.stop()
	id := AccountID{UserID: "u1", GuildID: "g1"}

	c.put(id, 1200)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.get(id)
	assert.False(t, ok)
}

func TestBalanceCacheStopIsIdempotent(t *testing.T) {
	c := newBalanceCache(time.Second)
	c.stop()
	c.stop()
}
