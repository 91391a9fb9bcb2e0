package presence

import (
	"context"
	"fmt"
	"time"

	"dm-backend/internal/utils"

	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "online_users"

// Cache mirrors presence into Redis so other tooling can read the online
// set and last-seen timestamps without hitting the primary store. The
// in-process registry stays the source of truth; every write here is
// fire-and-forget with logged errors. A nil *Cache is a no-op, used when
// REDIS_ADDR is not configured.
type Cache struct {
	rdb *redis.Client
}

func New(addr string) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *Cache) SetOnline(ctx context.Context, userID int) {
	if c == nil {
		return
	}
	if err := c.rdb.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		utils.LogError(err, "Presence SetOnline")
	}
}

func (c *Cache) SetOffline(ctx context.Context, userID int, lastSeen time.Time) {
	if c == nil {
		return
	}
	if err := c.rdb.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
		utils.LogError(err, "Presence SetOffline")
	}
	key := fmt.Sprintf("user:%d:last_seen", userID)
	if err := c.rdb.Set(ctx, key, lastSeen.Format(time.RFC3339), 0).Err(); err != nil {
		utils.LogError(err, "Presence LastSeen")
	}
}

// Online returns the mirrored online set.
func (c *Cache) Online(ctx context.Context) ([]string, error) {
	if c == nil {
		return nil, nil
	}
	return c.rdb.SMembers(ctx, onlineSetKey).Result()
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	_ = c.rdb.Close()
}
