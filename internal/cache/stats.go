// Package cache keeps a denormalized per-event availability hash in Redis
// so hot availability reads skip Postgres. The cache is best-effort: a
// Redis failure never fails a ledger operation, and Postgres remains the
// system of record.
package cache

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stagepass/stagepass/internal/model"
)

const statsTTL = 10 * time.Minute

// Key pattern uses a hash tag so a clustered deployment keeps all of an
// event's fields in one slot.
func statsKey(eventID string) string {
	return fmt.Sprintf("{event:%s}:stats", eventID)
}

// StatsCache mirrors tier counters and aggregate analytics for events.
// A nil *StatsCache is valid and disables caching.
type StatsCache struct {
	rdb *redis.Client
}

// OpenFromEnv connects to Redis when REDIS_ADDR is set and returns nil
// (cache disabled) otherwise.
func OpenFromEnv(ctx context.Context) (*StatsCache, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &StatsCache{rdb: rdb}, nil
}

// New wraps an existing client. Used in tests with miniature servers.
func New(rdb *redis.Client) *StatsCache {
	return &StatsCache{rdb: rdb}
}

// Close releases the underlying connection.
func (c *StatsCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Prime writes a full availability snapshot, replacing whatever the cache
// held for the event.
func (c *StatsCache) Prime(ctx context.Context, avail *model.EventAvailability) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	fields := map[string]interface{}{
		"tickets_sold":  avail.TotalTicketsSold,
		"revenue_cents": avail.TotalRevenueCents,
	}
	for _, tier := range avail.Tiers {
		fields["tier:"+tier.Name+":price"] = tier.PriceCents
		fields["tier:"+tier.Name+":quantity"] = tier.Quantity
		fields["tier:"+tier.Name+":sold"] = tier.Sold
	}

	key := statsKey(avail.EventID)
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, statsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ApplyCommit moves the cached counters by a committed registration's
// lines. No-op when the event is not cached; the next read primes it.
func (c *StatsCache) ApplyCommit(ctx context.Context, reg *model.Registration) error {
	return c.shift(ctx, reg, 1)
}

// ApplyRelease reverses ApplyCommit for a released registration.
func (c *StatsCache) ApplyRelease(ctx context.Context, reg *model.Registration) error {
	return c.shift(ctx, reg, -1)
}

func (c *StatsCache) shift(ctx context.Context, reg *model.Registration, sign int64) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	key := statsKey(reg.EventID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return err
	}
	pipe := c.rdb.Pipeline()
	for _, line := range reg.Lines {
		pipe.HIncrBy(ctx, key, "tier:"+line.TicketType+":sold", sign*int64(line.Quantity))
	}
	pipe.HIncrBy(ctx, key, "tickets_sold", sign*int64(reg.TicketCount()))
	pipe.HIncrBy(ctx, key, "revenue_cents", sign*reg.TotalAmountCents)
	_, err = pipe.Exec(ctx)
	return err
}

// GetAvailability reads the cached snapshot. The second return value is
// false on a miss (or when caching is disabled).
func (c *StatsCache) GetAvailability(ctx context.Context, eventID string) (*model.EventAvailability, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	fields, err := c.rdb.HGetAll(ctx, statsKey(eventID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read stats hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return parseStatsFields(eventID, fields), true, nil
}

// parseStatsFields rebuilds an availability snapshot from the flat hash
// representation, tiers ordered by name.
func parseStatsFields(eventID string, fields map[string]string) *model.EventAvailability {
	avail := &model.EventAvailability{EventID: eventID}
	avail.TotalTicketsSold = atoi(fields["tickets_sold"])
	avail.TotalRevenueCents = atoi64(fields["revenue_cents"])

	tiers := map[string]*model.TierAvailability{}
	for field, value := range fields {
		if !strings.HasPrefix(field, "tier:") {
			continue
		}
		rest := strings.TrimPrefix(field, "tier:")
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			continue
		}
		name, attr := rest[:idx], rest[idx+1:]
		tier, ok := tiers[name]
		if !ok {
			tier = &model.TierAvailability{Name: name}
			tiers[name] = tier
		}
		switch attr {
		case "price":
			tier.PriceCents = atoi64(value)
		case "quantity":
			tier.Quantity = atoi(value)
		case "sold":
			tier.Sold = atoi(value)
		}
	}

	names := make([]string, 0, len(tiers))
	for name := range tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tier := tiers[name]
		tier.Remaining = tier.Quantity - tier.Sold
		avail.Tiers = append(avail.Tiers, *tier)
	}
	return avail
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
