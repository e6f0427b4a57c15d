package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/metrics"
)

const redisKeyPrefix = "grantmesh:results:"

// Redis is a result cache shared across orchestrator processes. TTL is
// enforced by Redis itself; the stored_at field inside each entry preserves
// the age reported to callers. Any Redis failure behaves like a miss so the
// cache can never fail a query.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

type redisEntry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"stored_at"`
}

// NewRedis builds a Redis-backed result cache against addr.
func NewRedis(addr string, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
		log: logger,
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	raw, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("Result cache read failed", zap.Error(err))
		}
		return nil, 0, false
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Corrupt entry: discard and report a miss.
		r.rdb.Del(ctx, redisKeyPrefix+key)
		metrics.CacheEvictions.WithLabelValues("corrupt").Inc()
		return nil, 0, false
	}
	age := time.Since(e.StoredAt)
	if age >= r.ttl {
		r.rdb.Del(ctx, redisKeyPrefix+key)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		return nil, 0, false
	}
	return e.Data, age, true
}

func (r *Redis) Put(ctx context.Context, key string, data []byte) {
	raw, err := json.Marshal(redisEntry{Data: data, StoredAt: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err(); err != nil {
		r.log.Warn("Result cache write failed", zap.Error(err))
	}
}

// Len reports the number of result entries currently in Redis. Best effort:
// scan failures report zero.
func (r *Redis) Len() int {
	ctx := context.Background()
	var cursor uint64
	count := 0
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, redisKeyPrefix+"*", 256).Result()
		if err != nil {
			return count
		}
		count += len(keys)
		if next == 0 {
			return count
		}
		cursor = next
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error { return r.rdb.Close() }
