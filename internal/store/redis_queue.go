package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ful2win/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Each (game, fee) bucket is a sorted set of user ids scored by arrival
// time in milliseconds, plus a hash of user id -> connection id. A shared
// hash indexes every bucket that has ever held an entry.
//
// All conditional mutations run as Lua scripts so they are atomic.

var removeExactScript = redis.NewScript(`
local conn = redis.call('HGET', KEYS[2], ARGV[1])
if not conn or conn ~= ARGV[2] then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

var enqueueScript = redis.NewScript(`
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3], KEYS[1], ARGV[4])
return 1
`)

var removePairScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
  return 0
end
if redis.call('HGET', KEYS[4], ARGV[3]) ~= ARGV[4] then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[3])
redis.call('ZREM', KEYS[3], ARGV[3])
return 1
`)

var cancelScript = redis.NewScript(`
local n = redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
return n
`)

var removeByConnScript = redis.NewScript(`
local all = redis.call('HGETALL', KEYS[2])
local n = 0
for i = 1, #all, 2 do
  if all[i + 1] == ARGV[1] then
    redis.call('HDEL', KEYS[2], all[i])
    redis.call('ZREM', KEYS[1], all[i])
    n = n + 1
  end
end
return n
`)

var expireScript = redis.NewScript(`
local old = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, u in ipairs(old) do
  redis.call('HDEL', KEYS[2], u)
  redis.call('ZREM', KEYS[1], u)
end
return #old
`)

type bucketMeta struct {
	GameID   string `json:"gameId"`
	EntryFee string `json:"entryFee"`
}

// RedisQueue is a QueueStore on Redis shared by all server instances.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisQueue creates a queue store under key prefix (default "mmq").
func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "mmq"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix}
}

func (q *RedisQueue) bucketKey(gameID string, fee decimal.Decimal) string {
	return fmt.Sprintf("%s:bucket:%s:%s", q.prefix, gameID, fee.String())
}

func (q *RedisQueue) indexKey() string { return q.prefix + ":buckets" }

func connKey(bucket string) string { return bucket + ":conn" }

func bucketMetaJSON(gameID string, fee decimal.Decimal) string {
	b, _ := json.Marshal(bucketMeta{GameID: gameID, EntryFee: fee.String()})
	return string(b)
}

type bucketEntries struct {
	key  string
	meta bucketMeta
}

func (q *RedisQueue) buckets(ctx context.Context) ([]bucketEntries, error) {
	raw, err := q.rdb.HGetAll(ctx, q.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]bucketEntries, 0, len(raw))
	for key, v := range raw {
		var meta bucketMeta
		if err := json.Unmarshal([]byte(v), &meta); err != nil {
			continue
		}
		out = append(out, bucketEntries{key: key, meta: meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}

// readBucket returns every entry of one bucket in arrival order.
func (q *RedisQueue) readBucket(ctx context.Context, key string, gameID string, fee decimal.Decimal) ([]models.QueueEntry, error) {
	pipe := q.rdb.Pipeline()
	zcmd := pipe.ZRangeWithScores(ctx, key, 0, -1)
	hcmd := pipe.HGetAll(ctx, connKey(key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	members, err := zcmd.Result()
	if err != nil {
		return nil, err
	}
	conns, err := hcmd.Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.QueueEntry, 0, len(members))
	for _, z := range members {
		userID, _ := z.Member.(string)
		conn, ok := conns[userID]
		if !ok {
			continue
		}
		out = append(out, models.QueueEntry{
			UserID:       userID,
			GameID:       gameID,
			EntryFee:     fee,
			ConnectionID: conn,
			CreatedAt:    time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return out, nil
}

// FindOpponent implements game.QueueStore.
func (q *RedisQueue) FindOpponent(ctx context.Context, gameID string, fee decimal.Decimal, userID, connectionID string) (*models.QueueEntry, error) {
	entries, err := q.readBucket(ctx, q.bucketKey(gameID, fee), gameID, fee)
	if err != nil {
		return nil, fmt.Errorf("find opponent: %w", err)
	}
	for _, e := range entries {
		if e.UserID != userID && e.ConnectionID != connectionID {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

// Remove implements game.QueueStore.
func (q *RedisQueue) Remove(ctx context.Context, e models.QueueEntry) (bool, error) {
	key := q.bucketKey(e.GameID, e.EntryFee)
	n, err := removeExactScript.Run(ctx, q.rdb, []string{key, connKey(key)}, e.UserID, e.ConnectionID).Int64()
	if err != nil {
		return false, fmt.Errorf("remove queue entry: %w", err)
	}
	return n == 1, nil
}

// Enqueue implements game.QueueStore.
func (q *RedisQueue) Enqueue(ctx context.Context, e models.QueueEntry) error {
	key := q.bucketKey(e.GameID, e.EntryFee)
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err := enqueueScript.Run(ctx, q.rdb, []string{key, connKey(key), q.indexKey()},
		e.UserID, e.ConnectionID, created.UnixMilli(), bucketMetaJSON(e.GameID, e.EntryFee)).Err()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// RemovePair implements game.QueueStore.
func (q *RedisQueue) RemovePair(ctx context.Context, a, b models.QueueEntry) (bool, error) {
	if a.UserID == b.UserID && a.GameID == b.GameID && a.EntryFee.Equal(b.EntryFee) {
		return false, nil
	}
	ka, kb := q.bucketKey(a.GameID, a.EntryFee), q.bucketKey(b.GameID, b.EntryFee)
	n, err := removePairScript.Run(ctx, q.rdb, []string{ka, connKey(ka), kb, connKey(kb)},
		a.UserID, a.ConnectionID, b.UserID, b.ConnectionID).Int64()
	if err != nil {
		return false, fmt.Errorf("remove queue pair: %w", err)
	}
	return n == 1, nil
}

// Cancel implements game.QueueStore.
func (q *RedisQueue) Cancel(ctx context.Context, userID, gameID string, fee decimal.Decimal) (int64, error) {
	key := q.bucketKey(gameID, fee)
	n, err := cancelScript.Run(ctx, q.rdb, []string{key, connKey(key)}, userID).Int64()
	if err != nil {
		return 0, fmt.Errorf("cancel: %w", err)
	}
	return n, nil
}

// forEachBucket runs script against every indexed bucket and sums the results.
func (q *RedisQueue) forEachBucket(ctx context.Context, op string, script *redis.Script, args ...any) (int64, error) {
	buckets, err := q.buckets(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	var total int64
	for _, b := range buckets {
		n, err := script.Run(ctx, q.rdb, []string{b.key, connKey(b.key)}, args...).Int64()
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}
		total += n
	}
	return total, nil
}

// RemoveByConnection implements game.QueueStore.
func (q *RedisQueue) RemoveByConnection(ctx context.Context, connectionID string) (int64, error) {
	return q.forEachBucket(ctx, "remove by connection", removeByConnScript, connectionID)
}

// ExpireBefore implements game.QueueStore.
func (q *RedisQueue) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return q.forEachBucket(ctx, "expire queue", expireScript, cutoff.UnixMilli())
}

// ListWaiting implements game.QueueStore.
func (q *RedisQueue) ListWaiting(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	buckets, err := q.buckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	var all []models.QueueEntry
	for _, b := range buckets {
		fee, err := decimal.NewFromString(b.meta.EntryFee)
		if err != nil {
			continue
		}
		entries, err := q.readBucket(ctx, b.key, b.meta.GameID, fee)
		if err != nil {
			return nil, fmt.Errorf("list waiting: %w", err)
		}
		all = append(all, entries...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Count implements game.QueueStore.
func (q *RedisQueue) Count(ctx context.Context, gameID string, fee decimal.Decimal) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.bucketKey(gameID, fee)).Result()
	if err != nil {
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return n, nil
}
