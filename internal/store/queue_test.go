package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fee10 = decimal.NewFromInt(10)

func entry(user, conn string, at time.Time) models.QueueEntry {
	return models.QueueEntry{UserID: user, GameID: "trivia", EntryFee: fee10, ConnectionID: conn, CreatedAt: at}
}

func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisQueue(rdb, "test")
}

// queueBackends runs fn against every QueueStore that needs no external server.
func queueBackends(t *testing.T, fn func(t *testing.T, q game.QueueStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryQueue()) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisQueue(t)) })
}

func TestQueueFindOpponentOrder(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

		require.NoError(t, q.Enqueue(ctx, entry("A", "cA", base)))
		require.NoError(t, q.Enqueue(ctx, entry("B", "cB", base.Add(time.Second))))

		opp, err := q.FindOpponent(ctx, "trivia", fee10, "C", "cC")
		require.NoError(t, err)
		require.NotNil(t, opp)
		assert.Equal(t, "A", opp.UserID)
		assert.Equal(t, "cA", opp.ConnectionID)
		assert.True(t, opp.EntryFee.Equal(fee10))

		// The caller's own entry and connection are skipped.
		opp, err = q.FindOpponent(ctx, "trivia", fee10, "A", "cZ")
		require.NoError(t, err)
		assert.Equal(t, "B", opp.UserID)
		opp, err = q.FindOpponent(ctx, "trivia", fee10, "Z", "cA")
		require.NoError(t, err)
		assert.Equal(t, "B", opp.UserID)

		opp, err = q.FindOpponent(ctx, "trivia", decimal.NewFromInt(5), "C", "cC")
		require.NoError(t, err)
		assert.Nil(t, opp)
	})
}

func TestQueueRemoveIsExact(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, entry("A", "cA", time.Now())))

		ok, err := q.Remove(ctx, entry("A", "stale", time.Time{}))
		require.NoError(t, err)
		assert.False(t, ok, "connection must match")

		ok, err = q.Remove(ctx, entry("A", "cA", time.Time{}))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.Remove(ctx, entry("A", "cA", time.Time{}))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestQueueConcurrentRemoveHasOneWinner(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, entry("A", "cA", time.Now())))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := q.Remove(ctx, entry("A", "cA", time.Time{}))
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins)
	})
}

func TestQueueEnqueueRefreshesEntry(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

		require.NoError(t, q.Enqueue(ctx, entry("A", "c1", base)))
		require.NoError(t, q.Enqueue(ctx, entry("B", "cB", base.Add(time.Second))))
		require.NoError(t, q.Enqueue(ctx, entry("A", "c2", base.Add(2*time.Second))))

		n, err := q.Count(ctx, "trivia", fee10)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		waiting, err := q.ListWaiting(ctx, 10)
		require.NoError(t, err)
		require.Len(t, waiting, 2)
		assert.Equal(t, "B", waiting[0].UserID)
		assert.Equal(t, "A", waiting[1].UserID)
		assert.Equal(t, "c2", waiting[1].ConnectionID)
	})
}

func TestQueueRemovePairIsAllOrNothing(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
		require.NoError(t, q.Enqueue(ctx, entry("A", "cA", base)))
		require.NoError(t, q.Enqueue(ctx, entry("B", "cB", base.Add(time.Second))))

		ok, err := q.RemovePair(ctx, entry("A", "cA", time.Time{}), entry("B", "stale", time.Time{}))
		require.NoError(t, err)
		assert.False(t, ok)

		// A cancelled entry makes the pair fail and leaves the other side queued.
		n, err := q.Cancel(ctx, "A", "trivia", fee10)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
		ok, err = q.RemovePair(ctx, entry("A", "cA", time.Time{}), entry("B", "cB", time.Time{}))
		require.NoError(t, err)
		assert.False(t, ok)

		waiting, err := q.ListWaiting(ctx, 0)
		require.NoError(t, err)
		require.Len(t, waiting, 1)
		assert.Equal(t, "B", waiting[0].UserID)

		require.NoError(t, q.Enqueue(ctx, entry("C", "cC", base.Add(2*time.Second))))
		ok, err = q.RemovePair(ctx, entry("B", "cB", time.Time{}), entry("C", "cC", time.Time{}))
		require.NoError(t, err)
		assert.True(t, ok)

		c, err := q.Count(ctx, "trivia", fee10)
		require.NoError(t, err)
		assert.Zero(t, c)
	})
}

func TestQueueConcurrentRemovePairHasOneWinner(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
		for i, u := range []string{"A", "B", "C"} {
			require.NoError(t, q.Enqueue(ctx, entry(u, "c"+u, base.Add(time.Duration(i)*time.Second))))
		}

		pairs := [][2]string{{"A", "B"}, {"B", "C"}, {"A", "C"}}
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			p := pairs[i%len(pairs)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := q.RemovePair(ctx, entry(p[0], "c"+p[0], time.Time{}), entry(p[1], "c"+p[1], time.Time{}))
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins)

		n, err := q.Count(ctx, "trivia", fee10)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestQueueDeletes(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		now := time.Now()

		require.NoError(t, q.Enqueue(ctx, entry("A", "c1", now.Add(-time.Hour))))
		require.NoError(t, q.Enqueue(ctx, entry("B", "c1", now)))
		chess := entry("C", "c2", now)
		chess.GameID = "chess"
		require.NoError(t, q.Enqueue(ctx, chess))
		require.NoError(t, q.Enqueue(ctx, entry("D", "c3", now)))

		n, err := q.Cancel(ctx, "D", "trivia", fee10)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		n, err = q.Cancel(ctx, "D", "trivia", fee10)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = q.ExpireBefore(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = q.RemoveByConnection(ctx, "c1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		waiting, err := q.ListWaiting(ctx, 0)
		require.NoError(t, err)
		require.Len(t, waiting, 1)
		assert.Equal(t, "chess", waiting[0].GameID)
	})
}

func TestQueueListWaitingLimit(t *testing.T) {
	queueBackends(t, func(t *testing.T, q game.QueueStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
		for i := 0; i < 5; i++ {
			e := entry(fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i), base.Add(time.Duration(i)*time.Second))
			if i%2 == 1 {
				e.EntryFee = decimal.NewFromInt(20)
			}
			require.NoError(t, q.Enqueue(ctx, e))
		}

		waiting, err := q.ListWaiting(ctx, 3)
		require.NoError(t, err)
		require.Len(t, waiting, 3)
		assert.Equal(t, []string{"u0", "u1", "u2"},
			[]string{waiting[0].UserID, waiting[1].UserID, waiting[2].UserID})
	})
}

func TestRedisQueueNormalisesFeeKeys(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	e := entry("A", "cA", time.Now())
	e.EntryFee = decimal.RequireFromString("10.00")
	require.NoError(t, q.Enqueue(ctx, e))

	n, err := q.Count(ctx, "trivia", fee10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, "test:bucket:trivia:10", q.bucketKey("trivia", e.EntryFee))
}
