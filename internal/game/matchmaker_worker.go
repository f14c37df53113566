package game

import (
	"context"
	"time"

	"github.com/ful2win/backend/internal/models"
	"go.uber.org/zap"
)

// sweepBatch bounds how many waiting entries one sweep looks at.
const sweepBatch = 500

// StartPairingWorker runs PairWaiting every interval until ctx is cancelled.
func (m *Matchmaker) StartPairingWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("pairing worker started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("pairing worker stopped")
			return
		case <-ticker.C:
			if _, err := m.PairWaiting(ctx); err != nil {
				m.logger.Warn("pairing sweep failed", zap.Error(err))
			}
		}
	}
}

// PairWaiting pairs compatible entries that concurrent arrivals left
// waiting side by side. It returns the number of rooms formed.
func (m *Matchmaker) PairWaiting(ctx context.Context) (int, error) {
	entries, err := m.queue.ListWaiting(ctx, sweepBatch)
	if err != nil {
		return 0, storageErr("list waiting", err)
	}
	if len(entries) < 2 {
		return 0, nil
	}

	// Group by bucket keeping arrival order.
	type bucketKey struct{ game, fee string }
	var order []bucketKey
	buckets := make(map[bucketKey][]models.QueueEntry)
	for _, e := range entries {
		k := bucketKey{e.GameID, e.EntryFee.String()}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], e)
	}

	formed := 0
	for _, k := range order {
		n, err := m.pairBucket(ctx, buckets[k])
		formed += n
		if err != nil {
			return formed, err
		}
	}
	return formed, nil
}

func (m *Matchmaker) pairBucket(ctx context.Context, pending []models.QueueEntry) (int, error) {
	formed := 0
	for len(pending) >= 2 {
		a := pending[0]

		j := -1
		for i := 1; i < len(pending); i++ {
			if pending[i].UserID != a.UserID && pending[i].ConnectionID != a.ConnectionID {
				j = i
				break
			}
		}
		if j < 0 {
			// Nobody left who may play a.
			pending = pending[1:]
			continue
		}
		b := pending[j]
		pending = append(pending[1:j:j], pending[j+1:]...)

		ok, err := m.queue.RemovePair(ctx, a, b)
		if err != nil {
			return formed, storageErr("claim waiting pair", err)
		}
		if !ok {
			// One side was matched or cancelled since the listing. Whatever
			// is still queued is seen again by the next sweep.
			continue
		}

		m.announceMatch(a, b)
		formed++
	}
	return formed, nil
}

// ExpireWaiting removes entries that have waited longer than maxAge.
func (m *Matchmaker) ExpireWaiting(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := m.queue.ExpireBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, storageErr("expire waiting", err)
	}
	if n > 0 {
		m.logger.Info("expired waiting entries", zap.Int64("count", n))
	}
	return n, nil
}
