package game_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideWinner(t *testing.T) {
	cases := []struct {
		p1, p2 int
		want   string
	}{
		{7, 3, "A"},
		{3, 7, "B"},
		{5, 5, ""},
		{0, 0, ""},
		{0, 1, "B"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d-%d", tc.p1, tc.p2), func(t *testing.T) {
			s := &models.Session{Players: models.Players{
				Player1: models.Seat{UserID: "A", Score: tc.p1},
				Player2: models.Seat{UserID: "B", Score: tc.p2},
			}}
			assert.Equal(t, tc.want, game.DecideWinner(s))
		})
	}
}

func TestSubmitScoreSettlesOnSecondScore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "A", 100)
	h.user(t, "B", 100)
	h.seat(t, "trivia_r1", 10, "A", "B")

	res, err := h.st.SubmitScore(ctx, "trivia_r1", "A", 3)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.False(t, res.Settled)
	assert.Equal(t, 3, res.Session.Players.Player1.Score)
	assert.Equal(t, game.StatusFull, res.Session.Status)

	res, err = h.st.SubmitScore(ctx, "trivia_r1", "B", 7)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Settled)
	assert.Equal(t, "B", res.Session.Winner)
	assert.Equal(t, game.StatusCompleted, res.Session.Status)
	require.NotNil(t, res.Session.CompletedAt)
	assert.Equal(t, 1, h.archiver.count())
}

func TestSubmitScoreDraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "A", 100)
	h.user(t, "B", 100)
	h.seat(t, "trivia_r1", 10, "A", "B")

	_, err := h.st.SubmitScore(ctx, "trivia_r1", "A", 5)
	require.NoError(t, err)
	res, err := h.st.SubmitScore(ctx, "trivia_r1", "B", 5)
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Empty(t, res.Session.Winner)
	assert.Equal(t, game.StatusCompleted, res.Session.Status)
}

func TestSubmitScoreIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "A", 100)
	h.user(t, "B", 100)
	h.seat(t, "trivia_r1", 10, "A", "B")

	_, err := h.st.SubmitScore(ctx, "trivia_r1", "A", 7)
	require.NoError(t, err)

	res, err := h.st.SubmitScore(ctx, "trivia_r1", "A", 7)
	require.NoError(t, err)
	assert.False(t, res.Completed)

	_, err = h.st.SubmitScore(ctx, "trivia_r1", "A", 8)
	assert.ErrorIs(t, err, game.ErrScoreAlreadySubmitted)

	res, err = h.st.SubmitScore(ctx, "trivia_r1", "B", 3)
	require.NoError(t, err)
	require.True(t, res.Settled)

	// Replays after settlement report completion without settling again.
	res, err = h.st.SubmitScore(ctx, "trivia_r1", "B", 3)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.False(t, res.Settled)
	assert.Equal(t, "A", res.Session.Winner)

	_, err = h.st.SubmitScore(ctx, "trivia_r1", "A", 9)
	assert.ErrorIs(t, err, game.ErrScoreAlreadySubmitted)
	assert.Equal(t, 1, h.archiver.count())
}

func TestSubmitScoreBeforeOpponentSeated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "A", 100)
	h.user(t, "B", 100)
	h.seat(t, "trivia_r1", 10, "A")

	res, err := h.st.SubmitScore(ctx, "trivia_r1", "A", 4)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, game.StatusOpen, res.Session.Status)

	h.seat(t, "trivia_r1", 10, "B")
	res, err = h.st.SubmitScore(ctx, "trivia_r1", "B", 2)
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, "A", res.Session.Winner)
}

func TestSubmitScoreRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "A", 100)
	h.seat(t, "trivia_r1", 10, "A")

	_, err := h.st.SubmitScore(ctx, "trivia_missing", "A", 1)
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	_, err = h.st.SubmitScore(ctx, "trivia_r1", "C", 1)
	assert.ErrorIs(t, err, game.ErrPlayerNotInSession)

	_, err = h.st.SubmitScore(ctx, "trivia_r1", "A", -1)
	assert.ErrorIs(t, err, game.ErrInvalidRequest)

	_, err = h.st.SubmitScore(ctx, "", "A", 1)
	assert.ErrorIs(t, err, game.ErrInvalidRequest)
}

func TestConcurrentSubmitsSettleOnce(t *testing.T) {
	const rounds = 20

	for r := 0; r < rounds; r++ {
		h := newHarness(t)
		ctx := context.Background()
		h.user(t, "A", 100)
		h.user(t, "B", 100)
		h.seat(t, "trivia_r1", 10, "A", "B")

		var wg sync.WaitGroup
		var mu sync.Mutex
		settled := 0
		submit := func(user string, score int) {
			defer wg.Done()
			res, err := h.st.SubmitScore(ctx, "trivia_r1", user, score)
			if !assert.NoError(t, err) {
				return
			}
			if res.Settled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}
		// Each player also retries its own submission.
		wg.Add(4)
		go submit("A", 7)
		go submit("B", 3)
		go submit("A", 7)
		go submit("B", 3)
		wg.Wait()

		assert.Equal(t, 1, settled, "round %d", r)
		assert.Equal(t, 1, h.archiver.count(), "round %d", r)

		sess, err := h.st.GetSession(ctx, "trivia_r1")
		require.NoError(t, err)
		assert.Equal(t, "A", sess.Winner)
	}
}

// Two players find each other, register, play and settle.
func TestTriviaMatchEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, "A", 100)
	h.user(t, "B", 100)

	res, err := h.mm.FindOrEnqueue(ctx, join("A", "cA"))
	require.NoError(t, err)
	require.False(t, res.Matched)
	res, err = h.mm.FindOrEnqueue(ctx, join("B", "cB"))
	require.NoError(t, err)
	require.True(t, res.Matched)

	found := h.notifier.matchFound()
	roomID := found["cA"][0].RoomID
	require.Equal(t, roomID, found["cB"][0].RoomID)

	for _, u := range []string{"A", "B"} {
		_, err := h.mm.RegisterSession(ctx, game.RegisterRequest{
			UserID: u, GameID: "trivia", EntryFee: found["c"+u][0].EntryFee, RoomID: roomID,
		})
		require.NoError(t, err)
	}

	sess, err := h.st.GetSession(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, game.StatusFull, sess.Status)

	first, err := h.st.SubmitScore(ctx, roomID, "A", 7)
	require.NoError(t, err)
	assert.False(t, first.Completed)

	second, err := h.st.SubmitScore(ctx, roomID, "B", 3)
	require.NoError(t, err)
	assert.True(t, second.Settled)
	assert.Equal(t, "A", second.Session.Winner)

	assert.True(t, h.balance(t, "A").Equal(decimal.NewFromInt(90)))
	assert.True(t, h.balance(t, "B").Equal(decimal.NewFromInt(90)))
}
