package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/store/memory"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

func TestSaveKeepsWinnerAndActivePointer(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	r := &round.Round{ID: 1, Phase: round.PhaseResolving}
	require.NoError(t, s.Create(ctx, r))

	r.Winner = "alice"
	require.NoError(t, s.Save(ctx, r, ""))

	swap := r.Clone()
	swap.Winner = "bob"
	assert.ErrorIs(t, s.Save(ctx, swap, ""), round.ErrDuplicateWinner)

	r.Phase = round.PhaseFinished
	r.FinishedAt = time.Unix(100, 0)
	require.NoError(t, s.Save(ctx, r, ""))
	_, err := s.Active(ctx)
	assert.ErrorIs(t, err, round.ErrNoActiveRound)

	next, err := s.NextRoundID(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next)
	assert.ErrorIs(t, s.Create(ctx, &round.Round{ID: 1}), round.ErrRoundMismatch)
}

func TestDeleteOnlyFinishedRounds(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := &round.Round{ID: 1, Phase: round.PhaseWaiting}
	require.NoError(t, s.Create(ctx, r))

	assert.ErrorIs(t, s.Delete(ctx, 1), round.ErrInvalidTransition)

	r.Phase = round.PhaseFinished
	r.FinishedAt = time.Unix(50, 0)
	require.NoError(t, s.Save(ctx, r, ""))

	ids, err := s.ListFinishedBefore(ctx, time.Unix(60, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
	require.NoError(t, s.Delete(ctx, 1))
	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, round.ErrRoundNotFound)
}

func TestBalancesIdempotentByRef(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.Credit(ctx, "a", 10, "r1")
	require.NoError(t, err)
	bal, err := s.Credit(ctx, "a", 10, "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, bal)

	_, err = s.Debit(ctx, "a", 11, "r2")
	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)
}

func TestClaimQueuedMarksProcessing(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	at := time.Unix(1000, 0)
	for i, id := range []string{"low", "high"} {
		require.NoError(t, s.InsertTx(ctx, txqueue.Transaction{
			ID: id, Kind: txqueue.KindDeposit, Bettor: "a", Amount: 1,
			Priority: i, Status: txqueue.StatusQueued, CreatedAt: at, UpdatedAt: at,
		}))
	}

	got, err := s.ClaimQueued(ctx, 1, at.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "high", got[0].ID)
	assert.Equal(t, txqueue.StatusProcessing, got[0].Status)

	n, err := s.RequeueStale(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListUnarchivedFailed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	at := time.Unix(1000, 0)
	txs := []txqueue.Transaction{
		{ID: "done", Status: txqueue.StatusFailed, Archived: true, UpdatedAt: at},
		{ID: "newer", Status: txqueue.StatusFailed, UpdatedAt: at.Add(time.Second)},
		{ID: "older", Status: txqueue.StatusFailed, UpdatedAt: at},
		{ID: "queued", Status: txqueue.StatusQueued, UpdatedAt: at},
	}
	for _, tx := range txs {
		tx.Kind, tx.Bettor, tx.Amount = txqueue.KindWithdrawal, "a", 1
		require.NoError(t, s.InsertTx(ctx, tx))
	}

	got, err := s.ListUnarchivedFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].ID)
	assert.Equal(t, "newer", got[1].ID)
}
