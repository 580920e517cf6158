package txqueue_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/store/memory"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

// fakeGateway falha as transferências dos apostadores em fail
type fakeGateway struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []wallet.TransferRequest
}

func (g *fakeGateway) Transfer(_ context.Context, req wallet.TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.fail[req.Bettor] {
		return "", errors.New("gateway unavailable")
	}
	return "ext-" + req.Ref, nil
}

func setup(t *testing.T) (*txqueue.Queue, *memory.Store, *fakeGateway, *quartz.Mock) {
	t.Helper()
	st := memory.New()
	gw := &fakeGateway{fail: map[string]bool{}}
	clk := quartz.NewMock(t)
	return txqueue.New(st, st, gw, clk, zap.NewNop()), st, gw, clk
}

func TestDepositCreditsOnCompletion(t *testing.T) {
	ctx := context.Background()
	q, st, _, _ := setup(t)

	tx, err := q.Enqueue(ctx, txqueue.KindDeposit, "alice", 500, 0)
	require.NoError(t, err)
	bal, _ := st.Balance(ctx, "alice")
	assert.Zero(t, bal)

	rep, err := q.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)

	bal, _ = st.Balance(ctx, "alice")
	assert.EqualValues(t, 500, bal)

	got, err := q.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, txqueue.StatusCompleted, got.Status)
	assert.Equal(t, "ext-"+tx.ID, got.ExternalRef)
	assert.Equal(t, 1, got.Attempts)
}

func TestWithdrawalDebitsImmediately(t *testing.T) {
	ctx := context.Background()
	q, st, _, _ := setup(t)
	_, err := st.Credit(ctx, "bob", 100, "seed")
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, txqueue.KindWithdrawal, "bob", 150, 0)
	assert.ErrorIs(t, err, txqueue.ErrInsufficientBalance)

	_, err = q.Enqueue(ctx, txqueue.KindWithdrawal, "bob", 60, 0)
	require.NoError(t, err)
	bal, _ := st.Balance(ctx, "bob")
	assert.EqualValues(t, 40, bal)

	_, err = q.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	bal, _ = st.Balance(ctx, "bob")
	assert.EqualValues(t, 40, bal)
}

func TestFailedWithdrawalCompensatedThenArchived(t *testing.T) {
	ctx := context.Background()
	q, st, gw, _ := setup(t)
	gw.fail["carol"] = true
	_, err := st.Credit(ctx, "carol", 100, "seed")
	require.NoError(t, err)

	var outcomes []txqueue.Status
	q.OnOutcome = func(_ txqueue.Kind, s txqueue.Status) { outcomes = append(outcomes, s) }

	tx, err := q.Enqueue(ctx, txqueue.KindWithdrawal, "carol", 70, 0)
	require.NoError(t, err)

	rep, err := q.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	got, err := q.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, txqueue.StatusFailed, got.Status)
	assert.True(t, got.Compensated)
	assert.True(t, got.Archived)
	assert.Equal(t, "gateway unavailable", got.LastError)

	bal, _ := st.Balance(ctx, "carol")
	assert.EqualValues(t, 100, bal)

	// compensação idempotente
	require.NoError(t, q.Recover(ctx, tx.ID))
	bal, _ = st.Balance(ctx, "carol")
	assert.EqualValues(t, 100, bal)
	assert.Equal(t, []txqueue.Status{txqueue.StatusFailed}, outcomes)
}

// flakyBalances falha os próximos failCredits créditos de compensação
type flakyBalances struct {
	wallet.Balances
	failCredits int
}

func (b *flakyBalances) Credit(ctx context.Context, bettor string, amount uint64, ref string) (uint64, error) {
	if strings.HasPrefix(ref, "compensate:") && b.failCredits > 0 {
		b.failCredits--
		return 0, errors.New("balance store unavailable")
	}
	return b.Balances.Credit(ctx, bettor, amount, ref)
}

func TestFailedCompensationRetriedOnNextBatch(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	gw := &fakeGateway{fail: map[string]bool{"dave": true}}
	bal := &flakyBalances{Balances: st, failCredits: 1}
	q := txqueue.New(st, bal, gw, quartz.NewMock(t), zap.NewNop())

	_, err := st.Credit(ctx, "dave", 100, "seed")
	require.NoError(t, err)
	tx, err := q.Enqueue(ctx, txqueue.KindWithdrawal, "dave", 70, 0)
	require.NoError(t, err)

	_, err = q.ProcessBatch(ctx, 10)
	require.Error(t, err)

	got, err := q.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, txqueue.StatusFailed, got.Status)
	assert.False(t, got.Compensated)
	assert.False(t, got.Archived)
	b, _ := st.Balance(ctx, "dave")
	assert.EqualValues(t, 30, b)

	rep, err := q.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Recovered)

	got, err = q.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, got.Compensated)
	assert.True(t, got.Archived)
	b, _ = st.Balance(ctx, "dave")
	assert.EqualValues(t, 100, b)

	// arquivado não volta a ser compensado
	rep, err = q.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, rep.Recovered)
	b, _ = st.Balance(ctx, "dave")
	assert.EqualValues(t, 100, b)
	require.Len(t, gw.calls, 1)
}

func TestProcessOrderPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	q, _, gw, clk := setup(t)

	_, err := q.Enqueue(ctx, txqueue.KindDeposit, "old-low", 1, 0)
	require.NoError(t, err)
	clk.Advance(time.Second).MustWait(ctx)
	_, err = q.Enqueue(ctx, txqueue.KindDeposit, "new-high", 1, 5)
	require.NoError(t, err)
	clk.Advance(time.Second).MustWait(ctx)
	_, err = q.Enqueue(ctx, txqueue.KindDeposit, "newer-low", 1, 0)
	require.NoError(t, err)

	rep, err := q.ProcessBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Completed)
	require.Len(t, gw.calls, 2)
	assert.Equal(t, "new-high", gw.calls[0].Bettor)
	assert.Equal(t, "old-low", gw.calls[1].Bettor)

	_, err = q.ProcessBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, gw.calls, 3)
	assert.Equal(t, "newer-low", gw.calls[2].Bettor)
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	q, _, _, _ := setup(t)
	_, err := q.Enqueue(ctx, txqueue.KindDeposit, "x", 0, 0)
	assert.ErrorIs(t, err, txqueue.ErrInvalidAmount)
	_, err = q.Enqueue(ctx, txqueue.Kind("refund"), "x", 1, 0)
	assert.ErrorIs(t, err, txqueue.ErrInvalidState)
}
