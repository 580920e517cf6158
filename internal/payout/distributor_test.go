package payout_test

import (
	"context"
	"errors"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/payout"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/store/memory"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

type flakyTransferer struct {
	down  map[string]bool
	calls int
	inner wallet.Transferer
}

func (f *flakyTransferer) Transfer(ctx context.Context, req wallet.TransferRequest) (string, error) {
	f.calls++
	if f.down[req.Bettor] {
		return "", errors.New("transfer timeout")
	}
	return f.inner.Transfer(ctx, req)
}

// refundedRound monta uma rodada reembolsada com dois participantes
func refundedRound(t *testing.T) (*round.Machine, *memory.Store, uint64) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	clk := quartz.NewMock(t)
	p := round.DefaultParams()
	p.MinStake = 1
	m := round.NewMachine(st, clk, p, zap.NewNop())

	_, err := m.PlaceEntryStake(ctx, round.StakeRequest{Bettor: "alice", Amount: 40})
	require.NoError(t, err)
	r, err := m.PlaceEntryStake(ctx, round.StakeRequest{Bettor: "bob", Amount: 60})
	require.NoError(t, err)

	clk.Advance(p.EmergencyTimeout).MustWait(ctx)
	_, err = m.ForceReset(ctx, r.ID, "test")
	require.NoError(t, err)
	return m, st, r.ID
}

func TestDistributePaysAndDegradesToClaim(t *testing.T) {
	ctx := context.Background()
	m, st, id := refundedRound(t)
	tr := &flakyTransferer{down: map[string]bool{"bob": true}, inner: wallet.BalanceTransferer{Balances: st}}
	d := payout.NewDistributor(m, tr, zap.NewNop())

	rep, err := d.Distribute(ctx, id)
	require.NoError(t, err)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, 1, rep.Failed())
	for _, res := range rep.Results {
		if res.Bettor == "bob" {
			assert.ErrorIs(t, res.Err, payout.ErrAutoPayoutFailed)
		} else {
			assert.NoError(t, res.Err)
		}
	}

	bal, _ := st.Balance(ctx, "alice")
	assert.EqualValues(t, 40, bal)

	r, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, r.ClaimPending(), 1)
	assert.Equal(t, "bob", r.ClaimPending()[0].Bettor)
	assert.Empty(t, r.PendingPayouts())

	// a rodada fecha mesmo com claim pendente
	_, err = m.Finalize(ctx, id)
	require.NoError(t, err)

	// nada a distribuir de novo
	rep, err = d.Distribute(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, rep.Results)

	_, err = d.Claim(ctx, id, "alice")
	assert.ErrorIs(t, err, payout.ErrNothingToClaim)

	_, err = d.Claim(ctx, id, "bob")
	assert.ErrorIs(t, err, payout.ErrAutoPayoutFailed)

	tr.down["bob"] = false
	rep, err = d.Claim(ctx, id, "bob")
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	bal, _ = st.Balance(ctx, "bob")
	assert.EqualValues(t, 60, bal)

	r, _ = m.Get(ctx, id)
	assert.Empty(t, r.ClaimPending())
	for _, p := range r.Settlement.Payouts {
		assert.True(t, p.Status.Done())
	}

	_, err = d.Claim(ctx, id, "bob")
	assert.ErrorIs(t, err, payout.ErrNothingToClaim)
}

func TestDistributeRequiresConfirmedWinner(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	clk := quartz.NewMock(t)
	p := round.DefaultParams()
	p.MinStake = 1
	m := round.NewMachine(st, clk, p, zap.NewNop())
	r, err := m.PlaceEntryStake(ctx, round.StakeRequest{Bettor: "alice", Amount: 5})
	require.NoError(t, err)

	d := payout.NewDistributor(m, wallet.BalanceTransferer{Balances: st}, zap.NewNop())
	_, err = d.Distribute(ctx, r.ID)
	assert.ErrorIs(t, err, payout.ErrNotSettled)
}
