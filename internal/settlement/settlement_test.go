package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryBet(id string, stake uint64) Bet {
	return Bet{ID: id, Bettor: id, Target: id, Stake: stake}
}

func TestSettleTwoParticipantsFivePercentFee(t *testing.T) {
	res, err := Settle(Input{
		Winner: "A",
		FeeBps: 500,
		Entry:  []Bet{entryBet("A", 60), entryBet("B", 40)},
	})
	require.NoError(t, err)

	require.Len(t, res.Payouts, 2)
	assert.Equal(t, Payout{BetID: "A", Bettor: "A", Pool: PoolEntry, Stake: 60, Amount: 95, Status: StatusWon}, res.Payouts[0])
	assert.Equal(t, Payout{BetID: "B", Bettor: "B", Pool: PoolEntry, Stake: 40, Amount: 0, Status: StatusLost}, res.Payouts[1])
	assert.Equal(t, uint64(95), res.EntryPayable)
	assert.Equal(t, uint64(5), res.HouseFee)
	assert.Zero(t, res.Swept)
}

func TestSettleSpectatorPoolSweptWhenNobodyBackedWinner(t *testing.T) {
	res, err := Settle(Input{
		Winner: "A",
		FeeBps: 500,
		Entry:  []Bet{entryBet("A", 50), entryBet("B", 50)},
		Spectator: []Bet{
			{ID: "s1", Bettor: "x", Target: "B", Stake: 30},
			{ID: "s2", Bettor: "y", Target: "C", Stake: 70},
		},
	})
	require.NoError(t, err)

	for _, p := range res.Payouts {
		if p.Pool == PoolSpectator {
			assert.Zero(t, p.Amount)
			assert.Equal(t, StatusLost, p.Status)
		}
	}
	assert.Equal(t, uint64(100), res.Swept)
	assert.Equal(t, uint64(95), res.SpectatorPayable)
	// entrada: 5 de taxa; espectadores: 100 varridos
	assert.Equal(t, uint64(105), res.HouseFee)
}

func TestSettleRoundingDustGoesToHouse(t *testing.T) {
	res, err := Settle(Input{
		Winner: "A",
		FeeBps: 500,
		Entry:  []Bet{entryBet("A", 10), entryBet("B", 10), entryBet("C", 10)},
		Spectator: []Bet{
			{ID: "s1", Bettor: "x", Target: "A", Stake: 1},
			{ID: "s2", Bettor: "y", Target: "A", Stake: 2},
			{ID: "s3", Bettor: "z", Target: "B", Stake: 8},
		},
	})
	require.NoError(t, err)

	// spectator: total 11, payable floor(10.45)=10; s1=floor(10*1/3)=3, s2=floor(10*2/3)=6
	amounts := map[string]uint64{}
	for _, p := range res.Payouts {
		amounts[p.BetID] = p.Amount
	}
	assert.Equal(t, uint64(28), amounts["A"]) // floor(30*0.95)=28
	assert.Equal(t, uint64(3), amounts["s1"])
	assert.Equal(t, uint64(6), amounts["s2"])
	assert.Equal(t, uint64(0), amounts["s3"])

	assert.LessOrEqual(t, amounts["s1"]+amounts["s2"], res.SpectatorPayable)
	assert.Equal(t, uint64(30+11)-res.TotalPaid(), res.HouseFee)
}

func TestSettleSingleParticipantRefund(t *testing.T) {
	res, err := Settle(Input{Refund: true, FeeBps: 500, Entry: []Bet{entryBet("A", 77)}})
	require.NoError(t, err)
	require.Len(t, res.Payouts, 1)
	assert.Equal(t, uint64(77), res.Payouts[0].Amount)
	assert.Equal(t, StatusRefunded, res.Payouts[0].Status)
	assert.Zero(t, res.HouseFee)
}

func TestSettleErrors(t *testing.T) {
	_, err := Settle(Input{FeeBps: 500, Entry: []Bet{entryBet("A", 1)}})
	assert.ErrorIs(t, err, ErrNoWinner)

	_, err = Settle(Input{Winner: "A", FeeBps: 10_001})
	assert.ErrorIs(t, err, ErrInvalidFee)
}

func TestSettlePayoutNeverExceedsPayable(t *testing.T) {
	stakes := [][]uint64{
		{1, 1, 1},
		{7, 13, 29, 101},
		{10_000_000, 33_333_333, 99_999_999},
		{1},
	}
	for _, fee := range []uint16{0, 1, 500, 9_999, 10_000} {
		for _, set := range stakes {
			var bets []Bet
			var total uint64
			for i, s := range set {
				id := string(rune('a' + i))
				bets = append(bets, Bet{ID: id, Bettor: id, Target: "w", Stake: s})
				total += s
			}
			res, err := Settle(Input{Winner: "w", FeeBps: fee, Spectator: bets})
			require.NoError(t, err)
			assert.LessOrEqual(t, res.TotalPaid(), res.SpectatorPayable)
			assert.Equal(t, total, res.TotalPaid()+res.HouseFee)
		}
	}
}
