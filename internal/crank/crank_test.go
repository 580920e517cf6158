package crank_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/crank"
	"github.com/radieske/arena-wager-platform/internal/health"
	"github.com/radieske/arena-wager-platform/internal/ledger"
	"github.com/radieske/arena-wager-platform/internal/payout"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/shared/metrics"
	"github.com/radieske/arena-wager-platform/internal/store/memory"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

// fakeLedger confirma tudo por padrão
type fakeLedger struct {
	mu         sync.Mutex
	down       bool
	submitErr  error
	reject     bool
	snapshot   ledger.RoundSnapshot
	onSnapshot func()
	closes     int
	winners    []string
	seq        int
}

func (l *fakeLedger) GetRoundSnapshot(context.Context) (ledger.RoundSnapshot, error) {
	l.mu.Lock()
	snap, hook := l.snapshot, l.onSnapshot
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return snap, nil
}

func (l *fakeLedger) SubmitCloseBetting(_ context.Context, roundID uint64) (ledger.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return "", l.submitErr
	}
	l.closes++
	l.seq++
	return ledger.TxHandle(fmt.Sprintf("close-%d-%d", roundID, l.seq)), nil
}

func (l *fakeLedger) SubmitWinner(_ context.Context, roundID uint64, winner string) (ledger.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return "", l.submitErr
	}
	l.winners = append(l.winners, winner)
	l.seq++
	return ledger.TxHandle(fmt.Sprintf("winner-%d-%d", roundID, l.seq)), nil
}

func (l *fakeLedger) AwaitConfirmation(context.Context, ledger.TxHandle) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.reject, nil
}

func (l *fakeLedger) HealthCheck(context.Context) (ledger.Health, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return ledger.Health{}, errors.New("connection refused")
	}
	return ledger.Health{Healthy: true, Latency: 5 * time.Millisecond}, nil
}

// switchTransferer falha para os apostadores em fail
type switchTransferer struct {
	mu    sync.Mutex
	fail  map[string]bool
	inner wallet.Transferer
}

func (s *switchTransferer) Transfer(ctx context.Context, req wallet.TransferRequest) (string, error) {
	s.mu.Lock()
	failing := s.fail[req.Bettor]
	s.mu.Unlock()
	if failing {
		return "", errors.New("transfer gateway timeout")
	}
	return s.inner.Transfer(ctx, req)
}

// flakyRounds falha os próximos failSaves Save da máquina
type flakyRounds struct {
	round.Store
	mu        sync.Mutex
	failSaves int
}

func (f *flakyRounds) Save(ctx context.Context, r *round.Round, eventID string) error {
	f.mu.Lock()
	fail := f.failSaves > 0
	if fail {
		f.failSaves--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return f.Store.Save(ctx, r, eventID)
}

func (f *flakyRounds) failNext(n int) {
	f.mu.Lock()
	f.failSaves = n
	f.mu.Unlock()
}

// hookOracle chama onReady na primeira seed pronta
type hookOracle struct {
	randomness.Oracle
	onReady func()
}

func (o *hookOracle) Fulfillment(ctx context.Context, ref string) ([]byte, bool, error) {
	seed, ok, err := o.Oracle.Fulfillment(ctx, ref)
	if ok && o.onReady != nil {
		f := o.onReady
		o.onReady = nil
		f()
	}
	return seed, ok, err
}

type harness struct {
	crank    *crank.Crank
	machine  *round.Machine
	rounds   *flakyRounds
	store    *memory.Store
	clock    *quartz.Mock
	ledger   *fakeLedger
	oracle   randomness.Oracle
	transfer *switchTransferer
	payouts  *payout.Distributor
	metrics  *metrics.Arena
	locker   *crank.MemoryLocker
}

func newHarness(t *testing.T, oracle randomness.Oracle) *harness {
	t.Helper()
	if oracle == nil {
		oracle = randomness.NewMockOracle([]byte("test-secret"), true)
	}
	h := &harness{
		store:  memory.New(),
		clock:  quartz.NewMock(t),
		ledger: &fakeLedger{},
		oracle: oracle,
	}
	log := zap.NewNop()
	params := round.DefaultParams()
	params.MinStake = 1
	params.LargeGameThreshold = 4
	params.FinalistCount = 2

	h.rounds = &flakyRounds{Store: h.store}
	h.machine = round.NewMachine(h.rounds, h.clock, params, log)
	h.transfer = &switchTransferer{fail: map[string]bool{}, inner: wallet.BalanceTransferer{Balances: h.store}}
	h.payouts = payout.NewDistributor(h.machine, h.transfer, log)
	h.metrics = metrics.NewArena(prometheus.NewRegistry())
	h.locker = crank.NewMemoryLocker(h.clock)

	h.crank = crank.New(crank.Deps{
		Machine: h.machine,
		Rounds:  h.store,
		Broker:  randomness.NewBroker(h.store, oracle, h.clock, log),
		Gateway: h.ledger,
		Payouts: h.payouts,
		Queue:   txqueue.New(h.store, h.store, h.transfer, h.clock, log),
		Health:  health.NewTracker(h.store, h.clock, log),
		Locker:  h.locker,
		Clock:   h.clock,
		Log:     log,
		Metrics: h.metrics,
	}, crank.Options{
		Interval:      5 * time.Second,
		LockTTL:       30 * time.Second,
		RetryAttempts: 3,
		StuckGrace:    2 * time.Minute,
		ArchiveAfter:  time.Hour,
		TxBatchSize:   10,
	})
	return h
}

func (h *harness) stake(t *testing.T, bettor string, amount uint64) *round.Round {
	t.Helper()
	r, err := h.machine.PlaceEntryStake(context.Background(), round.StakeRequest{Bettor: bettor, Amount: amount})
	require.NoError(t, err)
	return r
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.crank.Tick(context.Background()))
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d).MustWait(context.Background())
}

func TestTickRunsSmallRoundToCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	h.stake(t, "A", 60)
	r := h.stake(t, "B", 40)

	h.tick(t)
	got, err := h.machine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, round.PhaseWaiting, got.Phase, "deadline not reached")

	h.advance(30 * time.Second)
	h.tick(t)

	got, err = h.machine.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, round.PhaseFinished, got.Phase)
	assert.True(t, got.WinnerConfirmed)
	assert.Contains(t, []string{"A", "B"}, got.Winner)
	assert.Equal(t, 1, h.ledger.closes)
	assert.Equal(t, []string{got.Winner}, h.ledger.winners)

	bal, _ := h.store.Balance(ctx, got.Winner)
	assert.EqualValues(t, 95, bal)
	assert.EqualValues(t, 5, got.Settlement.HouseFee)

	rec, err := h.store.GetHealth(ctx, health.ComponentLedger)
	require.NoError(t, err)
	assert.Equal(t, health.StatusOK, rec.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.CrankTicks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PayoutsPaid))
}

func TestLostLeaseStopsLedgerSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.stake(t, "A", 60)
	r := h.stake(t, "B", 40)
	h.advance(30 * time.Second)

	// o tick passa do TTL e outra instância assume o lease
	h.ledger.onSnapshot = func() {
		h.advance(31 * time.Second)
		_, ok, err := h.locker.Acquire(ctx, "arena:crank:lease", 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}

	err := h.crank.Tick(ctx)
	require.ErrorIs(t, err, crank.ErrLeaseLost)
	assert.Zero(t, h.ledger.closes)

	got, err := h.machine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, round.AwaitCloseConfirmation, got.Awaiting)
	assert.Nil(t, got.Pending)
}

func TestTickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.stake(t, "A", 60)
	r := h.stake(t, "B", 40)
	h.advance(30 * time.Second)

	h.tick(t)
	first, err := h.machine.Get(ctx, r.ID)
	require.NoError(t, err)

	h.tick(t)
	second, err := h.machine.Get(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.ledger.closes)
	assert.Len(t, h.ledger.winners, 1)
	bal, _ := h.store.Balance(ctx, first.Winner)
	assert.EqualValues(t, 95, bal)
}

func TestTickLargeRoundWithSpectators(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	var r *round.Round
	for _, b := range []string{"a", "b", "c", "d"} {
		r = h.stake(t, b, 10)
	}
	h.advance(30 * time.Second)
	h.tick(t)

	r, err := h.machine.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, round.PhaseSpectatorBetting, r.Phase)
	require.Len(t, r.Finalists, 2)

	_, err = h.machine.PlaceSpectatorStake(ctx, round.SpectatorRequest{Bettor: "s1", Target: r.Finalists[0], Amount: 20})
	require.NoError(t, err)
	_, err = h.machine.PlaceSpectatorStake(ctx, round.SpectatorRequest{Bettor: "s2", Target: r.Finalists[1], Amount: 20})
	require.NoError(t, err)

	// janela de espectadores ainda aberta
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, round.PhaseSpectatorBetting, r.Phase)

	h.advance(30 * time.Second)
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	require.Equal(t, round.PhaseFinished, r.Phase)
	assert.True(t, r.IsFinalist(r.Winner))
	assert.Equal(t, 2, h.ledger.closes)

	// 40 de entrada → 38; 40 de espectador → 38, todo para quem apostou no vencedor
	var spectatorWinner string
	for _, s := range r.Spectators {
		if s.Target == r.Winner {
			spectatorWinner = s.Bettor
		}
	}
	bal, _ := h.store.Balance(ctx, spectatorWinner)
	assert.EqualValues(t, 38, bal)
	bal, _ = h.store.Balance(ctx, r.Winner)
	assert.EqualValues(t, 38, bal)
	assert.EqualValues(t, 4, r.Settlement.HouseFee)
}

func TestLedgerSubmissionFailureRetriedNextTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	r := h.stake(t, "A", 10)
	h.stake(t, "B", 10)
	h.advance(30 * time.Second)

	h.ledger.submitErr = fmt.Errorf("%w: http 503", ledger.ErrSubmissionFailed)
	h.tick(t)

	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, round.PhaseWaiting, r.Phase)
	assert.Equal(t, round.AwaitCloseConfirmation, r.Awaiting)
	assert.True(t, r.BetsLocked)
	assert.Nil(t, r.Pending)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.LedgerFailures.WithLabelValues("close_betting")))

	rec, _ := h.store.GetHealth(ctx, health.ComponentLedger)
	assert.NotEqual(t, health.StatusOK, rec.Status)

	h.ledger.submitErr = nil
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, round.PhaseFinished, r.Phase)
}

func TestRejectedConfirmationResubmits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	r := h.stake(t, "A", 10)
	h.stake(t, "B", 10)
	h.advance(30 * time.Second)

	h.ledger.reject = true
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	require.NotNil(t, r.Pending)
	assert.Empty(t, r.Pending.Handle)
	assert.Equal(t, 1, r.Pending.Attempts)

	h.ledger.reject = false
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, round.PhaseFinished, r.Phase)
	assert.Equal(t, 2, h.ledger.closes)
}

func TestLedgerDownStopsSubmissionsOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	r := h.stake(t, "A", 10)
	h.stake(t, "B", 10)
	h.advance(30 * time.Second)

	h.ledger.down = true
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, round.AwaitCloseConfirmation, r.Awaiting)
	assert.Zero(t, h.ledger.closes)

	rec, _ := h.store.GetHealth(ctx, health.ComponentLedger)
	assert.Equal(t, health.StatusDegraded, rec.Status)
	assert.Equal(t, 1, rec.ConsecutiveErrors)
}

func TestPayoutFailureFallsBackToClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	r := h.stake(t, "solo", 25)
	h.advance(30 * time.Second)
	h.transfer.fail["solo"] = true

	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	require.Equal(t, round.PhaseFinished, r.Phase)
	assert.True(t, r.Settlement.Refund)
	require.Len(t, r.ClaimPending(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PayoutsFailed))

	rec, _ := h.store.GetHealth(ctx, health.ComponentPayouts)
	assert.Equal(t, health.StatusDegraded, rec.Status)

	h.transfer.fail["solo"] = false
	_, err := h.payouts.Claim(ctx, r.ID, "solo")
	require.NoError(t, err)
	bal, _ := h.store.Balance(ctx, "solo")
	assert.EqualValues(t, 25, bal)
}

// sameSeedOracle devolve a mesma seed para as duas tags
type sameSeedOracle struct{}

func (sameSeedOracle) RequestRandomness(_ context.Context, roundID uint64, tag randomness.Tag) (string, error) {
	return fmt.Sprintf("%d/%s", roundID, tag), nil
}

func (sameSeedOracle) Fulfillment(context.Context, string) ([]byte, bool, error) {
	return bytes.Repeat([]byte{0x42}, 32), true, nil
}

func TestSeedReuseHaltsRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, sameSeedOracle{})
	var r *round.Round
	for _, b := range []string{"a", "b", "c", "d"} {
		r = h.stake(t, b, 10)
	}
	h.advance(30 * time.Second)
	h.tick(t)
	h.advance(30 * time.Second)
	h.tick(t)

	r, _ = h.machine.Get(ctx, r.ID)
	assert.True(t, r.Halted)
	assert.Contains(t, r.HaltReason, "seed")
	assert.Empty(t, r.Winner)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RoundsHalted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RandomnessAnomaly.WithLabelValues("seed_reuse")))

	// interrompida: ticks seguintes não mexem na rodada
	version := r.Version
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, version, r.Version)

	rec, _ := h.store.GetHealth(ctx, health.ComponentRound)
	assert.Equal(t, health.StatusDegraded, rec.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StuckRounds))
}

func TestUnappliedSeedIsReportedThenHalts(t *testing.T) {
	ctx := context.Background()
	o := &hookOracle{Oracle: randomness.NewMockOracle([]byte("test-secret"), true)}
	h := newHarness(t, o)
	o.onReady = func() { h.rounds.failNext(1) }

	var r *round.Round
	for _, b := range []string{"a", "b", "c", "d"} {
		r = h.stake(t, b, 10)
	}
	h.advance(30 * time.Second)

	err := h.crank.Tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RandomnessAnomaly.WithLabelValues("seed_unapplied")))

	got, err := h.machine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, round.PhaseArena, got.Phase)
	assert.False(t, got.Halted)
	rec, _ := h.store.GetHealth(ctx, health.ComponentRandomness)
	assert.Contains(t, rec.LastError, "connection reset by peer")

	// a seed já foi consumida: o tick seguinte interrompe a rodada
	h.tick(t)
	got, err = h.machine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Halted)
	assert.Contains(t, got.HaltReason, "seed already consumed")
	assert.Empty(t, got.Finalists)
}

func TestLedgerEventsFromSnapshotAppliedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	now := h.clock.Now()
	h.ledger.snapshot = ledger.RoundSnapshot{
		RoundID: 5,
		Events: []ledger.Event{
			ledger.NewStakePlaced("l-1", 5, "A", 30, false, now),
			ledger.NewStakePlaced("l-2", 5, "B", 20, false, now),
			ledger.NewStakePlaced("l-3", 5, "B", 0, false, now),
		},
	}

	h.tick(t)
	h.tick(t)

	r, err := h.machine.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, round.PhaseWaiting, r.Phase)
	assert.EqualValues(t, 50, r.EntryPool)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.LedgerEventsByKind.WithLabelValues("stake_placed", "invalid")))
}

func TestTickSkippedWhileLeaseHeld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	r := h.stake(t, "A", 10)
	h.advance(30 * time.Second)

	token, ok, err := h.locker.Acquire(ctx, "arena:crank:lease", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, round.AwaitNone, r.Awaiting)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CrankTicks.WithLabelValues("skipped")))

	require.NoError(t, h.locker.Release(ctx, "arena:crank:lease", token))
	h.tick(t)
	r, _ = h.machine.Get(ctx, r.ID)
	assert.Equal(t, round.PhaseFinished, r.Phase)
}

func TestFinishedRoundsArePruned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	r := h.stake(t, "A", 10)
	h.advance(30 * time.Second)
	h.tick(t)

	h.advance(2 * time.Hour)
	h.tick(t)
	_, err := h.machine.Get(ctx, r.ID)
	assert.ErrorIs(t, err, round.ErrRoundNotFound)
}
