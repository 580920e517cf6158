package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/round"
)

type mapStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

func (s *mapStore) PutHealth(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Component] = rec
	return nil
}

func (s *mapStore) GetHealth(_ context.Context, c string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[c]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *mapStore) ListHealth(context.Context) ([]Record, error) { return nil, nil }

func TestTrackerGoesDownAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	st := &mapStore{recs: map[string]Record{}}
	tr := NewTracker(st, quartz.NewMock(t), zap.NewNop())

	boom := errors.New("connection refused")
	tr.Failure(ctx, ComponentLedger, boom)
	tr.Failure(ctx, ComponentLedger, boom)

	rec, err := st.GetHealth(ctx, ComponentLedger)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, rec.Status)
	assert.True(t, tr.Healthy())

	tr.Failure(ctx, ComponentLedger, boom)
	rec, _ = st.GetHealth(ctx, ComponentLedger)
	assert.Equal(t, StatusDown, rec.Status)
	assert.Equal(t, 3, rec.ConsecutiveErrors)
	assert.Equal(t, "connection refused", rec.LastError)
	assert.False(t, tr.Healthy())

	tr.Success(ctx, ComponentLedger, "", 15*time.Millisecond)
	rec, _ = st.GetHealth(ctx, ComponentLedger)
	assert.Equal(t, StatusOK, rec.Status)
	assert.Zero(t, rec.ConsecutiveErrors)
	assert.EqualValues(t, 15, rec.LatencyMs)
	assert.True(t, tr.Healthy())
}

func TestTrackerResumesFromStore(t *testing.T) {
	ctx := context.Background()
	st := &mapStore{recs: map[string]Record{
		ComponentPayouts: {Component: ComponentPayouts, Status: StatusDegraded, ConsecutiveErrors: 2},
	}}
	tr := NewTracker(st, quartz.NewMock(t), zap.NewNop())

	tr.Failure(ctx, ComponentPayouts, errors.New("timeout"))
	rec, _ := st.GetHealth(ctx, ComponentPayouts)
	assert.Equal(t, StatusDown, rec.Status)
}

func TestCheckRound(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := Expectations{Grace: 2 * time.Minute, RandomnessTimeout: 10 * time.Minute, EmergencyTimeout: 24 * time.Hour}

	cases := []struct {
		name  string
		r     *round.Round
		stuck bool
	}{
		{"finished", &round.Round{Phase: round.PhaseFinished, CreatedAt: now.Add(-48 * time.Hour)}, false},
		{"fresh waiting", &round.Round{Phase: round.PhaseWaiting, Awaiting: round.AwaitNone, CreatedAt: now, PhaseDeadline: now.Add(time.Minute)}, false},
		{"halted", &round.Round{Phase: round.PhaseArena, Halted: true, HaltReason: "seed reuse", CreatedAt: now}, true},
		{"randomness expired", &round.Round{
			Phase: round.PhaseResolving, Awaiting: round.AwaitWinnerSeed,
			CreatedAt: now.Add(-time.Hour), RandomnessRequestedAt: now.Add(-11 * time.Minute),
		}, true},
		{"randomness within timeout", &round.Round{
			Phase: round.PhaseResolving, Awaiting: round.AwaitWinnerSeed,
			CreatedAt: now.Add(-time.Hour), RandomnessRequestedAt: now.Add(-time.Minute),
		}, false},
		{"emergency timeout", &round.Round{Phase: round.PhaseWaiting, CreatedAt: now.Add(-25 * time.Hour), PhaseDeadline: now.Add(time.Minute)}, true},
		{"phase overdue", &round.Round{Phase: round.PhaseWaiting, Awaiting: round.AwaitNone, CreatedAt: now.Add(-time.Hour), PhaseDeadline: now.Add(-5 * time.Minute)}, true},
		{"close unconfirmed", &round.Round{
			Phase: round.PhaseWaiting, Awaiting: round.AwaitCloseConfirmation, CreatedAt: now.Add(-time.Hour),
			PhaseDeadline: now.Add(-10 * time.Minute),
			Pending:       &round.PendingTx{Kind: round.TxCloseBetting, Handle: "h", SubmittedAt: now.Add(-3 * time.Minute), Attempts: 2},
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stuck, reason := CheckRound(tc.r, now, exp)
			assert.Equal(t, tc.stuck, stuck, reason)
			if tc.stuck {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
