package adminclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/game-service/adminclient"
	httpapi "github.com/radieske/arena-wager-platform/internal/game-service/http"
	"github.com/radieske/arena-wager-platform/internal/payout"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/store/memory"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

func setup(t *testing.T) (*quartz.Mock, *round.Machine, string) {
	t.Helper()
	store := memory.New()
	clock := quartz.NewMock(t)
	log := zap.NewNop()
	params := round.DefaultParams()
	params.MinStake = 1
	machine := round.NewMachine(store, clock, params, log)

	api := &httpapi.API{
		Machine:    machine,
		Payouts:    payout.NewDistributor(machine, wallet.BalanceTransferer{Balances: store}, log),
		Balances:   store,
		AdminToken: "ops",
		Log:        log,
	}
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return clock, machine, srv.URL
}

func TestAdminActions(t *testing.T) {
	clock, machine, url := setup(t)
	ctx := context.Background()
	_, err := machine.PlaceEntryStake(ctx, round.StakeRequest{ID: "s1", Bettor: "alice", Amount: 10})
	require.NoError(t, err)

	c := adminclient.New(url, "ops")

	v, err := c.Round(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.ID)

	v, err = c.Halt(ctx, 1, "investigating")
	require.NoError(t, err)
	assert.True(t, v.Halted)

	v, err = c.Unlock(ctx, 1)
	require.NoError(t, err)
	assert.False(t, v.Halted)

	_, err = c.ForceReset(ctx, 1, "stuck")
	var apiErr *adminclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	clock.Advance(round.DefaultParams().EmergencyTimeout)
	v, err = c.ForceReset(ctx, 1, "stuck")
	require.NoError(t, err)
	require.NotNil(t, v.Settlement)
	assert.True(t, v.Settlement.Refund)

	_, err = c.CollectHouseFee(ctx, 1)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestWrongTokenIsForbidden(t *testing.T) {
	_, _, url := setup(t)

	_, err := adminclient.New(url, "nope").Halt(context.Background(), 1, "")
	var apiErr *adminclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestStatusWithoutActiveRound(t *testing.T) {
	_, _, url := setup(t)

	_, err := adminclient.New(url, "").Round(context.Background(), 0)
	var apiErr *adminclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
