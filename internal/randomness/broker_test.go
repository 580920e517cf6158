package randomness_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/store/memory"
)

func newBroker(t *testing.T, oracle randomness.Oracle) *randomness.Broker {
	t.Helper()
	return randomness.NewBroker(memory.New(), oracle, quartz.NewMock(t), zap.NewNop())
}

func TestRequestPollConsume(t *testing.T) {
	ctx := context.Background()
	oracle := randomness.NewMockOracle([]byte("secret"), false)
	b := newBroker(t, oracle)

	h, err := b.Request(ctx, 1, randomness.TagElimination)
	require.NoError(t, err)

	_, err = b.Request(ctx, 1, randomness.TagElimination)
	assert.ErrorIs(t, err, randomness.ErrDuplicateRequest)

	_, err = b.ConsumeSeed(ctx, h)
	assert.ErrorIs(t, err, randomness.ErrSeedNotFulfilled)

	ready, err := b.PollFulfillment(ctx, h)
	require.NoError(t, err)
	assert.False(t, ready)

	assert.Equal(t, 1, oracle.FulfillAll())
	ready, err = b.PollFulfillment(ctx, h)
	require.NoError(t, err)
	assert.True(t, ready)

	seed, err := b.ConsumeSeed(ctx, h)
	require.NoError(t, err)
	assert.Len(t, seed, 32)

	_, err = b.ConsumeSeed(ctx, h)
	assert.ErrorIs(t, err, randomness.ErrSeedAlreadyConsumed)

	req, err := b.Lookup(ctx, 1, randomness.TagElimination)
	require.NoError(t, err)
	assert.True(t, req.Consumed)
}

func TestSeedsIndependentPerTag(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, randomness.NewMockOracle([]byte("secret"), true))

	he, err := b.Request(ctx, 3, randomness.TagElimination)
	require.NoError(t, err)
	hw, err := b.Request(ctx, 3, randomness.TagWinner)
	require.NoError(t, err)

	for _, h := range []randomness.Handle{he, hw} {
		ready, err := b.PollFulfillment(ctx, h)
		require.NoError(t, err)
		require.True(t, ready)
	}
	se, err := b.ConsumeSeed(ctx, he)
	require.NoError(t, err)
	sw, err := b.ConsumeSeed(ctx, hw)
	require.NoError(t, err)
	assert.NotEqual(t, se, sw)
}

// fixedOracle devolve sempre a mesma seed
type fixedOracle struct{ seed []byte }

func (o fixedOracle) RequestRandomness(_ context.Context, _ uint64, tag randomness.Tag) (string, error) {
	return string(tag), nil
}

func (o fixedOracle) Fulfillment(context.Context, string) ([]byte, bool, error) {
	return o.seed, true, nil
}

func TestSeedReuseRejected(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, fixedOracle{seed: bytes.Repeat([]byte{0xab}, 32)})
	var anomalies []string
	b.OnAnomaly = func(kind string) { anomalies = append(anomalies, kind) }

	he, err := b.Request(ctx, 1, randomness.TagElimination)
	require.NoError(t, err)
	hw, err := b.Request(ctx, 1, randomness.TagWinner)
	require.NoError(t, err)

	_, err = b.PollFulfillment(ctx, he)
	require.NoError(t, err)
	_, err = b.PollFulfillment(ctx, hw)
	assert.ErrorIs(t, err, randomness.ErrSeedReuse)
	assert.Equal(t, []string{"seed_reuse"}, anomalies)
}

func TestShortSeedRejected(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, fixedOracle{seed: []byte("short")})
	h, err := b.Request(ctx, 1, randomness.TagWinner)
	require.NoError(t, err)
	_, err = b.PollFulfillment(ctx, h)
	assert.ErrorIs(t, err, randomness.ErrInvalidSeed)
}

func TestConcurrentConsumeOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, randomness.NewMockOracle([]byte("secret"), true))
	h, err := b.Request(ctx, 9, randomness.TagWinner)
	require.NoError(t, err)
	_, err = b.PollFulfillment(ctx, h)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.ConsumeSeed(ctx, h); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestHTTPOracle(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/oracle/requests":
			var body randomness.OracleRequestBody
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 4, body.RoundID)
			assert.Equal(t, randomness.TagWinner, body.Tag)
			_ = json.NewEncoder(w).Encode(randomness.OracleRequestResponse{Ref: "ref-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/oracle/requests/ref-1":
			_ = json.NewEncoder(w).Encode(randomness.OracleFulfillmentResponse{Ref: "ref-1", Ready: true, Seed: hex.EncodeToString(seed)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := randomness.NewHTTPOracle(srv.URL)
	ref, err := o.RequestRandomness(context.Background(), 4, randomness.TagWinner)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", ref)

	got, ready, err := o.Fulfillment(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, seed, got)
}
