package adminclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/game-service/adminclient"
	"github.com/radieske/arena-wager-platform/internal/game-service/ws"
	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

func TestWatcherDeliversRoundEvents(t *testing.T) {
	hub := ws.NewHub(func(*http.Request) bool { return true }, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	got := make(chan events.RoundEvent, 4)
	w := &adminclient.Watcher{
		URL:     srv.URL,
		RoundID: "5",
		Log:     zap.NewNop(),
		OnEvent: func(ev events.RoundEvent) { got <- ev },
		Backoff: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.Subscribers("5") == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(events.RoundEvent{EventID: "5-2-stake_placed", Kind: "stake_placed", RoundID: 5})

	select {
	case ev := <-got:
		assert.Equal(t, "5-2-stake_placed", ev.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
