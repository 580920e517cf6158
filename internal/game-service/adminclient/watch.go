package adminclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

// Watcher acompanha o WebSocket do game-service e entrega cada evento de
// rodada a OnEvent. Reconecta sozinho até o ctx acabar.
type Watcher struct {
	URL     string // base http(s) do game-service
	RoundID string // "*" para todas as rodadas
	Log     *zap.Logger
	OnEvent func(events.RoundEvent)

	Backoff time.Duration
}

func (w *Watcher) Start(ctx context.Context) {
	backoff := w.Backoff
	if backoff <= 0 {
		backoff = 3 * time.Second
	}
	for {
		if err := w.connectAndListen(ctx); err != nil && ctx.Err() == nil {
			w.Log.Warn("ws connection closed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}

func (w *Watcher) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(w.URL), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "round_id": w.RoundID}); err != nil {
		return err
	}
	w.Log.Info("watching rounds", zap.String("url", w.URL), zap.String("round_id", w.RoundID))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		// acks de subscribe/ping vêm com "type"
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &probe); err == nil && probe.Type != "" {
			continue
		}
		var ev events.RoundEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			w.Log.Warn("invalid ws message", zap.Error(err))
			continue
		}
		w.OnEvent(ev)
	}
}
