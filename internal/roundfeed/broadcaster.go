package roundfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/round"
)

// RedisBroadcaster publica o evento com a projeção da rodada no canal que o
// WebSocket do game-service assina.
type RedisBroadcaster struct {
	r       *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisBroadcaster(r *redis.Client, channel string, log *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, channel: channel, log: log}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, payload []byte) error {
	return b.r.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroadcaster) RoundEvent(ctx context.Context, ev round.Event) {
	payload, err := json.Marshal(Message(ev))
	if err != nil {
		b.log.Error("marshal round broadcast", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := b.Publish(ctx, payload); err != nil {
		b.log.Warn("redis publish failed", zap.Uint64("round_id", ev.RoundID), zap.Error(err))
	}
}
