// Package projection guarda no Redis a visão pública das rodadas, escrita
// pelos observers da máquina de estados e lida pelo game-service.
package projection

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/roundfeed"
	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

const (
	keyCurrent = "arena:round:current"
	roundTTL   = 24 * time.Hour
)

func keyRound(id uint64) string { return "arena:round:" + strconv.FormatUint(id, 10) }

type Cache struct {
	R   *redis.Client
	log *zap.Logger
}

func New(r *redis.Client, log *zap.Logger) *Cache { return &Cache{R: r, log: log} }

func (c *Cache) GetRound(ctx context.Context, id uint64) (events.RoundView, bool, error) {
	return c.get(ctx, keyRound(id))
}

// GetCurrent devolve a rodada ativa; ausente quando nenhuma está aberta
func (c *Cache) GetCurrent(ctx context.Context) (events.RoundView, bool, error) {
	return c.get(ctx, keyCurrent)
}

func (c *Cache) get(ctx context.Context, key string) (events.RoundView, bool, error) {
	var v events.RoundView
	b, err := c.R.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, json.Unmarshal(b, &v)
}

// Put grava a visão se ela for mais nova que a que já está no cache
func (c *Cache) Put(ctx context.Context, v events.RoundView) error {
	if cur, ok, err := c.GetRound(ctx, v.ID); err == nil && ok && cur.Version > v.Version {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := c.R.TxPipeline()
	pipe.Set(ctx, keyRound(v.ID), b, roundTTL)
	if v.Phase == string(round.PhaseFinished) {
		pipe.Del(ctx, keyCurrent)
	} else {
		pipe.Set(ctx, keyCurrent, b, roundTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RoundEvent mantém o cache em dia a cada transição gravada
func (c *Cache) RoundEvent(ctx context.Context, ev round.Event) {
	if ev.Round == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := c.Put(ctx, roundfeed.View(ev.Round)); err != nil {
		c.log.Warn("projection cache update failed", zap.Uint64("round_id", ev.RoundID), zap.Error(err))
	}
}
