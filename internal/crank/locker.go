package crank

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker é o lease de tick: só um crank por vez avança as rodadas.
// Extend renova o lease e devolve false se ele já não pertence a token.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// só apaga a chave se ela ainda for nossa
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLocker struct {
	r *redis.Client
}

func NewRedisLocker(r *redis.Client) *RedisLocker {
	return &RedisLocker{r: r}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.r.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.r, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.r, []string{key}, token).Err()
}

// MemoryLocker serve para um processo só (testes, STORE=memory)
type MemoryLocker struct {
	clock quartz.Clock

	mu    sync.Mutex
	held  map[string]string
	until map[string]time.Time
}

func NewMemoryLocker(clock quartz.Clock) *MemoryLocker {
	return &MemoryLocker{clock: clock, held: map[string]string{}, until: map[string]time.Time{}}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if _, ok := l.held[key]; ok && now.Before(l.until[key]) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	l.until[key] = now.Add(ttl)
	return token, true, nil
}

func (l *MemoryLocker) Extend(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if l.held[key] != token || !now.Before(l.until[key]) {
		return false, nil
	}
	l.until[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		delete(l.until, key)
	}
	return nil
}
