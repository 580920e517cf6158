// Package randomness pede seeds por rodada a um oracle externo e garante
// que cada seed seja consumida uma única vez.
package randomness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDuplicateRequest    = errors.New("randomness already requested for round and tag")
	ErrRequestNotFound     = errors.New("randomness request not found")
	ErrSeedNotFulfilled    = errors.New("seed not fulfilled")
	ErrSeedAlreadyConsumed = errors.New("seed already consumed")
	ErrSeedReuse           = errors.New("seed identical to another request of the round")
	ErrInvalidSeed         = errors.New("seed shorter than 32 bytes")
)

// MinSeedLen é o tamanho mínimo aceito para uma seed do oracle
const MinSeedLen = 32

type Tag string

const (
	TagElimination Tag = "elimination"
	TagWinner      Tag = "winner"
)

type Handle string

// Request é o registro persistido de um pedido de aleatoriedade
type Request struct {
	ID          Handle
	RoundID     uint64
	Tag         Tag
	OracleRef   string
	Seed        []byte
	Fulfilled   bool
	Consumed    bool
	RequestedAt time.Time
	FulfilledAt time.Time
	ConsumedAt  time.Time
}

// Expired indica pedido ainda sem seed depois do timeout
func (r Request) Expired(now time.Time, timeout time.Duration) bool {
	return !r.Fulfilled && timeout > 0 && now.Sub(r.RequestedAt) >= timeout
}

// Store persiste os pedidos. MarkConsumed precisa ser condicional
// (fulfilled e não consumido) para que dois consumidores não vençam juntos.
type Store interface {
	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id Handle) (Request, error)
	FindRequest(ctx context.Context, roundID uint64, tag Tag) (Request, error)
	MarkFulfilled(ctx context.Context, id Handle, seed []byte, at time.Time) error
	MarkConsumed(ctx context.Context, id Handle, at time.Time) error
}

// Oracle é o serviço externo de aleatoriedade verificável
type Oracle interface {
	RequestRandomness(ctx context.Context, roundID uint64, tag Tag) (ref string, err error)
	Fulfillment(ctx context.Context, ref string) (seed []byte, ready bool, err error)
}

type Broker struct {
	store  Store
	oracle Oracle
	clock  quartz.Clock
	log    *zap.Logger

	OnAnomaly func(kind string) // métricas
}

func NewBroker(store Store, oracle Oracle, clock quartz.Clock, log *zap.Logger) *Broker {
	return &Broker{store: store, oracle: oracle, clock: clock, log: log}
}

// Request pede uma seed para (rodada, tag); um segundo pedido falha
func (b *Broker) Request(ctx context.Context, roundID uint64, tag Tag) (Handle, error) {
	if _, err := b.store.FindRequest(ctx, roundID, tag); err == nil {
		return "", ErrDuplicateRequest
	} else if !errors.Is(err, ErrRequestNotFound) {
		return "", err
	}

	ref, err := b.oracle.RequestRandomness(ctx, roundID, tag)
	if err != nil {
		return "", fmt.Errorf("oracle request: %w", err)
	}

	req := Request{
		ID:          Handle(uuid.NewString()),
		RoundID:     roundID,
		Tag:         tag,
		OracleRef:   ref,
		RequestedAt: b.clock.Now(),
	}
	if err := b.store.CreateRequest(ctx, req); err != nil {
		return "", err
	}

	b.log.Info("randomness requested",
		zap.Uint64("round_id", roundID), zap.String("tag", string(tag)),
		zap.String("request_id", string(req.ID)), zap.String("oracle_ref", ref))
	return req.ID, nil
}

// Lookup devolve o pedido existente de (rodada, tag)
func (b *Broker) Lookup(ctx context.Context, roundID uint64, tag Tag) (Request, error) {
	return b.store.FindRequest(ctx, roundID, tag)
}

func (b *Broker) Get(ctx context.Context, h Handle) (Request, error) {
	return b.store.GetRequest(ctx, h)
}

// PollFulfillment consulta o oracle e grava a seed quando pronta
func (b *Broker) PollFulfillment(ctx context.Context, h Handle) (bool, error) {
	req, err := b.store.GetRequest(ctx, h)
	if err != nil {
		return false, err
	}
	if req.Fulfilled {
		return true, nil
	}

	seed, ready, err := b.oracle.Fulfillment(ctx, req.OracleRef)
	if err != nil {
		return false, fmt.Errorf("oracle fulfillment: %w", err)
	}
	if !ready {
		return false, nil
	}
	if len(seed) < MinSeedLen {
		return false, ErrInvalidSeed
	}

	// as seeds de eliminação e de vencedor precisam ser independentes
	if other, err := b.store.FindRequest(ctx, req.RoundID, otherTag(req.Tag)); err == nil {
		if other.Fulfilled && bytes.Equal(other.Seed, seed) {
			b.anomaly("seed_reuse", req)
			return false, ErrSeedReuse
		}
	} else if !errors.Is(err, ErrRequestNotFound) {
		return false, err
	}

	if err := b.store.MarkFulfilled(ctx, h, seed, b.clock.Now()); err != nil {
		return false, err
	}
	b.log.Info("randomness fulfilled",
		zap.Uint64("round_id", req.RoundID), zap.String("tag", string(req.Tag)))
	return true, nil
}

// ConsumeSeed devolve a seed uma única vez
func (b *Broker) ConsumeSeed(ctx context.Context, h Handle) ([]byte, error) {
	req, err := b.store.GetRequest(ctx, h)
	if err != nil {
		return nil, err
	}
	if !req.Fulfilled {
		return nil, ErrSeedNotFulfilled
	}
	if req.Consumed {
		return nil, ErrSeedAlreadyConsumed
	}
	if err := b.store.MarkConsumed(ctx, h, b.clock.Now()); err != nil {
		if errors.Is(err, ErrSeedAlreadyConsumed) {
			b.anomaly("double_consume", req)
		}
		return nil, err
	}
	return req.Seed, nil
}

func (b *Broker) anomaly(kind string, req Request) {
	b.log.Error("randomness anomaly",
		zap.String("anomaly", kind),
		zap.Uint64("round_id", req.RoundID),
		zap.String("tag", string(req.Tag)),
		zap.String("request_id", string(req.ID)))
	if b.OnAnomaly != nil {
		b.OnAnomaly(kind)
	}
}

func otherTag(t Tag) Tag {
	if t == TagElimination {
		return TagWinner
	}
	return TagElimination
}
