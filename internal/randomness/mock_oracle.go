package randomness

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrUnknownRef = errors.New("unknown oracle reference")

type mockRequest struct {
	roundID   uint64
	tag       Tag
	fulfilled bool
}

// MockOracle deriva seeds com HMAC-SHA256(secret, rodada || tag).
// Usado pelo ledger-simulator e nos testes; não é fonte de aleatoriedade real.
type MockOracle struct {
	secret      []byte
	autoFulfill bool

	mu       sync.Mutex
	requests map[string]*mockRequest
}

func NewMockOracle(secret []byte, autoFulfill bool) *MockOracle {
	return &MockOracle{
		secret:      secret,
		autoFulfill: autoFulfill,
		requests:    make(map[string]*mockRequest),
	}
}

func (o *MockOracle) RequestRandomness(_ context.Context, roundID uint64, tag Tag) (string, error) {
	ref := uuid.NewString()
	o.mu.Lock()
	o.requests[ref] = &mockRequest{roundID: roundID, tag: tag, fulfilled: o.autoFulfill}
	o.mu.Unlock()
	return ref, nil
}

func (o *MockOracle) Fulfillment(_ context.Context, ref string) ([]byte, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.requests[ref]
	if !ok {
		return nil, false, ErrUnknownRef
	}
	if !r.fulfilled {
		return nil, false, nil
	}
	return o.seedFor(r.roundID, r.tag), true, nil
}

// Fulfill libera a seed de um pedido pendente
func (o *MockOracle) Fulfill(ref string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.requests[ref]
	if !ok {
		return ErrUnknownRef
	}
	r.fulfilled = true
	return nil
}

// FulfillAll libera todos os pedidos pendentes e devolve quantos foram liberados
func (o *MockOracle) FulfillAll() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.requests {
		if !r.fulfilled {
			r.fulfilled = true
			n++
		}
	}
	return n
}

// Pending lista as referências ainda não atendidas
func (o *MockOracle) Pending() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for ref, r := range o.requests {
		if !r.fulfilled {
			out = append(out, ref)
		}
	}
	return out
}

func (o *MockOracle) seedFor(roundID uint64, tag Tag) []byte {
	mac := hmac.New(sha256.New, o.secret)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], roundID)
	mac.Write(id[:])
	mac.Write([]byte(tag))
	return mac.Sum(nil)
}
