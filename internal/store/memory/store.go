// Package memory implementa todos os stores em memória. Usado nos testes e
// com STORE=memory em ambiente local; os dados somem quando o processo sai.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/radieske/arena-wager-platform/internal/health"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

type Store struct {
	mu sync.Mutex

	rounds    map[uint64]*round.Round
	active    uint64
	counter   uint64
	processed map[string]string

	requests map[randomness.Handle]randomness.Request

	health map[string]health.Record

	txs map[string]txqueue.Transaction

	balances map[string]uint64
	moves    map[string]struct{}
}

var (
	_ round.Store      = (*Store)(nil)
	_ randomness.Store = (*Store)(nil)
	_ health.Store     = (*Store)(nil)
	_ txqueue.Store    = (*Store)(nil)
	_ wallet.Balances  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		rounds:    map[uint64]*round.Round{},
		processed: map[string]string{},
		requests:  map[randomness.Handle]randomness.Request{},
		health:    map[string]health.Record{},
		txs:       map[string]txqueue.Transaction{},
		balances:  map[string]uint64{},
		moves:     map[string]struct{}{},
	}
}

// ---- rounds ----

func (s *Store) NextRoundID(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter + 1, nil
}

func (s *Store) Create(_ context.Context, r *round.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != 0 {
		return round.ErrActiveRoundExists
	}
	if _, ok := s.rounds[r.ID]; ok || r.ID <= s.counter {
		return fmt.Errorf("%w: round %d already exists", round.ErrRoundMismatch, r.ID)
	}
	r.Version = 1
	s.rounds[r.ID] = r.Clone()
	s.active = r.ID
	s.counter = r.ID
	return nil
}

func (s *Store) Get(_ context.Context, id uint64) (*round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", round.ErrRoundNotFound, id)
	}
	return r.Clone(), nil
}

func (s *Store) Active(context.Context) (*round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		return nil, round.ErrNoActiveRound
	}
	return s.rounds[s.active].Clone(), nil
}

func (s *Store) Save(_ context.Context, r *round.Round, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rounds[r.ID]
	if !ok {
		return fmt.Errorf("%w: %d", round.ErrRoundNotFound, r.ID)
	}
	if cur.Version != r.Version {
		return round.ErrConcurrentUpdate
	}
	if cur.Winner != "" && cur.Winner != r.Winner {
		return fmt.Errorf("%w: %q already stored", round.ErrDuplicateWinner, cur.Winner)
	}
	if eventID != "" {
		if _, done := s.processed[eventID]; done {
			return round.ErrDuplicateEvent
		}
		s.processed[eventID] = "applied"
	}

	r.Version++
	s.rounds[r.ID] = r.Clone()
	if r.Phase.Terminal() && s.active == r.ID {
		s.active = 0
	}
	return nil
}

func (s *Store) EventApplied(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *Store) RecordEvent(_ context.Context, eventID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[eventID]; !ok {
		s.processed[eventID] = outcome
	}
	return nil
}

// EventOutcome devolve como um evento foi tratado (testes e admin)
func (s *Store) EventOutcome(eventID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.processed[eventID]
	return o, ok
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]*round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.rounds))
	for id := range s.rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*round.Round, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rounds[id].Clone())
	}
	return out, nil
}

func (s *Store) ListFinishedBefore(_ context.Context, before time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint64
	for id, r := range s.rounds {
		if r.Phase.Terminal() && r.FinishedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil
	}
	if !r.Phase.Terminal() {
		return fmt.Errorf("%w: delete round %d in phase %s", round.ErrInvalidTransition, id, r.Phase)
	}
	delete(s.rounds, id)
	for h, req := range s.requests {
		if req.RoundID == id {
			delete(s.requests, h)
		}
	}
	return nil
}

// ---- randomness ----

func (s *Store) CreateRequest(_ context.Context, req randomness.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.RoundID == req.RoundID && r.Tag == req.Tag {
			return randomness.ErrDuplicateRequest
		}
	}
	s.requests[req.ID] = req
	return nil
}

func (s *Store) GetRequest(_ context.Context, id randomness.Handle) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return randomness.Request{}, randomness.ErrRequestNotFound
	}
	r.Seed = bytes.Clone(r.Seed)
	return r, nil
}

func (s *Store) FindRequest(_ context.Context, roundID uint64, tag randomness.Tag) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.RoundID == roundID && r.Tag == tag {
			r.Seed = bytes.Clone(r.Seed)
			return r, nil
		}
	}
	return randomness.Request{}, randomness.ErrRequestNotFound
}

func (s *Store) MarkFulfilled(_ context.Context, id randomness.Handle, seed []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return randomness.ErrRequestNotFound
	}
	if r.Fulfilled {
		return nil
	}
	r.Fulfilled = true
	r.Seed = bytes.Clone(seed)
	r.FulfilledAt = at
	s.requests[id] = r
	return nil
}

func (s *Store) MarkConsumed(_ context.Context, id randomness.Handle, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return randomness.ErrRequestNotFound
	}
	if !r.Fulfilled {
		return randomness.ErrSeedNotFulfilled
	}
	if r.Consumed {
		return randomness.ErrSeedAlreadyConsumed
	}
	r.Consumed = true
	r.ConsumedAt = at
	s.requests[id] = r
	return nil
}

// ---- health ----

func (s *Store) PutHealth(_ context.Context, rec health.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[rec.Component] = rec
	return nil
}

func (s *Store) GetHealth(_ context.Context, component string) (health.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.health[component]
	if !ok {
		return health.Record{}, health.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListHealth(context.Context) ([]health.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]health.Record, 0, len(s.health))
	for _, r := range s.health {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out, nil
}

// ---- ledger transactions ----

func (s *Store) InsertTx(_ context.Context, tx txqueue.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("%w: duplicate tx %s", txqueue.ErrInvalidState, tx.ID)
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *Store) GetTx(_ context.Context, id string) (txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return txqueue.Transaction{}, txqueue.ErrNotFound
	}
	return tx, nil
}

func (s *Store) ClaimQueued(_ context.Context, limit int, now time.Time) ([]txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []txqueue.Transaction
	for _, tx := range s.txs {
		if tx.Status == txqueue.StatusQueued {
			queued = append(queued, tx)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		a, b := queued[i], queued[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}
	for i := range queued {
		queued[i].Status = txqueue.StatusProcessing
		queued[i].UpdatedAt = now
		s.txs[queued[i].ID] = queued[i]
	}
	return queued, nil
}

func (s *Store) UpdateTx(_ context.Context, tx txqueue.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; !ok {
		return txqueue.ErrNotFound
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *Store) RequeueStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, tx := range s.txs {
		if tx.Status == txqueue.StatusProcessing && tx.UpdatedAt.Before(olderThan) {
			tx.Status = txqueue.StatusQueued
			s.txs[id] = tx
			n++
		}
	}
	return n, nil
}

func (s *Store) ListUnarchivedFailed(_ context.Context, limit int) ([]txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []txqueue.Transaction
	for _, tx := range s.txs {
		if tx.Status == txqueue.StatusFailed && !tx.Archived {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTx(_ context.Context, bettor string, limit int) ([]txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []txqueue.Transaction
	for _, tx := range s.txs {
		if bettor == "" || tx.Bettor == bettor {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- balances ----

func (s *Store) Credit(_ context.Context, bettor string, amount uint64, ref string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.moves[ref]; done {
		return s.balances[bettor], nil
	}
	bal := s.balances[bettor]
	if amount > math.MaxUint64-bal {
		return bal, fmt.Errorf("credit %s: balance overflow", bettor)
	}
	s.balances[bettor] = bal + amount
	s.moves[ref] = struct{}{}
	return bal + amount, nil
}

func (s *Store) Debit(_ context.Context, bettor string, amount uint64, ref string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.moves[ref]; done {
		return s.balances[bettor], nil
	}
	bal := s.balances[bettor]
	if bal < amount {
		return bal, wallet.ErrInsufficientBalance
	}
	s.balances[bettor] = bal - amount
	s.moves[ref] = struct{}{}
	return bal - amount, nil
}

func (s *Store) Balance(_ context.Context, bettor string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[bettor], nil
}
