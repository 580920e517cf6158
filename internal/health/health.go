// Package health mantém o SystemHealthRecord de cada componente externo e
// detecta rodadas presas.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/round"
)

var ErrNotFound = errors.New("health record not found")

type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// componentes acompanhados pelo crank
const (
	ComponentLedger     = "ledger"
	ComponentRandomness = "randomness"
	ComponentPayouts    = "payouts"
	ComponentTxQueue    = "txqueue"
	ComponentRound      = "round"
)

// DownAfter é quantas falhas seguidas levam um componente a down
const DownAfter = 3

type Record struct {
	Component         string
	Status            Status
	ConsecutiveErrors int
	LastError         string
	Detail            string
	LatencyMs         int64
	UpdatedAt         time.Time
}

type Store interface {
	PutHealth(ctx context.Context, rec Record) error
	GetHealth(ctx context.Context, component string) (Record, error)
	ListHealth(ctx context.Context) ([]Record, error)
}

// Tracker acumula sucessos e falhas por componente e grava o registro
type Tracker struct {
	store Store
	clock quartz.Clock
	log   *zap.Logger

	mu      sync.Mutex
	records map[string]Record
}

func NewTracker(store Store, clock quartz.Clock, log *zap.Logger) *Tracker {
	return &Tracker{store: store, clock: clock, log: log, records: map[string]Record{}}
}

func (t *Tracker) Success(ctx context.Context, component, detail string, latency time.Duration) {
	t.mu.Lock()
	rec := t.current(ctx, component)
	if rec.Status != StatusOK && rec.Status != "" {
		t.log.Info("component recovered", zap.String("component", component))
	}
	rec.Status = StatusOK
	rec.ConsecutiveErrors = 0
	rec.LastError = ""
	rec.Detail = detail
	rec.LatencyMs = latency.Milliseconds()
	rec.UpdatedAt = t.clock.Now()
	t.records[component] = rec
	t.mu.Unlock()

	t.put(ctx, rec)
}

func (t *Tracker) Failure(ctx context.Context, component string, err error) {
	t.mu.Lock()
	rec := t.current(ctx, component)
	rec.ConsecutiveErrors++
	rec.Status = StatusDegraded
	if rec.ConsecutiveErrors >= DownAfter {
		rec.Status = StatusDown
	}
	rec.LastError = err.Error()
	rec.UpdatedAt = t.clock.Now()
	t.records[component] = rec
	t.mu.Unlock()

	t.log.Warn("component unhealthy",
		zap.String("component", component), zap.String("status", string(rec.Status)),
		zap.Int("consecutive_errors", rec.ConsecutiveErrors), zap.Error(err))
	t.put(ctx, rec)
}

// Degraded grava um alerta sem contar como falha de I/O (ex: rodada presa)
func (t *Tracker) Degraded(ctx context.Context, component, detail string) {
	t.mu.Lock()
	rec := t.current(ctx, component)
	rec.Status = StatusDegraded
	rec.Detail = detail
	rec.UpdatedAt = t.clock.Now()
	t.records[component] = rec
	t.mu.Unlock()

	t.put(ctx, rec)
}

// Healthy é usado pelo /healthz: nenhum componente down
func (t *Tracker) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.records {
		if r.Status == StatusDown {
			return false
		}
	}
	return true
}

// current precisa de t.mu
func (t *Tracker) current(ctx context.Context, component string) Record {
	if rec, ok := t.records[component]; ok {
		return rec
	}
	rec, err := t.store.GetHealth(ctx, component)
	if err != nil {
		return Record{Component: component}
	}
	return rec
}

func (t *Tracker) put(ctx context.Context, rec Record) {
	if err := t.store.PutHealth(ctx, rec); err != nil {
		t.log.Error("persist health record", zap.String("component", rec.Component), zap.Error(err))
	}
}

// Expectations são os prazos usados para considerar uma rodada presa
type Expectations struct {
	Grace             time.Duration
	RandomnessTimeout time.Duration
	EmergencyTimeout  time.Duration
}

// CheckRound diz se a rodada está presa e por quê
func CheckRound(r *round.Round, now time.Time, exp Expectations) (bool, string) {
	if r == nil || r.Phase.Terminal() {
		return false, ""
	}
	if r.Halted {
		return true, "halted: " + r.HaltReason
	}
	if r.RandomnessExpired(now, exp.RandomnessTimeout) {
		return true, fmt.Sprintf("randomness pending since %s", r.RandomnessRequestedAt.Format(time.RFC3339))
	}
	if exp.EmergencyTimeout > 0 && now.Sub(r.CreatedAt) >= exp.EmergencyTimeout {
		return true, "emergency timeout elapsed"
	}
	if !r.PhaseDeadline.IsZero() && r.Awaiting == round.AwaitNone && now.Sub(r.PhaseDeadline) > exp.Grace {
		return true, fmt.Sprintf("phase %s overdue", r.Phase)
	}
	if r.Pending != nil && now.Sub(r.Pending.SubmittedAt) > exp.Grace {
		return true, fmt.Sprintf("%s unconfirmed after %d attempts", r.Pending.Kind, r.Pending.Attempts)
	}
	return false, ""
}
