// Package simulator imita os colaboradores externos da arena em ambiente
// local: o ledger autoritativo, o oracle de aleatoriedade e a carteira.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/ledger"
)

var (
	ErrBetsLocked    = errors.New("ledger: bets locked")
	ErrRoundMismatch = errors.New("ledger: round mismatch")
	ErrNoOpenRound   = errors.New("ledger: no open round")
	ErrUnknownTx     = errors.New("ledger: unknown tx")
	ErrUnavailable   = errors.New("ledger: unavailable")
)

type simTx struct {
	handle  ledger.TxHandle
	roundID uint64
	winner  string
	close   bool
	fail    bool
	applied bool
	at      time.Time
}

// Ledger guarda uma rodada aberta por vez, como o ledger real
type Ledger struct {
	clock quartz.Clock
	log   *zap.Logger

	// tempo até uma submissão ficar confirmada
	ConfirmDelay time.Duration
	// Publish recebe cada evento novo (Kafka); opcional
	Publish func(ctx context.Context, ev ledger.Event)

	mu         sync.Mutex
	roundID    uint64
	lastRound  uint64
	betsLocked bool
	events     []ledger.Event
	txs        map[ledger.TxHandle]*simTx
	seq        uint64
	failNext   int
	down       bool
}

func NewLedger(clock quartz.Clock, log *zap.Logger) *Ledger {
	return &Ledger{clock: clock, log: log, txs: make(map[ledger.TxHandle]*simTx)}
}

// PlaceStake registra uma aposta de entrada, abrindo a próxima rodada se preciso
func (l *Ledger) PlaceStake(ctx context.Context, bettor string, amount uint64, bot bool) (ledger.Event, error) {
	l.mu.Lock()
	if l.down {
		l.mu.Unlock()
		return ledger.Event{}, ErrUnavailable
	}
	if l.roundID == 0 {
		l.roundID = l.lastRound + 1
		l.events = nil
	}
	if l.betsLocked {
		l.mu.Unlock()
		return ledger.Event{}, ErrBetsLocked
	}
	ev := ledger.NewStakePlaced(l.nextID(), l.roundID, bettor, amount, bot, l.clock.Now())
	l.events = append(l.events, ev)
	l.mu.Unlock()

	l.publish(ctx, ev)
	return ev, nil
}

// PlaceSpectatorStake só é aceita com a entrada fechada
func (l *Ledger) PlaceSpectatorStake(ctx context.Context, roundID uint64, bettor, target string, amount uint64) (ledger.Event, error) {
	l.mu.Lock()
	if l.down {
		l.mu.Unlock()
		return ledger.Event{}, ErrUnavailable
	}
	if l.roundID == 0 {
		l.mu.Unlock()
		return ledger.Event{}, ErrNoOpenRound
	}
	if roundID != l.roundID {
		l.mu.Unlock()
		return ledger.Event{}, fmt.Errorf("%w: open %d, got %d", ErrRoundMismatch, l.roundID, roundID)
	}
	ev := ledger.NewSpectatorStakePlaced(l.nextID(), l.roundID, bettor, target, amount, l.clock.Now())
	l.events = append(l.events, ev)
	l.mu.Unlock()

	l.publish(ctx, ev)
	return ev, nil
}

func (l *Ledger) SubmitCloseBetting(roundID uint64) (ledger.TxHandle, error) {
	return l.submit(roundID, "", true)
}

func (l *Ledger) SubmitWinner(roundID uint64, winner string) (ledger.TxHandle, error) {
	return l.submit(roundID, winner, false)
}

func (l *Ledger) submit(roundID uint64, winner string, closing bool) (ledger.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return "", ErrUnavailable
	}
	// rodada aberta fora do ledger (apostas pelo game-service)
	if l.roundID == 0 && roundID > l.lastRound {
		l.roundID = roundID
		l.events = nil
	}
	if roundID != l.roundID {
		return "", fmt.Errorf("%w: open %d, got %d", ErrRoundMismatch, l.roundID, roundID)
	}
	l.seq++
	kind := "winner"
	if closing {
		kind = "close"
		l.betsLocked = true
	}
	tx := &simTx{
		handle:  ledger.TxHandle(fmt.Sprintf("sim-%s-%d-%d", kind, roundID, l.seq)),
		roundID: roundID,
		winner:  winner,
		close:   closing,
		at:      l.clock.Now(),
	}
	if l.failNext > 0 {
		l.failNext--
		tx.fail = true
	}
	l.txs[tx.handle] = tx
	return tx.handle, nil
}

// TxStatus confirma a transação depois de ConfirmDelay e aplica seu efeito
func (l *Ledger) TxStatus(ctx context.Context, h ledger.TxHandle) (ledger.TxStatus, error) {
	l.mu.Lock()
	tx, ok := l.txs[h]
	if !ok {
		l.mu.Unlock()
		return "", ErrUnknownTx
	}
	if tx.fail {
		l.mu.Unlock()
		return ledger.TxFailed, nil
	}
	if tx.applied {
		l.mu.Unlock()
		return ledger.TxConfirmed, nil
	}
	if l.clock.Since(tx.at) < l.ConfirmDelay {
		l.mu.Unlock()
		return ledger.TxPending, nil
	}
	tx.applied = true

	var ev *ledger.Event
	if tx.roundID == l.roundID {
		now := l.clock.Now()
		if tx.close {
			e := ledger.NewBettingClosed(l.nextID(), tx.roundID, string(tx.handle), now)
			l.events = append(l.events, e)
			ev = &e
		} else {
			e := ledger.NewWinnerConfirmed(l.nextID(), tx.roundID, tx.winner, string(tx.handle), now)
			ev = &e
			// rodada encerrada: a próxima aposta abre outra
			l.lastRound = l.roundID
			l.roundID = 0
			l.betsLocked = false
			l.events = nil
		}
	}
	l.mu.Unlock()

	if ev != nil {
		l.publish(ctx, *ev)
	}
	return ledger.TxConfirmed, nil
}

func (l *Ledger) Snapshot() (ledger.RoundSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return ledger.RoundSnapshot{}, ErrUnavailable
	}
	return ledger.RoundSnapshot{
		RoundID:    l.roundID,
		BetsLocked: l.betsLocked,
		Events:     append([]ledger.Event(nil), l.events...),
		FetchedAt:  l.clock.Now(),
	}, nil
}

func (l *Ledger) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.down
}

// FailNext faz as próximas n submissões terminarem como failed
func (l *Ledger) FailNext(n int) {
	l.mu.Lock()
	l.failNext = n
	l.mu.Unlock()
}

// SetDown simula o ledger fora do ar
func (l *Ledger) SetDown(down bool) {
	l.mu.Lock()
	l.down = down
	l.mu.Unlock()
}

func (l *Ledger) nextID() string {
	l.seq++
	return "sim-ev-" + strconv.FormatUint(l.seq, 10)
}

func (l *Ledger) publish(ctx context.Context, ev ledger.Event) {
	l.log.Debug("ledger event", zap.String("event_id", ev.ID), zap.String("kind", string(ev.Kind)),
		zap.Uint64("round_id", ev.RoundID))
	if l.Publish != nil {
		l.Publish(ctx, ev)
	}
}
