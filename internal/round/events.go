package round

import (
	"context"
	"time"
)

type EventKind string

const (
	EventRoundInitialized     EventKind = "round_initialized"
	EventStakePlaced          EventKind = "stake_placed"
	EventSpectatorStakePlaced EventKind = "spectator_stake_placed"
	EventBettingLocked        EventKind = "betting_locked"
	EventPhaseAdvanced        EventKind = "phase_advanced"
	EventFinalistsSelected    EventKind = "finalists_selected"
	EventWinnerSelected       EventKind = "winner_selected"
	EventWinnerConfirmed      EventKind = "winner_confirmed"
	EventPayoutUpdated        EventKind = "payout_updated"
	EventRoundFinished        EventKind = "round_finished"
	EventRoundReset           EventKind = "round_reset"
	EventRoundHalted          EventKind = "round_halted"
	EventBetsUnlocked         EventKind = "bets_unlocked"
	EventHouseFeeCollected    EventKind = "house_fee_collected"
)

// Event é emitido depois que uma mutação foi gravada com sucesso
type Event struct {
	Kind    EventKind
	RoundID uint64
	Round   *Round // cópia do estado já gravado
	Bettor  string
	Target  string
	Amount  uint64
	At      time.Time
}

// Observer recebe os eventos de ciclo de vida (Kafka, Redis, WebSocket)
type Observer interface {
	RoundEvent(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) RoundEvent(ctx context.Context, ev Event) { f(ctx, ev) }
