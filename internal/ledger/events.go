package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEventKind = errors.New("unknown ledger event kind")
	ErrMalformedEvent   = errors.New("malformed ledger event")
)

type Kind string

const (
	KindStakePlaced          Kind = "stake_placed"
	KindSpectatorStakePlaced Kind = "spectator_stake_placed"
	KindBettingClosed        Kind = "betting_closed"
	KindWinnerConfirmed      Kind = "winner_confirmed"
)

type StakePlaced struct {
	Bettor string `json:"bettor"`
	Amount uint64 `json:"amount"`
	Bot    bool   `json:"bot,omitempty"`
}

type SpectatorStakePlaced struct {
	Bettor string `json:"bettor"`
	Target string `json:"target"`
	Amount uint64 `json:"amount"`
}

type BettingClosed struct {
	TxHandle string `json:"tx_handle,omitempty"`
}

type WinnerConfirmed struct {
	Winner   string `json:"winner"`
	TxHandle string `json:"tx_handle,omitempty"`
}

// Event é a variante tipada de um evento do ledger externo.
// Só o campo correspondente a Kind vem preenchido.
type Event struct {
	ID      string
	Kind    Kind
	RoundID uint64
	At      time.Time

	StakePlaced          *StakePlaced
	SpectatorStakePlaced *SpectatorStakePlaced
	BettingClosed        *BettingClosed
	WinnerConfirmed      *WinnerConfirmed
}

// envelope é o formato de fio: payload cru decodificado por Kind
type envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	RoundID uint64          `json:"round_id"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Decode converte bytes do fio em Event, rejeitando tipos desconhecidos
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev := Event{ID: env.ID, Kind: env.Kind, RoundID: env.RoundID, At: env.At}

	var target any
	switch env.Kind {
	case KindStakePlaced:
		ev.StakePlaced = &StakePlaced{}
		target = ev.StakePlaced
	case KindSpectatorStakePlaced:
		ev.SpectatorStakePlaced = &SpectatorStakePlaced{}
		target = ev.SpectatorStakePlaced
	case KindBettingClosed:
		ev.BettingClosed = &BettingClosed{}
		target = ev.BettingClosed
	case KindWinnerConfirmed:
		ev.WinnerConfirmed = &WinnerConfirmed{}
		target = ev.WinnerConfirmed
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventKind, env.Kind)
	}
	if len(env.Payload) == 0 {
		return Event{}, fmt.Errorf("%w: %s without payload", ErrMalformedEvent, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return Event{}, fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, env.Kind, err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate confere os campos obrigatórios de cada variante
func (e Event) Validate() error {
	if e.ID == "" || e.RoundID == 0 {
		return fmt.Errorf("%w: id and round_id are required", ErrMalformedEvent)
	}
	switch e.Kind {
	case KindStakePlaced:
		if e.StakePlaced == nil || e.StakePlaced.Bettor == "" || e.StakePlaced.Amount == 0 {
			return fmt.Errorf("%w: stake_placed needs bettor and amount", ErrMalformedEvent)
		}
	case KindSpectatorStakePlaced:
		s := e.SpectatorStakePlaced
		if s == nil || s.Bettor == "" || s.Target == "" || s.Amount == 0 {
			return fmt.Errorf("%w: spectator_stake_placed needs bettor, target and amount", ErrMalformedEvent)
		}
	case KindBettingClosed:
		if e.BettingClosed == nil {
			return fmt.Errorf("%w: betting_closed without payload", ErrMalformedEvent)
		}
	case KindWinnerConfirmed:
		if e.WinnerConfirmed == nil {
			return fmt.Errorf("%w: winner_confirmed without payload", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Kind {
	case KindStakePlaced:
		payload = e.StakePlaced
	case KindSpectatorStakePlaced:
		payload = e.SpectatorStakePlaced
	case KindBettingClosed:
		payload = e.BettingClosed
	case KindWinnerConfirmed:
		payload = e.WinnerConfirmed
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ID: e.ID, Kind: e.Kind, RoundID: e.RoundID, At: e.At, Payload: raw})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	ev, err := Decode(b)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

func NewStakePlaced(id string, roundID uint64, bettor string, amount uint64, bot bool, at time.Time) Event {
	return Event{ID: id, Kind: KindStakePlaced, RoundID: roundID, At: at,
		StakePlaced: &StakePlaced{Bettor: bettor, Amount: amount, Bot: bot}}
}

func NewSpectatorStakePlaced(id string, roundID uint64, bettor, target string, amount uint64, at time.Time) Event {
	return Event{ID: id, Kind: KindSpectatorStakePlaced, RoundID: roundID, At: at,
		SpectatorStakePlaced: &SpectatorStakePlaced{Bettor: bettor, Target: target, Amount: amount}}
}

func NewBettingClosed(id string, roundID uint64, handle string, at time.Time) Event {
	return Event{ID: id, Kind: KindBettingClosed, RoundID: roundID, At: at,
		BettingClosed: &BettingClosed{TxHandle: handle}}
}

func NewWinnerConfirmed(id string, roundID uint64, winner, handle string, at time.Time) Event {
	return Event{ID: id, Kind: KindWinnerConfirmed, RoundID: roundID, At: at,
		WinnerConfirmed: &WinnerConfirmed{Winner: winner, TxHandle: handle}}
}
