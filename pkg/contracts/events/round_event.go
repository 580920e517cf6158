package events

import "time"

// Evento publicado no tópico "arena_round_events" e no canal de broadcast
// a cada transição gravada de uma rodada.
type RoundEvent struct {
	EventID string    `json:"event_id"`
	Kind    string    `json:"kind"` // round_initialized, stake_placed, winner_selected, ...
	RoundID uint64    `json:"round_id"`
	Bettor  string    `json:"bettor,omitempty"`
	Target  string    `json:"target,omitempty"`
	Amount  uint64    `json:"amount,omitempty"`
	At      time.Time `json:"at"`
	Round   RoundView `json:"round"`
}

// RoundView é a projeção somente leitura entregue à camada de apresentação
type RoundView struct {
	ID              uint64            `json:"id"`
	Version         int64             `json:"version"`
	Phase           string            `json:"phase"`
	Awaiting        string            `json:"awaiting"`
	BetsLocked      bool              `json:"bets_locked"`
	Halted          bool              `json:"halted"`
	HaltReason      string            `json:"halt_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	PhaseDeadline   *time.Time        `json:"phase_deadline,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	EntryPool       uint64            `json:"entry_pool"`
	SpectatorPool   uint64            `json:"spectator_pool"`
	FeeBps          uint16            `json:"fee_bps"`
	Winner          string            `json:"winner,omitempty"`
	WinnerConfirmed bool              `json:"winner_confirmed"`
	Finalists       []string          `json:"finalists,omitempty"`
	Participants    []ParticipantView `json:"participants"`
	Spectators      []SpectatorView   `json:"spectators,omitempty"`
	Settlement      *SettlementView   `json:"settlement,omitempty"`
}

type ParticipantView struct {
	Bettor            string `json:"bettor"`
	Stake             uint64 `json:"stake"`
	IsBot             bool   `json:"is_bot,omitempty"`
	WinProbabilityBps uint64 `json:"win_probability_bps"`
	Eliminated        bool   `json:"eliminated,omitempty"`
	FinalRank         int    `json:"final_rank,omitempty"`
	IsWinner          bool   `json:"is_winner,omitempty"`
	Status            string `json:"status"`
	Payout            uint64 `json:"payout,omitempty"`
}

type SpectatorView struct {
	ID     string `json:"id"`
	Bettor string `json:"bettor"`
	Target string `json:"target"`
	Stake  uint64 `json:"stake"`
	Status string `json:"status"`
	Payout uint64 `json:"payout,omitempty"`
}

type SettlementView struct {
	Refund            bool         `json:"refund"`
	HouseFee          uint64       `json:"house_fee"`
	Swept             uint64       `json:"swept,omitempty"`
	HouseFeeCollected bool         `json:"house_fee_collected"`
	Payouts           []PayoutView `json:"payouts"`
}

type PayoutView struct {
	ID     string `json:"id"`
	Bettor string `json:"bettor"`
	Pool   string `json:"pool"`
	Amount uint64 `json:"amount"`
	Status string `json:"status"`
}
