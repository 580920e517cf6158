package dto

import (
	"time"

	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

type StakeResponse struct {
	StakeID string           `json:"stake_id"`
	Round   events.RoundView `json:"round"`
}

type ClaimResult struct {
	PayoutID    string `json:"payout_id"`
	Bettor      string `json:"bettor"`
	Amount      uint64 `json:"amount"`
	TransferRef string `json:"transfer_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ClaimResponse struct {
	RoundID uint64        `json:"round_id"`
	Results []ClaimResult `json:"results"`
}

type WalletTx struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Amount      uint64    `json:"amount"`
	Status      string    `json:"status"`
	Compensated bool      `json:"compensated,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type WalletResponse struct {
	Bettor       string     `json:"bettor"`
	Balance      uint64     `json:"balance"`
	Transactions []WalletTx `json:"transactions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
