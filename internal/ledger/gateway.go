// Package ledger define o gateway do ledger externo autoritativo e os
// eventos tipados que ele publica.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrSubmissionFailed é recuperável: o crank tenta de novo no próximo tick
var ErrSubmissionFailed = errors.New("ledger submission failed")

type TxHandle string

// RoundSnapshot é a visão do ledger externo sobre a rodada corrente
type RoundSnapshot struct {
	RoundID    uint64    `json:"round_id"` // 0 quando não há rodada aberta
	BetsLocked bool      `json:"bets_locked"`
	Events     []Event   `json:"events"`
	FetchedAt  time.Time `json:"fetched_at"`
}

type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

type Gateway interface {
	GetRoundSnapshot(ctx context.Context) (RoundSnapshot, error)
	SubmitCloseBetting(ctx context.Context, roundID uint64) (TxHandle, error)
	SubmitWinner(ctx context.Context, roundID uint64, winner string) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, h TxHandle) (bool, error)
	HealthCheck(ctx context.Context) (Health, error)
}
