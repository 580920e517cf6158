// Package wallet cuida do saldo disponível dos apostadores e das
// transferências de valor com o serviço externo.
package wallet

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferRejected    = errors.New("transfer rejected")
)

// Balances é o saldo disponível por apostador. Credit e Debit são
// idempotentes por ref: repetir a mesma ref não move saldo de novo.
type Balances interface {
	Credit(ctx context.Context, bettor string, amount uint64, ref string) (uint64, error)
	Debit(ctx context.Context, bettor string, amount uint64, ref string) (uint64, error)
	Balance(ctx context.Context, bettor string) (uint64, error)
}

type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
	DirectionPayout     Direction = "payout"
)

// TransferRequest é uma transferência idempotente por Ref
type TransferRequest struct {
	Ref       string    `json:"ref"`
	Bettor    string    `json:"bettor"`
	Amount    uint64    `json:"amount"`
	Direction Direction `json:"direction"`
}

// Transferer executa a transferência de valor e devolve a referência externa
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// BalanceTransferer credita o saldo interno do apostador; usado para
// pagamentos quando não há serviço externo configurado.
type BalanceTransferer struct {
	Balances Balances
}

func (t BalanceTransferer) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.Direction != DirectionPayout {
		return "", fmt.Errorf("%w: balance transferer only pays out", ErrTransferRejected)
	}
	if _, err := t.Balances.Credit(ctx, req.Bettor, req.Amount, "payout:"+req.Ref); err != nil {
		return "", err
	}
	return "balance:" + req.Ref, nil
}
