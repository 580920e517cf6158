// Package payout transfere os prêmios calculados na liquidação. Uma
// transferência que falha não derruba as demais: o payout fica em
// claim_pending e pode ser pago depois por claim manual.
package payout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

var (
	ErrAutoPayoutFailed = errors.New("automatic payout failed, claim pending")
	ErrNothingToClaim   = errors.New("nothing to claim")
	ErrNotSettled       = errors.New("round not settled yet")
)

// Result é o desfecho de uma transferência
type Result struct {
	PayoutID    string
	Bettor      string
	Amount      uint64
	TransferRef string
	Err         error
}

type Report struct {
	RoundID uint64
	Results []Result
}

// Failed conta os payouts que caíram para claim_pending
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

type Distributor struct {
	machine  *round.Machine
	transfer wallet.Transferer
	log      *zap.Logger

	OnPaid   func(amount uint64) // métricas
	OnFailed func()
}

func NewDistributor(machine *round.Machine, transfer wallet.Transferer, log *zap.Logger) *Distributor {
	return &Distributor{machine: machine, transfer: transfer, log: log}
}

// Distribute tenta todos os payouts pendentes de uma rodada com o vencedor
// confirmado. A ref da transferência é o id do payout, então repetir a
// chamada depois de um crash não paga duas vezes.
func (d *Distributor) Distribute(ctx context.Context, roundID uint64) (Report, error) {
	rep := Report{RoundID: roundID}
	r, err := d.machine.Get(ctx, roundID)
	if err != nil {
		return rep, err
	}
	if r.Settlement == nil || !r.WinnerConfirmed {
		return rep, ErrNotSettled
	}
	if r.Halted {
		return rep, round.ErrRoundHalted
	}

	for _, p := range r.PendingPayouts() {
		res := d.pay(ctx, roundID, p, false)
		rep.Results = append(rep.Results, res)
	}
	return rep, nil
}

// Claim paga os payouts em claim_pending de um apostador
func (d *Distributor) Claim(ctx context.Context, roundID uint64, bettor string) (Report, error) {
	rep := Report{RoundID: roundID}
	r, err := d.machine.Get(ctx, roundID)
	if err != nil {
		return rep, err
	}

	var errs []error
	for _, p := range r.ClaimPending() {
		if bettor != "" && p.Bettor != bettor {
			continue
		}
		res := d.pay(ctx, roundID, p, true)
		rep.Results = append(rep.Results, res)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if len(rep.Results) == 0 {
		return rep, ErrNothingToClaim
	}
	return rep, errors.Join(errs...)
}

func (d *Distributor) pay(ctx context.Context, roundID uint64, p round.Payout, claim bool) Result {
	res := Result{PayoutID: p.ID, Bettor: p.Bettor, Amount: p.Amount}

	ref, terr := d.transfer.Transfer(ctx, wallet.TransferRequest{
		Ref:       p.ID,
		Bettor:    p.Bettor,
		Amount:    p.Amount,
		Direction: wallet.DirectionPayout,
	})
	res.TransferRef = ref

	record := d.machine.RecordPayout
	if claim {
		record = d.machine.RecordClaim
	}
	if _, err := record(ctx, roundID, p.ID, ref, terr); err != nil {
		// a transferência pode ter saído; o próximo tick reenvia com a mesma ref
		res.Err = fmt.Errorf("record payout %s: %w", p.ID, err)
		d.log.Error("record payout failed", zap.Uint64("round_id", roundID), zap.String("payout_id", p.ID), zap.Error(err))
		return res
	}

	if terr != nil {
		res.Err = fmt.Errorf("%w: %s: %v", ErrAutoPayoutFailed, p.ID, terr)
		d.log.Warn("payout transfer failed",
			zap.Uint64("round_id", roundID), zap.String("payout_id", p.ID),
			zap.String("bettor", p.Bettor), zap.Uint64("amount", p.Amount), zap.Error(terr))
		if d.OnFailed != nil {
			d.OnFailed()
		}
		return res
	}

	d.log.Info("payout transferred",
		zap.Uint64("round_id", roundID), zap.String("payout_id", p.ID),
		zap.String("bettor", p.Bettor), zap.Uint64("amount", p.Amount), zap.Bool("claim", claim))
	if d.OnPaid != nil {
		d.OnPaid(p.Amount)
	}
	return res
}
