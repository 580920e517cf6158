// Package settlement calcula pagamentos e taxa da casa de uma rodada encerrada.
// Settle é pura: não faz I/O e depende apenas da entrada.
package settlement

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/radieske/arena-wager-platform/internal/pool"
)

var (
	ErrInsufficientPoolFunds = errors.New("payouts exceed payable pool")
	ErrNoWinner              = errors.New("settlement requires a winner")
	ErrInvalidFee            = errors.New("fee above 10000 bps")
)

type PoolKind string

const (
	PoolEntry     PoolKind = "entry"
	PoolSpectator PoolKind = "spectator"
)

type Status string

const (
	StatusWon      Status = "won"
	StatusLost     Status = "lost"
	StatusRefunded Status = "refunded"
)

// Bet é uma aposta em um pool; Target é o participante apostado
// (para apostas de entrada, o próprio participante)
type Bet struct {
	ID     string
	Bettor string
	Target string
	Stake  uint64
}

type Input struct {
	Refund    bool
	Winner    string
	FeeBps    uint16
	Entry     []Bet
	Spectator []Bet
}

type Payout struct {
	BetID  string
	Bettor string
	Pool   PoolKind
	Stake  uint64
	Amount uint64
	Status Status
}

type Result struct {
	Payouts          []Payout
	HouseFee         uint64 // taxa + poeira de arredondamento + pools varridos
	EntryPayable     uint64
	SpectatorPayable uint64
	Swept            uint64 // pools sem aposta no vencedor
}

// Settle calcula o pagamento de cada aposta
func Settle(in Input) (Result, error) {
	if in.FeeBps > pool.BpsDenominator {
		return Result{}, ErrInvalidFee
	}
	if in.Refund {
		return refund(in)
	}
	if in.Winner == "" {
		return Result{}, ErrNoWinner
	}

	var res Result
	entry, err := settlePool(PoolEntry, in.Entry, in.Winner, in.FeeBps)
	if err != nil {
		return Result{}, err
	}
	spectator, err := settlePool(PoolSpectator, in.Spectator, in.Winner, in.FeeBps)
	if err != nil {
		return Result{}, err
	}

	res.Payouts = append(entry.payouts, spectator.payouts...)
	res.EntryPayable = entry.payable
	res.SpectatorPayable = spectator.payable
	res.Swept = entry.swept + spectator.swept
	res.HouseFee = entry.house + spectator.house
	return res, nil
}

type poolResult struct {
	payouts []Payout
	payable uint64
	house   uint64
	swept   uint64
}

func settlePool(kind PoolKind, bets []Bet, winner string, feeBps uint16) (poolResult, error) {
	var out poolResult
	total, err := sum(bets, "")
	if err != nil {
		return out, fmt.Errorf("%s pool: %w", kind, err)
	}
	winningSum, err := sum(bets, winner)
	if err != nil {
		return out, fmt.Errorf("%s pool: %w", kind, err)
	}
	if out.payable, err = pool.Payable(total, feeBps); err != nil {
		return out, fmt.Errorf("%s pool: %w", kind, err)
	}

	var paid uint64
	for _, b := range bets {
		p := Payout{BetID: b.ID, Bettor: b.Bettor, Pool: kind, Stake: b.Stake, Status: StatusLost}
		if b.Target == winner && winningSum > 0 {
			amt, err := pool.MulDiv(out.payable, b.Stake, winningSum)
			if err != nil {
				return out, fmt.Errorf("%s pool payout %s: %w", kind, b.ID, err)
			}
			p.Amount = amt
			p.Status = StatusWon
			paid += amt
		}
		out.payouts = append(out.payouts, p)
	}

	if winningSum == 0 {
		// ninguém apostou no vencedor: o pool inteiro vai para a casa
		out.swept = total
	}
	if paid > out.payable {
		return out, fmt.Errorf("%w: %s pool pays %d of %d", ErrInsufficientPoolFunds, kind, paid, out.payable)
	}
	out.house = total - paid
	return out, nil
}

func refund(in Input) (Result, error) {
	var res Result
	for _, group := range []struct {
		kind PoolKind
		bets []Bet
	}{{PoolEntry, in.Entry}, {PoolSpectator, in.Spectator}} {
		if _, err := sum(group.bets, ""); err != nil {
			return Result{}, fmt.Errorf("%s pool: %w", group.kind, err)
		}
		for _, b := range group.bets {
			res.Payouts = append(res.Payouts, Payout{
				BetID: b.ID, Bettor: b.Bettor, Pool: group.kind,
				Stake: b.Stake, Amount: b.Stake, Status: StatusRefunded,
			})
		}
	}
	return res, nil
}

// sum soma os stakes; com target != "" soma só as apostas nele
func sum(bets []Bet, target string) (uint64, error) {
	var total uint64
	for _, b := range bets {
		if target != "" && b.Target != target {
			continue
		}
		var carry uint64
		total, carry = bits.Add64(total, b.Stake, 0)
		if carry != 0 {
			return 0, pool.ErrOverflow
		}
	}
	return total, nil
}

// TotalPaid soma os valores a pagar do resultado
func (r Result) TotalPaid() uint64 {
	var t uint64
	for _, p := range r.Payouts {
		t += p.Amount
	}
	return t
}
