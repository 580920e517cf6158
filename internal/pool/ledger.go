// Package pool faz a contabilidade dos pools de entrada e de espectadores.
// Não faz I/O: é reconstruído a partir dos registros da rodada sempre que preciso.
package pool

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrFrozen     = errors.New("pool ledger is frozen")
	ErrZeroAmount = errors.New("stake amount must be positive")
	ErrOverflow   = errors.New("pool arithmetic overflow")
	ErrImbalance  = errors.New("pool totals do not match stake records")
)

// BpsDenominator é a base dos valores em basis points
const BpsDenominator = 10_000

// Pool guarda o total e a soma por apostador
type Pool struct {
	Total    uint64
	ByBettor map[string]uint64
}

func (p *Pool) add(bettor string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	total, carry := bits.Add64(p.Total, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	if p.ByBettor == nil {
		p.ByBettor = make(map[string]uint64)
	}
	// soma por apostador nunca excede o total, então não transborda
	p.ByBettor[bettor] += amount
	p.Total = total
	return nil
}

// Ledger é o livro dos dois pools de uma rodada
type Ledger struct {
	Entry     Pool
	Spectator Pool
	Frozen    bool
}

func New() *Ledger { return &Ledger{} }

func (l *Ledger) AddEntry(bettor string, amount uint64) error {
	if l.Frozen {
		return ErrFrozen
	}
	return l.Entry.add(bettor, amount)
}

func (l *Ledger) AddSpectator(bettor string, amount uint64) error {
	if l.Frozen {
		return ErrFrozen
	}
	return l.Spectator.add(bettor, amount)
}

// Freeze congela os totais; usado quando a rodada chega ao estado terminal
func (l *Ledger) Freeze() { l.Frozen = true }

func (l *Ledger) Totals() (entry, spectator uint64) {
	return l.Entry.Total, l.Spectator.Total
}

// Stake é a forma mínima de um registro de aposta para reconstrução
type Stake struct {
	Bettor string
	Amount uint64
}

// Rebuild reconstrói o ledger a partir dos registros de participantes e espectadores
func Rebuild(entries, spectators []Stake) (*Ledger, error) {
	l := New()
	for _, s := range entries {
		if err := l.AddEntry(s.Bettor, s.Amount); err != nil {
			return nil, fmt.Errorf("entry stake %s: %w", s.Bettor, err)
		}
	}
	for _, s := range spectators {
		if err := l.AddSpectator(s.Bettor, s.Amount); err != nil {
			return nil, fmt.Errorf("spectator stake %s: %w", s.Bettor, err)
		}
	}
	return l, nil
}

// Check confere os totais persistidos contra os do ledger
func (l *Ledger) Check(entryTotal, spectatorTotal uint64) error {
	if l.Entry.Total != entryTotal || l.Spectator.Total != spectatorTotal {
		return fmt.Errorf("%w: entry %d/%d spectator %d/%d", ErrImbalance,
			l.Entry.Total, entryTotal, l.Spectator.Total, spectatorTotal)
	}
	return nil
}

// MulDiv calcula floor(a*b/c) com produto intermediário de 128 bits
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// Payable devolve floor(total * (1 - feeBps/10000))
func Payable(total uint64, feeBps uint16) (uint64, error) {
	if feeBps > BpsDenominator {
		return 0, fmt.Errorf("fee %d bps above %d", feeBps, BpsDenominator)
	}
	return MulDiv(total, BpsDenominator-uint64(feeBps), BpsDenominator)
}

// ShareBps é a fatia de stake sobre total em basis points (arredondada pra baixo)
func ShareBps(stake, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	v, err := MulDiv(stake, BpsDenominator, total)
	if err != nil {
		return BpsDenominator
	}
	return v
}
