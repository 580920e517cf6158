// Package roundfeed leva os eventos de ciclo de vida da rodada para fora do
// processo: Kafka para consumidores de negócio e Redis Pub/Sub para o
// WebSocket do game-service.
package roundfeed

import (
	"fmt"
	"time"

	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

// View converte o agregado na projeção pública
func View(r *round.Round) events.RoundView {
	v := events.RoundView{
		ID:              r.ID,
		Version:         r.Version,
		Phase:           string(r.Phase),
		Awaiting:        string(r.Awaiting),
		BetsLocked:      r.BetsLocked,
		Halted:          r.Halted,
		HaltReason:      r.HaltReason,
		CreatedAt:       r.CreatedAt,
		PhaseDeadline:   timePtr(r.PhaseDeadline),
		FinishedAt:      timePtr(r.FinishedAt),
		EntryPool:       r.EntryPool,
		SpectatorPool:   r.SpectatorPool,
		FeeBps:          r.FeeBps,
		Winner:          r.Winner,
		WinnerConfirmed: r.WinnerConfirmed,
		Finalists:       append([]string(nil), r.Finalists...),
		Participants:    make([]events.ParticipantView, 0, len(r.Participants)),
	}

	probs := r.WinProbabilityBps()
	for _, p := range r.Participants {
		v.Participants = append(v.Participants, events.ParticipantView{
			Bettor:            p.Bettor,
			Stake:             p.Stake,
			IsBot:             p.IsBot,
			WinProbabilityBps: probs[p.Bettor],
			Eliminated:        p.Eliminated,
			FinalRank:         p.FinalRank,
			IsWinner:          p.IsWinner,
			Status:            string(p.Status),
			Payout:            p.Payout,
		})
	}
	for _, s := range r.Spectators {
		v.Spectators = append(v.Spectators, events.SpectatorView{
			ID: s.ID, Bettor: s.Bettor, Target: s.Target, Stake: s.Stake,
			Status: string(s.Status), Payout: s.Payout,
		})
	}
	if s := r.Settlement; s != nil {
		sv := &events.SettlementView{
			Refund:            s.Refund,
			HouseFee:          s.HouseFee,
			Swept:             s.Swept,
			HouseFeeCollected: s.HouseFeeCollected,
			Payouts:           make([]events.PayoutView, 0, len(s.Payouts)),
		}
		for _, p := range s.Payouts {
			sv.Payouts = append(sv.Payouts, events.PayoutView{
				ID: p.ID, Bettor: p.Bettor, Pool: string(p.Pool), Amount: p.Amount, Status: string(p.Status),
			})
		}
		v.Settlement = sv
	}
	return v
}

// Message monta o evento de fio. O id é determinístico por versão gravada,
// então republicar o mesmo evento gera a mesma chave.
func Message(ev round.Event) events.RoundEvent {
	var view events.RoundView
	version := int64(0)
	if ev.Round != nil {
		view = View(ev.Round)
		version = ev.Round.Version
	}
	return events.RoundEvent{
		EventID: fmt.Sprintf("%d-%d-%s", ev.RoundID, version, ev.Kind),
		Kind:    string(ev.Kind),
		RoundID: ev.RoundID,
		Bettor:  ev.Bettor,
		Target:  ev.Target,
		Amount:  ev.Amount,
		At:      ev.At,
		Round:   view,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
