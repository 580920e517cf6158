package round

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/ledger"
)

// ledgerEventID é a chave de dedupe de um evento do ledger externo
func ledgerEventID(ev ledger.Event) string { return "ledger:" + ev.ID }

// ApplyLedgerEvent aplica um evento do ledger externo exatamente uma vez.
// Eventos já aplicados devolvem nil. Eventos rejeitados pelas regras da
// rodada ficam registrados para não serem reavaliados a cada tick, e o
// erro de rejeição é devolvido para log/DLQ.
func (m *Machine) ApplyLedgerEvent(ctx context.Context, ev ledger.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	id := ledgerEventID(ev)

	var err error
	switch ev.Kind {
	case ledger.KindStakePlaced:
		s := ev.StakePlaced
		_, err = m.PlaceEntryStake(ctx, StakeRequest{
			ID: id, RoundID: ev.RoundID, Bettor: s.Bettor, Amount: s.Amount, IsBot: s.Bot,
		})
	case ledger.KindSpectatorStakePlaced:
		s := ev.SpectatorStakePlaced
		_, err = m.PlaceSpectatorStake(ctx, SpectatorRequest{
			ID: id, RoundID: ev.RoundID, Bettor: s.Bettor, Target: s.Target, Amount: s.Amount,
		})
	case ledger.KindBettingClosed:
		_, err = m.confirmClose(ctx, ev.RoundID, id)
	case ledger.KindWinnerConfirmed:
		_, err = m.confirmWinner(ctx, ev.RoundID, ev.WinnerConfirmed.Winner, id)
	default:
		return fmt.Errorf("%w: %q", ledger.ErrUnknownEventKind, ev.Kind)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateEvent):
		m.log.Debug("ledger event already applied", zap.String("event_id", ev.ID))
		return nil
	case IsRejected(err):
		if rerr := m.store.RecordEvent(ctx, id, "rejected: "+err.Error()); rerr != nil {
			return rerr
		}
		m.log.Warn("ledger event rejected",
			zap.String("event_id", ev.ID), zap.String("kind", string(ev.Kind)),
			zap.Uint64("round_id", ev.RoundID), zap.Error(err))
		return err
	default:
		return err
	}
}

// IsRejected separa erros de regra (definitivos) de erros de infraestrutura
func IsRejected(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition, ErrBetsLocked, ErrBettingWindowClosed, ErrRoundHalted,
		ErrStakeTooSmall, ErrStakeTooLarge, ErrInvalidBettor, ErrMaxParticipants,
		ErrNotASpectator, ErrTargetNotFinalist, ErrRoundMismatch, ErrRoundNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
