package round

import (
	"errors"

	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/settlement"
)

var (
	ErrInvalidTransition          = errors.New("invalid transition for round phase")
	ErrBetsLocked                 = errors.New("bets are locked")
	ErrBettingWindowClosed        = errors.New("betting window deadline elapsed")
	ErrRoundHalted                = errors.New("round halted pending manual intervention")
	ErrDuplicateWinner            = errors.New("winner already assigned")
	ErrConcurrentUpdate           = errors.New("round was modified concurrently")
	ErrDuplicateEvent             = errors.New("event already applied")
	ErrStakeTooSmall              = errors.New("stake below minimum")
	ErrStakeTooLarge              = errors.New("stake above maximum")
	ErrInvalidBettor              = errors.New("bettor identity required")
	ErrMaxParticipants            = errors.New("round is full")
	ErrNotASpectator              = errors.New("participants cannot place spectator stakes")
	ErrTargetNotFinalist          = errors.New("target is not a finalist")
	ErrEmergencyTimeoutNotElapsed = errors.New("emergency timeout not elapsed")
	ErrRoundNotFound              = errors.New("round not found")
	ErrNoActiveRound              = errors.New("no active round")
	ErrActiveRoundExists          = errors.New("another round is still active")
	ErrRoundMismatch              = errors.New("event targets a different round")
	ErrDeadlineNotReached         = errors.New("phase deadline not reached")
	ErrEmptyRound                 = errors.New("round has no participants")
	ErrSubmissionInFlight         = errors.New("ledger submission already in flight")
	ErrPayoutNotFound             = errors.New("payout not found")
	ErrPayoutsPending             = errors.New("payouts still pending")
	ErrHouseFeeCollected          = errors.New("house fee already collected")
)

// IsFatal diz se o erro viola uma invariante estrutural da rodada.
// Nesses casos a rodada é interrompida e espera intervenção do operador.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDuplicateWinner) ||
		errors.Is(err, randomness.ErrSeedAlreadyConsumed) ||
		errors.Is(err, randomness.ErrSeedReuse) ||
		errors.Is(err, settlement.ErrInsufficientPoolFunds)
}
