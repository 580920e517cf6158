// Package round guarda o agregado Round e a máquina de estados da rodada.
//
// Toda operação carrega o agregado, confere a fase gravada e salva com
// checagem otimista de versão; em conflito a operação é refeita sobre o
// estado novo. Uma operação que não muda nada não grava nada, então o crank
// pode chamar a mesma transição quantas vezes quiser.
package round

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/selector"
	"github.com/radieske/arena-wager-platform/internal/settlement"
)

const maxCASRetries = 5

// errNoChange sinaliza que a transição já foi aplicada
var errNoChange = errors.New("no change")

type Machine struct {
	store     Store
	clock     quartz.Clock
	params    Params
	log       *zap.Logger
	observers []Observer

	OnAnomaly func(kind string) // métricas
}

func NewMachine(store Store, clock quartz.Clock, params Params, log *zap.Logger, observers ...Observer) *Machine {
	return &Machine{store: store, clock: clock, params: params, log: log, observers: observers}
}

func (m *Machine) Params() Params { return m.params }

func (m *Machine) Get(ctx context.Context, id uint64) (*Round, error) {
	return m.store.Get(ctx, id)
}

func (m *Machine) Active(ctx context.Context) (*Round, error) {
	return m.store.Active(ctx)
}

type mutation func(r *Round, now time.Time) ([]Event, error)

func (m *Machine) mutate(ctx context.Context, id uint64, eventID string, fn mutation) (*Round, error) {
	if eventID != "" {
		applied, err := m.store.EventApplied(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if applied {
			return nil, ErrDuplicateEvent
		}
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		r, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		now := m.clock.Now()
		evs, err := fn(r, now)
		if errors.Is(err, errNoChange) {
			if eventID != "" {
				if err := m.store.RecordEvent(ctx, eventID, "noop"); err != nil {
					return nil, err
				}
			}
			return r, nil
		}
		if err != nil {
			return r, err
		}

		err = m.store.Save(ctx, r, eventID)
		if errors.Is(err, ErrConcurrentUpdate) {
			m.log.Debug("round version conflict, retrying", zap.Uint64("round_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		m.emit(ctx, r, evs, now)
		return r, nil
	}
	return nil, ErrConcurrentUpdate
}

func (m *Machine) emit(ctx context.Context, r *Round, evs []Event, now time.Time) {
	if len(m.observers) == 0 {
		return
	}
	for _, ev := range evs {
		ev.RoundID = r.ID
		ev.Round = r.Clone()
		if ev.At.IsZero() {
			ev.At = now
		}
		for _, o := range m.observers {
			o.RoundEvent(ctx, ev)
		}
	}
}

func (m *Machine) checkAmount(amount uint64) error {
	if amount < m.params.MinStake || amount == 0 {
		return fmt.Errorf("%w: %d < %d", ErrStakeTooSmall, amount, m.params.MinStake)
	}
	if m.params.MaxStake > 0 && amount > m.params.MaxStake {
		return fmt.Errorf("%w: %d > %d", ErrStakeTooLarge, amount, m.params.MaxStake)
	}
	return nil
}

func invalid(r *Round, op string) error {
	return fmt.Errorf("%w: %s in phase %s (awaiting %s)", ErrInvalidTransition, op, r.Phase, r.Awaiting)
}

// StakeRequest é uma aposta de entrada. ID é a chave de idempotência;
// RoundID zero significa "rodada corrente".
type StakeRequest struct {
	ID      string
	RoundID uint64
	Bettor  string
	Amount  uint64
	IsBot   bool
}

// PlaceEntryStake registra a aposta de entrada, abrindo uma rodada nova
// quando não há rodada ativa. O primeiro stake leva Idle a Waiting.
func (m *Machine) PlaceEntryStake(ctx context.Context, req StakeRequest) (*Round, error) {
	if req.Bettor == "" {
		return nil, ErrInvalidBettor
	}
	if err := m.checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.ID != "" {
		applied, err := m.store.EventApplied(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if applied {
			return nil, ErrDuplicateEvent
		}
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		active, err := m.store.Active(ctx)
		if errors.Is(err, ErrNoActiveRound) {
			active, err = m.openRound(ctx, req.RoundID)
			if errors.Is(err, ErrActiveRoundExists) {
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		if req.RoundID != 0 && req.RoundID != active.ID {
			return nil, fmt.Errorf("%w: event for %d, active %d", ErrRoundMismatch, req.RoundID, active.ID)
		}

		return m.mutate(ctx, active.ID, req.ID, func(r *Round, now time.Time) ([]Event, error) {
			return m.applyEntryStake(r, req, now)
		})
	}
	return nil, ErrConcurrentUpdate
}

func (m *Machine) openRound(ctx context.Context, id uint64) (*Round, error) {
	if id == 0 {
		next, err := m.store.NextRoundID(ctx)
		if err != nil {
			return nil, err
		}
		id = next
	}
	now := m.clock.Now()
	r := &Round{
		ID:             id,
		Phase:          PhaseIdle,
		Awaiting:       AwaitNone,
		CreatedAt:      now,
		PhaseStartedAt: now,
		FeeBps:         m.params.FeeBps,
	}
	if err := m.store.Create(ctx, r); err != nil {
		return nil, err
	}
	m.log.Info("round opened", zap.Uint64("round_id", id))
	m.emit(ctx, r, []Event{{Kind: EventRoundInitialized}}, now)
	return r, nil
}

// MirrorRound garante o registro local da rodada que o ledger externo
// reporta como aberta. Rodada já conhecida não muda.
func (m *Machine) MirrorRound(ctx context.Context, id uint64) (*Round, error) {
	if id == 0 {
		return nil, ErrRoundNotFound
	}
	r, err := m.store.Get(ctx, id)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrRoundNotFound) {
		return nil, err
	}
	active, err := m.store.Active(ctx)
	if err == nil {
		return nil, fmt.Errorf("%w: ledger reports %d, active %d", ErrRoundMismatch, id, active.ID)
	}
	if !errors.Is(err, ErrNoActiveRound) {
		return nil, err
	}
	return m.openRound(ctx, id)
}

func (m *Machine) applyEntryStake(r *Round, req StakeRequest, now time.Time) ([]Event, error) {
	if r.Halted {
		return nil, ErrRoundHalted
	}
	if r.Phase != PhaseIdle && r.Phase != PhaseWaiting {
		return nil, invalid(r, "entry stake")
	}
	if r.BetsLocked {
		return nil, ErrBetsLocked
	}
	if r.Phase == PhaseWaiting && !now.Before(r.PhaseDeadline) {
		return nil, ErrBettingWindowClosed
	}

	p := r.participant(req.Bettor)
	if p == nil && len(r.Participants) >= m.params.MaxParticipants {
		return nil, ErrMaxParticipants
	}

	l, err := r.Ledger()
	if err != nil {
		return nil, err
	}
	if err := l.AddEntry(req.Bettor, req.Amount); err != nil {
		return nil, err
	}

	if p != nil {
		p.Stake += req.Amount
	} else {
		r.Participants = append(r.Participants, Participant{
			Bettor:   req.Bettor,
			Stake:    req.Amount,
			IsBot:    req.IsBot,
			JoinedAt: now,
			Status:   StakePending,
		})
	}
	r.EntryPool = l.Entry.Total

	evs := []Event{{Kind: EventStakePlaced, Bettor: req.Bettor, Amount: req.Amount}}
	if r.Phase == PhaseIdle {
		r.Phase = PhaseWaiting
		r.PhaseStartedAt = now
		r.PhaseDeadline = now.Add(m.params.WaitingDuration)
		evs = append(evs, Event{Kind: EventPhaseAdvanced})
	}
	return evs, nil
}

// SpectatorRequest é uma aposta de espectador em um finalista
type SpectatorRequest struct {
	ID      string
	RoundID uint64
	Bettor  string
	Target  string
	Amount  uint64
}

func (m *Machine) PlaceSpectatorStake(ctx context.Context, req SpectatorRequest) (*Round, error) {
	if req.Bettor == "" {
		return nil, ErrInvalidBettor
	}
	if req.Target == "" {
		return nil, ErrTargetNotFinalist
	}
	if err := m.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	roundID := req.RoundID
	if roundID == 0 {
		active, err := m.store.Active(ctx)
		if err != nil {
			return nil, err
		}
		roundID = active.ID
	}

	stakeID := req.ID
	if stakeID == "" {
		stakeID = uuid.NewString()
	}

	return m.mutate(ctx, roundID, req.ID, func(r *Round, now time.Time) ([]Event, error) {
		if r.Halted {
			return nil, ErrRoundHalted
		}
		if r.Phase != PhaseSpectatorBetting {
			return nil, invalid(r, "spectator stake")
		}
		if r.BetsLocked {
			return nil, ErrBetsLocked
		}
		if !now.Before(r.PhaseDeadline) {
			return nil, ErrBettingWindowClosed
		}
		if r.IsParticipant(req.Bettor) {
			return nil, ErrNotASpectator
		}
		if !r.IsFinalist(req.Target) {
			return nil, ErrTargetNotFinalist
		}

		l, err := r.Ledger()
		if err != nil {
			return nil, err
		}
		if err := l.AddSpectator(req.Bettor, req.Amount); err != nil {
			return nil, err
		}
		r.Spectators = append(r.Spectators, SpectatorStake{
			ID:       stakeID,
			Bettor:   req.Bettor,
			Target:   req.Target,
			Stake:    req.Amount,
			Status:   StakePending,
			PlacedAt: now,
		})
		r.SpectatorPool = l.Spectator.Total
		return []Event{{Kind: EventSpectatorStakePlaced, Bettor: req.Bettor, Target: req.Target, Amount: req.Amount}}, nil
	})
}

// BeginClose fecha a janela de apostas (Waiting ou SpectatorBetting) depois
// do prazo e passa a esperar a confirmação do ledger.
func (m *Machine) BeginClose(ctx context.Context, id uint64) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		if r.Halted {
			return nil, ErrRoundHalted
		}
		if r.Awaiting == AwaitCloseConfirmation {
			return nil, errNoChange
		}
		if (r.Phase != PhaseWaiting && r.Phase != PhaseSpectatorBetting) || r.Awaiting != AwaitNone {
			return nil, invalid(r, "close betting")
		}
		if now.Before(r.PhaseDeadline) {
			return nil, ErrDeadlineNotReached
		}
		if r.Phase == PhaseWaiting && len(r.Participants) == 0 {
			return nil, ErrEmptyRound
		}

		r.BetsLocked = true
		r.Awaiting = AwaitCloseConfirmation
		r.Pending = nil
		return []Event{{Kind: EventBettingLocked}}, nil
	})
}

func (m *Machine) RecordCloseSubmission(ctx context.Context, id uint64, handle string) (*Round, error) {
	return m.recordSubmission(ctx, id, TxCloseBetting, AwaitCloseConfirmation, handle)
}

func (m *Machine) RecordWinnerSubmission(ctx context.Context, id uint64, handle string) (*Round, error) {
	return m.recordSubmission(ctx, id, TxSubmitWinner, AwaitWinnerConfirmation, handle)
}

func (m *Machine) recordSubmission(ctx context.Context, id uint64, kind TxKind, awaiting Awaiting, handle string) (*Round, error) {
	if handle == "" {
		return nil, fmt.Errorf("%s: empty tx handle", kind)
	}
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		if r.Awaiting != awaiting {
			return nil, invalid(r, string(kind))
		}
		attempts := 0
		if r.Pending != nil && r.Pending.Kind == kind {
			if r.Pending.Handle == handle {
				return nil, errNoChange
			}
			if r.Pending.Handle != "" {
				return nil, ErrSubmissionInFlight
			}
			attempts = r.Pending.Attempts
		}
		r.Pending = &PendingTx{Kind: kind, Handle: handle, SubmittedAt: now, Attempts: attempts + 1}
		return nil, nil
	})
}

// AbortCloseSubmission descarta o handle de um fechamento não confirmado;
// o próximo tick reenvia.
func (m *Machine) AbortCloseSubmission(ctx context.Context, id uint64) (*Round, error) {
	return m.abortSubmission(ctx, id, TxCloseBetting)
}

func (m *Machine) AbortWinnerSubmission(ctx context.Context, id uint64) (*Round, error) {
	return m.abortSubmission(ctx, id, TxSubmitWinner)
}

func (m *Machine) abortSubmission(ctx context.Context, id uint64, kind TxKind) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, _ time.Time) ([]Event, error) {
		if r.Pending == nil || r.Pending.Kind != kind || r.Pending.Handle == "" {
			return nil, errNoChange
		}
		r.Pending.Handle = ""
		return nil, nil
	})
}

// ConfirmClose aplica a confirmação do fechamento e escolhe o próximo estado
func (m *Machine) ConfirmClose(ctx context.Context, id uint64) (*Round, error) {
	return m.confirmClose(ctx, id, "")
}

func (m *Machine) confirmClose(ctx context.Context, id uint64, eventID string) (*Round, error) {
	return m.mutate(ctx, id, eventID, func(r *Round, now time.Time) ([]Event, error) {
		if r.Awaiting != AwaitCloseConfirmation {
			switch r.Phase {
			case PhaseIdle, PhaseWaiting, PhaseSpectatorBetting:
				return nil, invalid(r, "confirm close")
			}
			// fechamento já confirmado antes
			return nil, errNoChange
		}

		r.Pending = nil
		r.PhaseStartedAt = now
		r.PhaseDeadline = time.Time{}

		switch {
		case r.Phase == PhaseSpectatorBetting:
			r.Phase = PhaseResolving
			r.Awaiting = AwaitWinnerSeed
		case len(r.Participants) == 1:
			// rodada de um participante só: reembolso, sem aleatoriedade
			r.Phase = PhaseResolving
			r.Awaiting = AwaitNone
		case isSoleHuman(r):
			r.Phase = PhaseResolving
			r.Awaiting = AwaitNone
		case len(r.Participants) >= m.params.LargeGameThreshold:
			r.Phase = PhaseArena
			r.Awaiting = AwaitEliminationSeed
		default:
			r.Phase = PhaseResolving
			r.Awaiting = AwaitWinnerSeed
		}
		return []Event{{Kind: EventPhaseAdvanced}}, nil
	})
}

func isSoleHuman(r *Round) bool {
	_, ok := r.SoleHuman()
	return ok
}

// RecordRandomnessRequest guarda o handle do pedido de seed da fase corrente
func (m *Machine) RecordRandomnessRequest(ctx context.Context, id uint64, tag randomness.Tag, handle randomness.Handle) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		var field *string
		switch {
		case tag == randomness.TagElimination && r.Phase == PhaseArena && r.Awaiting == AwaitEliminationSeed:
			field = &r.EliminationRequest
		case tag == randomness.TagWinner && r.Phase == PhaseResolving && r.Awaiting == AwaitWinnerSeed:
			field = &r.WinnerRequest
		default:
			return nil, invalid(r, "record randomness "+string(tag))
		}
		if *field == string(handle) {
			return nil, errNoChange
		}
		if *field != "" {
			return nil, randomness.ErrDuplicateRequest
		}
		*field = string(handle)
		r.RandomnessRequestedAt = now
		return nil, nil
	})
}

// ApplyElimination usa a seed de eliminação já consumida para escolher os
// finalistas e abre a janela de espectadores.
func (m *Machine) ApplyElimination(ctx context.Context, id uint64, seed []byte) (*Round, error) {
	if len(seed) < randomness.MinSeedLen {
		return nil, randomness.ErrInvalidSeed
	}
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		if r.Halted {
			return nil, ErrRoundHalted
		}
		if r.Phase != PhaseArena || r.Awaiting != AwaitEliminationSeed {
			return nil, invalid(r, "apply elimination")
		}

		cands := make([]selector.Candidate, len(r.Participants))
		for i, p := range r.Participants {
			cands[i] = selector.Candidate{ID: p.Bettor, Stake: p.Stake}
		}
		res := selector.Eliminate(cands, m.params.FinalistCount, selector.NewStream(seed, selector.TagElimination))

		r.Finalists = r.Finalists[:0]
		for _, f := range res.Finalists {
			r.Finalists = append(r.Finalists, f.ID)
		}
		for _, e := range res.Eliminated {
			p := r.participant(e.ID)
			p.Eliminated = true
			p.EliminatedAt = now
			p.FinalRank = res.EliminatedRank
		}

		r.Phase = PhaseSpectatorBetting
		r.Awaiting = AwaitNone
		r.BetsLocked = false
		r.PhaseStartedAt = now
		r.PhaseDeadline = now.Add(m.params.SpectatorDuration)
		r.RandomnessRequestedAt = time.Time{}

		m.log.Info("finalists selected",
			zap.Uint64("round_id", r.ID), zap.Strings("finalists", r.Finalists),
			zap.Int("eliminated", len(res.Eliminated)))
		return []Event{{Kind: EventFinalistsSelected}}, nil
	})
}

// ResolveWinner escolhe o vencedor e calcula a liquidação. seed só é
// exigida quando a rodada espera a seed de vencedor; rodadas de um
// participante são reembolsadas e um humano sozinho contra bots vence direto.
func (m *Machine) ResolveWinner(ctx context.Context, id uint64, seed []byte) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		if r.Halted {
			return nil, ErrRoundHalted
		}
		if r.Phase != PhaseResolving {
			return nil, invalid(r, "resolve winner")
		}
		if r.Settlement != nil {
			return nil, errNoChange
		}
		if r.Winner != "" {
			return nil, ErrDuplicateWinner
		}
		if len(r.Participants) == 0 {
			return nil, ErrEmptyRound
		}

		refund := len(r.Participants) == 1
		winner := ""
		switch {
		case refund:
		case isSoleHuman(r):
			winner, _ = r.SoleHuman()
		default:
			if r.Awaiting != AwaitWinnerSeed {
				return nil, invalid(r, "resolve winner")
			}
			if len(seed) < randomness.MinSeedLen {
				return nil, randomness.ErrSeedNotFulfilled
			}
			cands := m.winnerCandidates(r)
			res := selector.SelectWinner(cands, selector.NewStream(seed, selector.TagWinner), m.anomalyHook(r.ID))
			winner = cands[res.Index].ID
		}

		out, err := settlement.Settle(settlementInput(r, winner, refund))
		if err != nil {
			return nil, err
		}

		applySettlement(r, winner, refund, out, now)
		r.Awaiting = AwaitWinnerConfirmation
		r.BetsLocked = true
		r.RandomnessRequestedAt = time.Time{}

		if refund {
			m.log.Info("single participant round refunded", zap.Uint64("round_id", r.ID))
		} else {
			m.log.Info("winner selected", zap.Uint64("round_id", r.ID), zap.String("winner", winner),
				zap.Uint64("house_fee", out.HouseFee))
		}
		return []Event{{Kind: EventWinnerSelected, Bettor: winner}}, nil
	})
}

func (m *Machine) winnerCandidates(r *Round) []selector.Candidate {
	var cands []selector.Candidate
	if len(r.Finalists) > 0 {
		for _, id := range r.Finalists {
			cands = append(cands, selector.Candidate{ID: id, Stake: r.participant(id).Stake})
		}
		return cands
	}
	for _, p := range r.Participants {
		cands = append(cands, selector.Candidate{ID: p.Bettor, Stake: p.Stake})
	}
	return cands
}

func (m *Machine) anomalyHook(roundID uint64) selector.AnomalyFunc {
	return func(kind string, detail map[string]uint64) {
		fields := []zap.Field{zap.String("anomaly", kind), zap.Uint64("round_id", roundID)}
		for k, v := range detail {
			fields = append(fields, zap.Uint64(k, v))
		}
		m.log.Error("weighted selection anomaly", fields...)
		if m.OnAnomaly != nil {
			m.OnAnomaly(kind)
		}
	}
}

func settlementInput(r *Round, winner string, refund bool) settlement.Input {
	in := settlement.Input{Refund: refund, Winner: winner, FeeBps: r.FeeBps}
	for _, p := range r.Participants {
		in.Entry = append(in.Entry, settlement.Bet{ID: p.Bettor, Bettor: p.Bettor, Target: p.Bettor, Stake: p.Stake})
	}
	for _, s := range r.Spectators {
		in.Spectator = append(in.Spectator, settlement.Bet{ID: s.ID, Bettor: s.Bettor, Target: s.Target, Stake: s.Stake})
	}
	return in
}

func applySettlement(r *Round, winner string, refund bool, out settlement.Result, now time.Time) {
	r.Winner = winner
	if winner != "" {
		for i := range r.Participants {
			p := &r.Participants[i]
			switch {
			case p.Bettor == winner:
				p.IsWinner = true
				p.FinalRank = 1
			case !p.Eliminated:
				p.FinalRank = 2
			}
		}
	}

	s := &Settlement{
		Refund:           refund,
		HouseFee:         out.HouseFee,
		EntryPayable:     out.EntryPayable,
		SpectatorPayable: out.SpectatorPayable,
		Swept:            out.Swept,
		SettledAt:        now,
	}
	for _, po := range out.Payouts {
		status := StakeStatus(po.Status)
		switch po.Pool {
		case settlement.PoolEntry:
			p := r.participant(po.BetID)
			p.Status = status
			p.Payout = po.Amount
		case settlement.PoolSpectator:
			for i := range r.Spectators {
				if r.Spectators[i].ID == po.BetID {
					r.Spectators[i].Status = status
					r.Spectators[i].Payout = po.Amount
				}
			}
		}
		if po.Amount == 0 {
			continue
		}
		s.Payouts = append(s.Payouts, Payout{
			ID:     PayoutID(r.ID, po.Pool, po.BetID),
			BetID:  po.BetID,
			Bettor: po.Bettor,
			Pool:   po.Pool,
			Amount: po.Amount,
			Status: PayoutPending,
		})
	}
	r.Settlement = s
}

// ConfirmWinner registra a confirmação do ledger para o vencedor submetido
func (m *Machine) ConfirmWinner(ctx context.Context, id uint64) (*Round, error) {
	return m.confirmWinner(ctx, id, "", "")
}

func (m *Machine) confirmWinner(ctx context.Context, id uint64, winner, eventID string) (*Round, error) {
	return m.mutate(ctx, id, eventID, func(r *Round, now time.Time) ([]Event, error) {
		if r.WinnerConfirmed {
			return nil, errNoChange
		}
		if r.Awaiting != AwaitWinnerConfirmation {
			return nil, invalid(r, "confirm winner")
		}
		if eventID != "" && winner != r.Winner {
			return nil, fmt.Errorf("%w: ledger confirmed %q, local winner %q", ErrDuplicateWinner, winner, r.Winner)
		}
		r.Awaiting = AwaitNone
		r.WinnerConfirmed = true
		r.Pending = nil
		return []Event{{Kind: EventWinnerConfirmed, Bettor: r.Winner}}, nil
	})
}

// RecordPayout grava o resultado de uma transferência automática.
// Um payout já transferido nunca volta a ser alterado.
func (m *Machine) RecordPayout(ctx context.Context, id uint64, payoutID, transferRef string, failure error) (*Round, error) {
	return m.recordPayout(ctx, id, payoutID, transferRef, failure, false)
}

// RecordClaim grava o resultado de um claim manual de payout em claim_pending
func (m *Machine) RecordClaim(ctx context.Context, id uint64, payoutID, transferRef string, failure error) (*Round, error) {
	return m.recordPayout(ctx, id, payoutID, transferRef, failure, true)
}

func (m *Machine) recordPayout(ctx context.Context, id uint64, payoutID, ref string, failure error, claim bool) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		p := r.payout(payoutID)
		if p == nil {
			return nil, ErrPayoutNotFound
		}
		if p.Status.Done() {
			return nil, errNoChange
		}
		if claim && p.Status != PayoutClaimPending {
			return nil, invalid(r, "claim payout in status "+string(p.Status))
		}

		p.Attempts++
		if failure != nil {
			p.Status = PayoutClaimPending
			p.LastError = failure.Error()
		} else {
			if p.Status == PayoutClaimPending {
				p.Status = PayoutClaimed
			} else {
				p.Status = PayoutPaid
			}
			p.TransferRef = ref
			p.PaidAt = now
			p.LastError = ""
		}
		return []Event{{Kind: EventPayoutUpdated, Bettor: p.Bettor, Amount: p.Amount}}, nil
	})
}

// Finalize encerra a rodada depois que todos os payouts foram tentados
func (m *Machine) Finalize(ctx context.Context, id uint64) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		if r.Phase == PhaseFinished {
			return nil, errNoChange
		}
		if r.Phase != PhaseResolving || !r.WinnerConfirmed || r.Settlement == nil {
			return nil, invalid(r, "finalize")
		}
		if len(r.PendingPayouts()) > 0 {
			return nil, ErrPayoutsPending
		}

		r.Phase = PhaseFinished
		r.Awaiting = AwaitNone
		r.BetsLocked = false
		r.PhaseStartedAt = now
		r.PhaseDeadline = time.Time{}
		r.FinishedAt = now
		r.Pending = nil

		m.log.Info("round finished", zap.Uint64("round_id", r.ID), zap.String("winner", r.Winner),
			zap.Bool("refund", r.Settlement.Refund), zap.Int("claim_pending", len(r.ClaimPending())))
		return []Event{{Kind: EventRoundFinished, Bettor: r.Winner}}, nil
	})
}

// CollectHouseFee marca a taxa da casa de uma rodada encerrada como recolhida
func (m *Machine) CollectHouseFee(ctx context.Context, id uint64) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, _ time.Time) ([]Event, error) {
		if r.Phase != PhaseFinished || r.Settlement == nil {
			return nil, invalid(r, "collect house fee")
		}
		if r.Settlement.HouseFeeCollected {
			return nil, ErrHouseFeeCollected
		}
		r.Settlement.HouseFeeCollected = true
		return []Event{{Kind: EventHouseFeeCollected, Amount: r.Settlement.HouseFee}}, nil
	})
}

// ForceReset reembolsa todas as apostas de uma rodada presa. Só é permitido
// depois do timeout de emergência ou com a seed pendente além do timeout de
// aleatoriedade, e nunca depois que um vencedor foi escolhido.
func (m *Machine) ForceReset(ctx context.Context, id uint64, reason string) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		if r.Phase.Terminal() {
			return nil, invalid(r, "force reset")
		}
		if r.Winner != "" || (r.Settlement != nil && !r.Settlement.Refund) {
			return nil, fmt.Errorf("%w: winner already selected", ErrInvalidTransition)
		}
		if r.Settlement != nil && r.Settlement.Refund {
			return nil, errNoChange
		}
		expired := r.RandomnessExpired(now, m.params.RandomnessTimeout)
		if now.Sub(r.CreatedAt) < m.params.EmergencyTimeout && !expired {
			return nil, ErrEmergencyTimeoutNotElapsed
		}

		out, err := settlement.Settle(settlementInput(r, "", true))
		if err != nil {
			return nil, err
		}
		applySettlement(r, "", true, out, now)

		r.Phase = PhaseResolving
		r.Awaiting = AwaitNone
		r.WinnerConfirmed = true
		r.BetsLocked = true
		r.Halted = false
		r.HaltReason = "force_reset: " + reason
		r.Pending = nil
		r.PhaseStartedAt = now
		r.PhaseDeadline = time.Time{}

		m.log.Warn("round force reset", zap.Uint64("round_id", r.ID), zap.String("reason", reason),
			zap.Bool("randomness_expired", expired))
		return []Event{{Kind: EventRoundReset}}, nil
	})
}

// EmergencyUnlock reabre a janela de apostas de uma rodada interrompida
// ou com o fechamento preso além do timeout de emergência.
func (m *Machine) EmergencyUnlock(ctx context.Context, id uint64) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, now time.Time) ([]Event, error) {
		if r.Phase != PhaseWaiting && r.Phase != PhaseSpectatorBetting {
			return nil, invalid(r, "emergency unlock")
		}
		stuckClose := r.Awaiting == AwaitCloseConfirmation && now.Sub(r.PhaseDeadline) >= m.params.EmergencyTimeout
		if !r.Halted && !stuckClose {
			return nil, ErrEmergencyTimeoutNotElapsed
		}
		if r.Pending != nil && r.Pending.Handle != "" {
			return nil, ErrSubmissionInFlight
		}

		r.BetsLocked = false
		r.Halted = false
		r.HaltReason = ""
		r.Awaiting = AwaitNone
		r.Pending = nil

		m.log.Warn("round bets unlocked", zap.Uint64("round_id", r.ID))
		return []Event{{Kind: EventBetsUnlocked}}, nil
	})
}

// Halt interrompe a progressão automática da rodada
func (m *Machine) Halt(ctx context.Context, id uint64, reason string) (*Round, error) {
	return m.mutate(ctx, id, "", func(r *Round, _ time.Time) ([]Event, error) {
		if r.Halted || r.Phase.Terminal() {
			return nil, errNoChange
		}
		r.Halted = true
		r.HaltReason = reason
		m.log.Error("round halted", zap.Uint64("round_id", r.ID), zap.String("reason", reason))
		return []Event{{Kind: EventRoundHalted}}, nil
	})
}
