// Package crank é o loop de reconciliação: a cada tick confere o ledger
// externo, aplica os eventos novos e avança a rodada ativa pelo próximo
// passo da sua fase. Chamar Tick mais vezes que o necessário não muda nada:
// cada passo olha o estado gravado antes de agir.
package crank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/health"
	"github.com/radieske/arena-wager-platform/internal/ledger"
	"github.com/radieske/arena-wager-platform/internal/payout"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/shared/config"
	"github.com/radieske/arena-wager-platform/internal/shared/metrics"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
)

const (
	lockKey = "arena:crank:lease"

	// passos encadeados por tick (fechamento → seed → vencedor → pagamento)
	maxStepsPerTick = 8
	pruneBatch      = 50
)

// ErrLeaseLost indica que o lease expirou e outro crank pode estar no tick
var ErrLeaseLost = errors.New("tick lease lost")

type leaseKey struct{}

type Options struct {
	Interval       time.Duration
	LockTTL        time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	ConfirmTimeout time.Duration
	StuckGrace     time.Duration
	ArchiveAfter   time.Duration
	TxBatchSize    int
}

func OptionsFromConfig(c config.Crank) Options {
	return Options{
		Interval:       c.Interval,
		LockTTL:        c.LockTTL,
		RetryAttempts:  c.RetryAttempts,
		RetryBackoff:   c.RetryBackoff,
		ConfirmTimeout: c.ConfirmTimeout,
		StuckGrace:     c.StuckGrace,
		ArchiveAfter:   c.ArchiveAfter,
		TxBatchSize:    c.TxBatchSize,
	}
}

// Deps são os colaboradores do crank
type Deps struct {
	Machine *round.Machine
	Rounds  round.Store
	Broker  *randomness.Broker
	Gateway ledger.Gateway
	Payouts *payout.Distributor
	Queue   *txqueue.Queue
	Health  *health.Tracker
	Locker  Locker
	Clock   quartz.Clock
	Log     *zap.Logger
	Metrics *metrics.Arena
}

type Crank struct {
	Deps
	opts Options
}

func New(d Deps, opts Options) *Crank {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 10 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	c := &Crank{Deps: d, opts: opts}
	c.instrument()
	return c
}

// instrument liga os hooks dos componentes às métricas do crank
func (c *Crank) instrument() {
	anomaly := func(kind string) { c.Metrics.RandomnessAnomaly.WithLabelValues(kind).Inc() }
	if c.Machine.OnAnomaly == nil {
		c.Machine.OnAnomaly = anomaly
	}
	if c.Broker.OnAnomaly == nil {
		c.Broker.OnAnomaly = anomaly
	}
	if c.Payouts.OnPaid == nil {
		c.Payouts.OnPaid = func(uint64) { c.Metrics.PayoutsPaid.Inc() }
	}
	if c.Payouts.OnFailed == nil {
		c.Payouts.OnFailed = c.Metrics.PayoutsFailed.Inc
	}
	if c.Queue != nil && c.Queue.OnOutcome == nil {
		c.Queue.OnOutcome = func(kind txqueue.Kind, status txqueue.Status) {
			c.Metrics.TxOutcomes.WithLabelValues(string(kind), string(status)).Inc()
		}
	}
}

// Run executa um tick imediato e depois um a cada Interval até ctx acabar
func (c *Crank) Run(ctx context.Context) error {
	c.Log.Info("crank started", zap.Duration("interval", c.opts.Interval))
	c.runTick(ctx)

	w := c.Clock.TickerFunc(ctx, c.opts.Interval, func() error {
		c.runTick(ctx)
		return nil
	}, "crank", "tick")

	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Crank) runTick(ctx context.Context) {
	if err := c.Tick(ctx); err != nil && ctx.Err() == nil {
		c.Log.Warn("crank tick failed", zap.Error(err))
	}
}

// Tick faz uma passada de reconciliação atrás do lease
func (c *Crank) Tick(ctx context.Context) error {
	start := c.Clock.Now()

	token, ok, err := c.Locker.Acquire(ctx, lockKey, c.opts.LockTTL)
	if err != nil {
		c.Metrics.CrankTicks.WithLabelValues("error").Inc()
		return fmt.Errorf("acquire tick lease: %w", err)
	}
	if !ok {
		c.Metrics.CrankTicks.WithLabelValues("skipped").Inc()
		c.Log.Debug("tick lease held elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := c.Locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			c.Log.Warn("release tick lease", zap.Error(err))
		}
	}()

	err = c.tick(context.WithValue(ctx, leaseKey{}, token))

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Metrics.CrankTicks.WithLabelValues(result).Inc()
	c.Metrics.CrankTickDuration.Observe(c.Clock.Since(start).Seconds())
	return err
}

func (c *Crank) tick(ctx context.Context) error {
	var errs []error

	// 1. saúde do ledger
	ledgerOK := c.checkLedger(ctx)

	// 2-3. snapshot, espelho da rodada e eventos
	if ledgerOK {
		if err := c.syncLedger(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// 4-5. transições da rodada ativa
	active, err := c.advance(ctx, ledgerOK)
	if errors.Is(err, ErrLeaseLost) {
		c.Log.Warn("tick lease lost, stopping tick")
		return err
	}
	if err != nil {
		errs = append(errs, err)
	}

	// fila de depósitos e saques
	if c.Queue != nil {
		rep, err := c.Queue.ProcessBatch(ctx, c.opts.TxBatchSize)
		if err != nil {
			c.Health.Failure(ctx, health.ComponentTxQueue, err)
			errs = append(errs, err)
		} else {
			c.Health.Success(ctx, health.ComponentTxQueue,
				fmt.Sprintf("completed=%d failed=%d requeued=%d recovered=%d", rep.Completed, rep.Failed, rep.Requeued, rep.Recovered), 0)
		}
	}

	if err := c.prune(ctx); err != nil {
		errs = append(errs, err)
	}

	// 6. registro de saúde da rodada
	c.recordRoundHealth(ctx, active)

	return errors.Join(errs...)
}

func (c *Crank) checkLedger(ctx context.Context) bool {
	var h ledger.Health
	err := c.retry(ctx, "health", func(ctx context.Context) error {
		var err error
		h, err = c.Gateway.HealthCheck(ctx)
		if err == nil && !h.Healthy {
			err = errors.New("ledger reports unhealthy")
		}
		return err
	})
	if err != nil {
		c.Health.Failure(ctx, health.ComponentLedger, err)
		return false
	}
	c.Health.Success(ctx, health.ComponentLedger, "", h.Latency)
	return true
}

func (c *Crank) syncLedger(ctx context.Context) error {
	var snap ledger.RoundSnapshot
	err := c.retry(ctx, "snapshot", func(ctx context.Context) error {
		var err error
		snap, err = c.Gateway.GetRoundSnapshot(ctx)
		return err
	})
	if err != nil {
		c.Health.Failure(ctx, health.ComponentLedger, err)
		return fmt.Errorf("ledger snapshot: %w", err)
	}

	if snap.RoundID != 0 {
		if _, err := c.Machine.MirrorRound(ctx, snap.RoundID); err != nil && !errors.Is(err, round.ErrRoundMismatch) {
			return fmt.Errorf("mirror round %d: %w", snap.RoundID, err)
		}
	}

	var errs []error
	for _, ev := range snap.Events {
		err := c.Machine.ApplyLedgerEvent(ctx, ev)
		switch {
		case err == nil:
			c.Metrics.LedgerEventsByKind.WithLabelValues(string(ev.Kind), "applied").Inc()
		case round.IsFatal(err):
			c.Metrics.LedgerEventsByKind.WithLabelValues(string(ev.Kind), "fatal").Inc()
			c.halt(ctx, ev.RoundID, err)
		case errors.Is(err, ledger.ErrMalformedEvent), errors.Is(err, ledger.ErrUnknownEventKind):
			c.Metrics.LedgerEventsByKind.WithLabelValues(string(ev.Kind), "invalid").Inc()
			c.Log.Warn("invalid ledger event", zap.String("event_id", ev.ID), zap.Error(err))
		default:
			if round.IsRejected(err) {
				// já registrado como rejeitado pela máquina
				c.Metrics.LedgerEventsByKind.WithLabelValues(string(ev.Kind), "rejected").Inc()
				continue
			}
			c.Metrics.LedgerEventsByKind.WithLabelValues(string(ev.Kind), "error").Inc()
			errs = append(errs, fmt.Errorf("apply ledger event %s: %w", ev.ID, err))
		}
	}
	return errors.Join(errs...)
}

// advance avança a rodada ativa até não haver mais progresso neste tick
func (c *Crank) advance(ctx context.Context, ledgerOK bool) (*round.Round, error) {
	r, err := c.Machine.Active(ctx)
	if errors.Is(err, round.ErrNoActiveRound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for i := 0; i < maxStepsPerTick; i++ {
		if r.Halted {
			return r, nil
		}
		progressed, err := c.step(ctx, r, ledgerOK)
		if err != nil {
			if round.IsFatal(err) {
				c.halt(ctx, r.ID, err)
				r, _ = c.Machine.Get(ctx, r.ID)
				return r, nil
			}
			return r, fmt.Errorf("round %d %s/%s: %w", r.ID, r.Phase, r.Awaiting, err)
		}
		next, err := c.Machine.Get(ctx, r.ID)
		if err != nil {
			return r, err
		}
		r = next
		if !progressed || r.Phase.Terminal() {
			return r, nil
		}
	}
	return r, nil
}

// step executa o próximo passo da rodada e diz se houve progresso
func (c *Crank) step(ctx context.Context, r *round.Round, ledgerOK bool) (bool, error) {
	now := c.Clock.Now()

	switch {
	case (r.Phase == round.PhaseWaiting || r.Phase == round.PhaseSpectatorBetting) && r.Awaiting == round.AwaitNone:
		if now.Before(r.PhaseDeadline) {
			return false, nil
		}
		_, err := c.Machine.BeginClose(ctx, r.ID)
		return err == nil, err

	case r.Awaiting == round.AwaitCloseConfirmation:
		if !ledgerOK {
			return false, nil
		}
		return c.submitAndConfirm(ctx, r, round.TxCloseBetting)

	case r.Phase == round.PhaseArena && r.Awaiting == round.AwaitEliminationSeed:
		return c.seedStep(ctx, r, randomness.TagElimination)

	case r.Phase == round.PhaseResolving && r.Awaiting == round.AwaitWinnerSeed:
		return c.seedStep(ctx, r, randomness.TagWinner)

	case r.Phase == round.PhaseResolving && r.Awaiting == round.AwaitNone && r.Settlement == nil:
		// reembolso de participante único ou humano sozinho contra bots
		_, err := c.Machine.ResolveWinner(ctx, r.ID, nil)
		return err == nil, err

	case r.Awaiting == round.AwaitWinnerConfirmation:
		if !ledgerOK {
			return false, nil
		}
		return c.submitAndConfirm(ctx, r, round.TxSubmitWinner)

	case r.Phase == round.PhaseResolving && r.WinnerConfirmed:
		return c.payAndFinalize(ctx, r)
	}
	return false, nil
}

func (c *Crank) submitAndConfirm(ctx context.Context, r *round.Round, kind round.TxKind) (bool, error) {
	var handle string
	if r.Pending != nil && r.Pending.Kind == kind {
		handle = r.Pending.Handle
	}

	if handle == "" {
		if err := c.renewLease(ctx); err != nil {
			return false, err
		}
		var h ledger.TxHandle
		err := c.retry(ctx, string(kind), func(ctx context.Context) error {
			var err error
			if kind == round.TxCloseBetting {
				h, err = c.Gateway.SubmitCloseBetting(ctx, r.ID)
			} else {
				h, err = c.Gateway.SubmitWinner(ctx, r.ID, r.Winner)
			}
			return err
		})
		if err != nil {
			// a rodada continua no mesmo sub-estado; o próximo tick tenta de novo
			c.Health.Failure(ctx, health.ComponentLedger, err)
			c.Log.Warn("ledger submission failed", zap.Uint64("round_id", r.ID), zap.String("tx", string(kind)), zap.Error(err))
			return false, nil
		}
		handle = string(h)

		record := c.Machine.RecordCloseSubmission
		if kind == round.TxSubmitWinner {
			record = c.Machine.RecordWinnerSubmission
		}
		if _, err := record(ctx, r.ID, handle); err != nil {
			return false, err
		}
		c.Log.Info("ledger tx submitted", zap.Uint64("round_id", r.ID), zap.String("tx", string(kind)), zap.String("handle", handle))
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	confirmed, err := c.Gateway.AwaitConfirmation(cctx, ledger.TxHandle(handle))
	cancel()
	if err != nil {
		c.Metrics.LedgerFailures.WithLabelValues("await_" + string(kind)).Inc()
		c.Log.Warn("ledger confirmation pending", zap.Uint64("round_id", r.ID), zap.String("handle", handle), zap.Error(err))
		return false, nil
	}
	if !confirmed {
		c.Metrics.LedgerFailures.WithLabelValues("rejected_" + string(kind)).Inc()
		c.Log.Warn("ledger tx failed, resubmitting next tick", zap.Uint64("round_id", r.ID), zap.String("handle", handle))
		abort := c.Machine.AbortCloseSubmission
		if kind == round.TxSubmitWinner {
			abort = c.Machine.AbortWinnerSubmission
		}
		_, err := abort(ctx, r.ID)
		return false, err
	}

	if kind == round.TxCloseBetting {
		_, err = c.Machine.ConfirmClose(ctx, r.ID)
	} else {
		_, err = c.Machine.ConfirmWinner(ctx, r.ID)
	}
	if err != nil {
		return false, err
	}
	c.Log.Info("ledger tx confirmed", zap.Uint64("round_id", r.ID), zap.String("tx", string(kind)))
	return true, nil
}

func (c *Crank) seedStep(ctx context.Context, r *round.Round, tag randomness.Tag) (bool, error) {
	handle := randomness.Handle(r.EliminationRequest)
	if tag == randomness.TagWinner {
		handle = randomness.Handle(r.WinnerRequest)
	}

	if handle == "" {
		// um pedido feito antes de um crash é reaproveitado
		req, err := c.Broker.Lookup(ctx, r.ID, tag)
		switch {
		case err == nil:
			handle = req.ID
		case errors.Is(err, randomness.ErrRequestNotFound):
			if handle, err = c.Broker.Request(ctx, r.ID, tag); err != nil {
				c.Health.Failure(ctx, health.ComponentRandomness, err)
				return false, nil
			}
		default:
			return false, err
		}
		if _, err := c.Machine.RecordRandomnessRequest(ctx, r.ID, tag, handle); err != nil {
			return false, err
		}
		return true, nil
	}

	ready, err := c.Broker.PollFulfillment(ctx, handle)
	if err != nil {
		if round.IsFatal(err) {
			return false, err
		}
		c.Health.Failure(ctx, health.ComponentRandomness, err)
		return false, nil
	}
	if !ready {
		if r.RandomnessExpired(c.Clock.Now(), c.Machine.Params().RandomnessTimeout) {
			c.Health.Degraded(ctx, health.ComponentRandomness,
				fmt.Sprintf("round %d %s seed overdue; force-reset allowed", r.ID, tag))
		}
		return false, nil
	}
	c.Health.Success(ctx, health.ComponentRandomness, "", 0)

	seed, err := c.Broker.ConsumeSeed(ctx, handle)
	if err != nil {
		return false, err
	}
	if tag == randomness.TagElimination {
		_, err = c.Machine.ApplyElimination(ctx, r.ID, seed)
	} else {
		_, err = c.Machine.ResolveWinner(ctx, r.ID, seed)
	}
	if err != nil && !round.IsFatal(err) {
		// a seed já foi consumida: o próximo tick interrompe a rodada por reuso
		c.Metrics.RandomnessAnomaly.WithLabelValues("seed_unapplied").Inc()
		c.Health.Failure(ctx, health.ComponentRandomness, err)
		c.Log.Error("seed consumed but selection not applied",
			zap.Uint64("round_id", r.ID), zap.String("tag", string(tag)),
			zap.String("handle", string(handle)), zap.Error(err))
		return false, fmt.Errorf("apply %s seed: %w", tag, err)
	}
	return err == nil, err
}

func (c *Crank) payAndFinalize(ctx context.Context, r *round.Round) (bool, error) {
	if len(r.PendingPayouts()) > 0 {
		rep, err := c.Payouts.Distribute(ctx, r.ID)
		if err != nil {
			c.Health.Failure(ctx, health.ComponentPayouts, err)
			return false, nil
		}
		if n := rep.Failed(); n > 0 {
			c.Health.Degraded(ctx, health.ComponentPayouts, fmt.Sprintf("round %d: %d payouts waiting for claim", r.ID, n))
		} else {
			c.Health.Success(ctx, health.ComponentPayouts, "", 0)
		}
	}

	_, err := c.Machine.Finalize(ctx, r.ID)
	if errors.Is(err, round.ErrPayoutsPending) {
		return false, nil
	}
	return err == nil, err
}

func (c *Crank) halt(ctx context.Context, roundID uint64, cause error) {
	c.Log.Error("invariant violation, halting round", zap.Uint64("round_id", roundID), zap.Error(cause))
	if _, err := c.Machine.Halt(ctx, roundID, cause.Error()); err != nil {
		c.Log.Error("halt round", zap.Uint64("round_id", roundID), zap.Error(err))
		return
	}
	c.Metrics.RoundsHalted.Inc()
}

// prune remove rodadas encerradas há mais de ArchiveAfter
func (c *Crank) prune(ctx context.Context) error {
	if c.opts.ArchiveAfter <= 0 {
		return nil
	}
	ids, err := c.Rounds.ListFinishedBefore(ctx, c.Clock.Now().Add(-c.opts.ArchiveAfter), pruneBatch)
	if err != nil {
		return fmt.Errorf("list archived rounds: %w", err)
	}
	for _, id := range ids {
		if err := c.Rounds.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete round %d: %w", id, err)
		}
		c.Log.Info("round archived", zap.Uint64("round_id", id))
	}
	return nil
}

func (c *Crank) recordRoundHealth(ctx context.Context, r *round.Round) {
	p := c.Machine.Params()
	stuck, reason := health.CheckRound(r, c.Clock.Now(), health.Expectations{
		Grace:             c.opts.StuckGrace,
		RandomnessTimeout: p.RandomnessTimeout,
		EmergencyTimeout:  p.EmergencyTimeout,
	})
	if stuck {
		c.Metrics.StuckRounds.Set(1)
		c.Health.Degraded(ctx, health.ComponentRound, fmt.Sprintf("round %d stuck: %s", r.ID, reason))
		return
	}
	c.Metrics.StuckRounds.Set(0)
	detail := "no active round"
	if r != nil {
		detail = fmt.Sprintf("round %d %s/%s", r.ID, r.Phase, r.Awaiting)
	}
	c.Health.Success(ctx, health.ComponentRound, detail, 0)
}

// renewLease estende o lease do tick antes de um envio ao ledger
func (c *Crank) renewLease(ctx context.Context) error {
	token, ok := ctx.Value(leaseKey{}).(string)
	if !ok {
		return nil
	}
	held, err := c.Locker.Extend(ctx, lockKey, token, c.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("extend tick lease: %w", err)
	}
	if !held {
		return ErrLeaseLost
	}
	return nil
}

// retry repete fn com backoff linear no relógio injetado
func (c *Crank) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for i := 0; i < c.opts.RetryAttempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		c.Metrics.LedgerFailures.WithLabelValues(op).Inc()
		if i == c.opts.RetryAttempts-1 {
			break
		}
		backoff := c.opts.RetryBackoff * time.Duration(i+1)
		if backoff <= 0 {
			continue
		}
		t := c.Clock.NewTimer(backoff, "crank", "retry")
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
