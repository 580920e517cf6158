// Package consumer aplica na máquina de estados os eventos que o ledger
// externo publica no Kafka.
package consumer

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/ledger"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/shared/kafka"
	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

// Resultado por mensagem, usado no label das métricas
const (
	ResultApplied  = "applied"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultFailed   = "failed"
	ResultFatal    = "fatal"
)

type Reader interface {
	kafka.MessageFetcher
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Applier é satisfeito por *round.Machine. Halt é chamado quando o evento
// viola um invariante da rodada.
type Applier interface {
	ApplyLedgerEvent(ctx context.Context, ev ledger.Event) error
	Halt(ctx context.Context, id uint64, reason string) (*round.Round, error)
}

// Processor lê, aplica e commita; o offset só avança depois que o evento foi
// aplicado ou mandado para a DLQ
type Processor struct {
	Log     *zap.Logger
	Reader  Reader
	Machine Applier
	DLQ     kafka.MessageWriter // opcional
	Clock   quartz.Clock

	Retries int
	Backoff time.Duration // multiplicado pela tentativa

	OnResult func(kind, result string) // métricas
}

func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := kafka.FetchNext(ctx, p.Reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.sleep(ctx, 500*time.Millisecond)
			continue
		}
		p.Handle(ctx, m)
		if err := p.Reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			p.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// Handle processa uma mensagem e devolve o resultado
func (p *Processor) Handle(ctx context.Context, m kafka.Message) string {
	ev, err := ledger.Decode(m.Value)
	if err != nil {
		p.Log.Warn("invalid ledger event", zap.ByteString("key", m.Key), zap.Error(err))
		p.deadLetter(ctx, m, err, 1)
		p.result("unknown", ResultInvalid)
		return ResultInvalid
	}

	attempts := 0
	for {
		attempts++
		err = p.Machine.ApplyLedgerEvent(ctx, ev)
		if err == nil || round.IsRejected(err) || round.IsFatal(err) || attempts > p.Retries || ctx.Err() != nil {
			break
		}
		p.Log.Warn("apply ledger event failed, retrying",
			zap.String("event_id", ev.ID), zap.Int("attempt", attempts), zap.Error(err))
		p.sleep(ctx, p.Backoff*time.Duration(attempts))
	}

	kind := string(ev.Kind)
	switch {
	case err == nil:
		p.Log.Debug("ledger event applied", zap.String("event_id", ev.ID), zap.String("kind", kind))
		p.result(kind, ResultApplied)
		return ResultApplied
	case round.IsFatal(err):
		p.Log.Error("invariant violation, halting round", zap.String("event_id", ev.ID),
			zap.Uint64("round_id", ev.RoundID), zap.Error(err))
		if _, herr := p.Machine.Halt(ctx, ev.RoundID, err.Error()); herr != nil {
			p.Log.Error("halt round", zap.Uint64("round_id", ev.RoundID), zap.Error(herr))
		}
		p.deadLetter(ctx, m, err, attempts)
		p.result(kind, ResultFatal)
		return ResultFatal
	case round.IsRejected(err):
		p.deadLetter(ctx, m, err, attempts)
		p.result(kind, ResultRejected)
		return ResultRejected
	default:
		p.Log.Error("ledger event failed", zap.String("event_id", ev.ID),
			zap.Uint64("round_id", ev.RoundID), zap.Int("attempts", attempts), zap.Error(err))
		p.deadLetter(ctx, m, err, attempts)
		p.result(kind, ResultFailed)
		return ResultFailed
	}
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, cause error, attempts int) {
	if p.DLQ == nil {
		return
	}
	failure := events.LedgerEventFailure{
		Key:      string(m.Key),
		Raw:      string(m.Value),
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: p.Clock.Now(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := kafka.WriteJSON(ctx, p.DLQ, string(m.Key), failure); err != nil {
		p.Log.Error("dlq publish failed", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

func (p *Processor) result(kind, result string) {
	if p.OnResult != nil {
		p.OnResult(kind, result)
	}
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := p.Clock.NewTimer(d, "ledger-worker", "backoff")
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
