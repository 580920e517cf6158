// Package txqueue é a fila de depósitos e saques enviados ao gateway externo.
//
// Estados: queued → processing → completed | failed. Um saque debita o saldo
// disponível já na entrada da fila; se falhar, o valor é devolvido ao saldo
// antes do item ser arquivado. Um depósito só credita o saldo ao completar.
package txqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/wallet"
)

var (
	ErrInsufficientBalance = wallet.ErrInsufficientBalance
	ErrInvalidState        = errors.New("transaction in invalid state")
	ErrNotFound            = errors.New("transaction not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Transaction struct {
	ID          string
	Kind        Kind
	Bettor      string
	Amount      uint64
	Priority    int
	Status      Status
	Attempts    int
	LastError   string
	ExternalRef string
	Compensated bool
	Archived    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persiste a fila. ClaimQueued move até limit itens de queued para
// processing de forma atômica (prioridade desc, mais antigos primeiro).
// ListUnarchivedFailed devolve itens failed ainda não arquivados, mais antigos primeiro.
type Store interface {
	InsertTx(ctx context.Context, tx Transaction) error
	GetTx(ctx context.Context, id string) (Transaction, error)
	ClaimQueued(ctx context.Context, limit int, now time.Time) ([]Transaction, error)
	UpdateTx(ctx context.Context, tx Transaction) error
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)
	ListUnarchivedFailed(ctx context.Context, limit int) ([]Transaction, error)
	ListTx(ctx context.Context, bettor string, limit int) ([]Transaction, error)
}

type Queue struct {
	store    Store
	balances wallet.Balances
	gateway  wallet.Transferer
	clock    quartz.Clock
	log      *zap.Logger

	// itens em processing há mais que isso voltam para a fila
	StaleAfter time.Duration

	OnOutcome func(kind Kind, status Status) // métricas
}

func New(store Store, balances wallet.Balances, gateway wallet.Transferer, clock quartz.Clock, log *zap.Logger) *Queue {
	return &Queue{store: store, balances: balances, gateway: gateway, clock: clock, log: log, StaleAfter: 5 * time.Minute}
}

// Enqueue coloca uma transação na fila; saques debitam o saldo na hora
func (q *Queue) Enqueue(ctx context.Context, kind Kind, bettor string, amount uint64, priority int) (Transaction, error) {
	if amount == 0 {
		return Transaction{}, ErrInvalidAmount
	}
	if kind != KindDeposit && kind != KindWithdrawal {
		return Transaction{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidState, kind)
	}
	now := q.clock.Now()
	tx := Transaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Bettor:    bettor,
		Amount:    amount,
		Priority:  priority,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if kind == KindWithdrawal {
		if _, err := q.balances.Debit(ctx, bettor, amount, "withdrawal:"+tx.ID); err != nil {
			return Transaction{}, err
		}
	}
	if err := q.store.InsertTx(ctx, tx); err != nil {
		if kind == KindWithdrawal {
			if _, cerr := q.balances.Credit(ctx, bettor, amount, "compensate:"+tx.ID); cerr != nil {
				q.log.Error("compensate failed enqueue", zap.String("tx_id", tx.ID), zap.Error(cerr))
			}
		}
		return Transaction{}, err
	}

	q.log.Info("ledger tx queued", zap.String("tx_id", tx.ID), zap.String("kind", string(kind)),
		zap.String("bettor", bettor), zap.Uint64("amount", amount))
	return tx, nil
}

type Report struct {
	Completed int
	Failed    int
	Requeued  int
	Recovered int
}

// ProcessBatch executa até limit itens da fila contra o gateway
func (q *Queue) ProcessBatch(ctx context.Context, limit int) (Report, error) {
	var rep Report
	now := q.clock.Now()

	if q.StaleAfter > 0 {
		n, err := q.store.RequeueStale(ctx, now.Add(-q.StaleAfter))
		if err != nil {
			return rep, fmt.Errorf("requeue stale: %w", err)
		}
		if n > 0 {
			q.log.Warn("requeued stale ledger txs", zap.Int("count", n))
		}
		rep.Requeued = n
	}

	// falhas cuja compensação não terminou em um lote anterior
	pending, err := q.store.ListUnarchivedFailed(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("list unarchived failed: %w", err)
	}
	var errs []error
	for _, tx := range pending {
		if err := q.compensateAndArchive(ctx, tx); err != nil {
			q.log.Error("compensation retry failed", zap.String("tx_id", tx.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		q.log.Info("failed ledger tx compensated", zap.String("tx_id", tx.ID), zap.String("bettor", tx.Bettor))
		rep.Recovered++
	}

	batch, err := q.store.ClaimQueued(ctx, limit, now)
	if err != nil {
		return rep, errors.Join(append(errs, fmt.Errorf("claim queued: %w", err))...)
	}

	for _, tx := range batch {
		if err := q.process(ctx, tx); err != nil {
			errs = append(errs, err)
			continue
		}
		if got, _ := q.store.GetTx(ctx, tx.ID); got.Status == StatusCompleted {
			rep.Completed++
		} else {
			rep.Failed++
		}
	}
	return rep, errors.Join(errs...)
}

func (q *Queue) process(ctx context.Context, tx Transaction) error {
	tx.Attempts++
	ref, terr := q.gateway.Transfer(ctx, wallet.TransferRequest{
		Ref:       tx.ID,
		Bettor:    tx.Bettor,
		Amount:    tx.Amount,
		Direction: wallet.Direction(tx.Kind),
	})
	tx.UpdatedAt = q.clock.Now()

	if terr == nil {
		if tx.Kind == KindDeposit {
			if _, err := q.balances.Credit(ctx, tx.Bettor, tx.Amount, "deposit:"+tx.ID); err != nil {
				// fica em processing; RequeueStale tenta de novo e o crédito é idempotente
				return fmt.Errorf("credit deposit %s: %w", tx.ID, err)
			}
		}
		tx.Status = StatusCompleted
		tx.ExternalRef = ref
		tx.Archived = true
		if err := q.store.UpdateTx(ctx, tx); err != nil {
			return err
		}
		q.outcome(tx)
		return nil
	}

	tx.Status = StatusFailed
	tx.LastError = terr.Error()
	if err := q.store.UpdateTx(ctx, tx); err != nil {
		return err
	}
	q.log.Warn("ledger tx failed", zap.String("tx_id", tx.ID), zap.String("kind", string(tx.Kind)), zap.Error(terr))
	q.outcome(tx)
	return q.compensateAndArchive(ctx, tx)
}

// compensateAndArchive devolve o saque ao saldo e só então arquiva
func (q *Queue) compensateAndArchive(ctx context.Context, tx Transaction) error {
	if tx.Status != StatusFailed {
		return ErrInvalidState
	}
	if tx.Kind == KindWithdrawal && !tx.Compensated {
		if _, err := q.balances.Credit(ctx, tx.Bettor, tx.Amount, "compensate:"+tx.ID); err != nil {
			return fmt.Errorf("compensate %s: %w", tx.ID, err)
		}
		tx.Compensated = true
	}
	tx.Archived = true
	tx.UpdatedAt = q.clock.Now()
	return q.store.UpdateTx(ctx, tx)
}

// Recover termina a compensação de itens falhos ainda não arquivados
func (q *Queue) Recover(ctx context.Context, id string) error {
	tx, err := q.store.GetTx(ctx, id)
	if err != nil {
		return err
	}
	if tx.Archived {
		return nil
	}
	return q.compensateAndArchive(ctx, tx)
}

func (q *Queue) Get(ctx context.Context, id string) (Transaction, error) {
	return q.store.GetTx(ctx, id)
}

func (q *Queue) List(ctx context.Context, bettor string, limit int) ([]Transaction, error) {
	return q.store.ListTx(ctx, bettor, limit)
}

func (q *Queue) outcome(tx Transaction) {
	if q.OnOutcome != nil {
		q.OnOutcome(tx.Kind, tx.Status)
	}
}
