package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/radieske/arena-wager-platform/internal/txqueue"
)

const txColumns = `id, kind, bettor, amount, priority, status, attempts, last_error,
	external_ref, compensated, archived, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) InsertTx(ctx context.Context, tx txqueue.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID, string(tx.Kind), tx.Bettor, numeric(tx.Amount), tx.Priority, string(tx.Status), tx.Attempts,
		tx.LastError, tx.ExternalRef, tx.Compensated, tx.Archived, tx.CreatedAt, tx.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate tx %s", txqueue.ErrInvalidState, tx.ID)
	}
	return err
}

func (s *Store) GetTx(ctx context.Context, id string) (txqueue.Transaction, error) {
	tx, err := scanTx(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return txqueue.Transaction{}, txqueue.ErrNotFound
	}
	return tx, err
}

// ClaimQueued usa SKIP LOCKED para dois cranks não pegarem o mesmo item
func (s *Store) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]txqueue.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE ledger_transactions SET status = 'processing', updated_at = $2
		WHERE id IN (
			SELECT id FROM ledger_transactions
			WHERE status = 'queued'
			ORDER BY priority DESC, created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+txColumns, limitArg(limit), now)
	if err != nil {
		return nil, err
	}
	out, err := collectTx(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING não garante ordem
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) UpdateTx(ctx context.Context, tx txqueue.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_transactions SET
			status = $2, attempts = $3, last_error = $4, external_ref = $5,
			compensated = $6, archived = $7, updated_at = $8
		WHERE id = $1`,
		tx.ID, string(tx.Status), tx.Attempts, tx.LastError, tx.ExternalRef, tx.Compensated, tx.Archived, tx.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return txqueue.ErrNotFound
	}
	return nil
}

func (s *Store) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_transactions SET status = 'queued'
		WHERE status = 'processing' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) ListUnarchivedFailed(ctx context.Context, limit int) ([]txqueue.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM ledger_transactions
		WHERE status = 'failed' AND NOT archived
		ORDER BY updated_at, id
		LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectTx(rows)
}

func (s *Store) ListTx(ctx context.Context, bettor string, limit int) ([]txqueue.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM ledger_transactions
		WHERE $1 = '' OR bettor = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, bettor, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectTx(rows)
}

func collectTx(rows *sql.Rows) ([]txqueue.Transaction, error) {
	defer rows.Close()
	var out []txqueue.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTx(row scanner) (txqueue.Transaction, error) {
	var (
		tx           txqueue.Transaction
		kind, status string
		amount       string
	)
	if err := row.Scan(&tx.ID, &kind, &tx.Bettor, &amount, &tx.Priority, &status, &tx.Attempts, &tx.LastError,
		&tx.ExternalRef, &tx.Compensated, &tx.Archived, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return txqueue.Transaction{}, err
	}
	v, err := parseNumeric(amount)
	if err != nil {
		return txqueue.Transaction{}, err
	}
	tx.Kind = txqueue.Kind(kind)
	tx.Status = txqueue.Status(status)
	tx.Amount = v
	return tx, nil
}
