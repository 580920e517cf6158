package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/radieske/arena-wager-platform/internal/shared/db"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

// Credit soma ao saldo e registra o movimento no wallet_ledger.
// A ref é a chave do movimento: repetir a ref não credita de novo.
func (s *Store) Credit(ctx context.Context, bettor string, amount uint64, ref string) (uint64, error) {
	return s.move(ctx, bettor, amount, ref, "CREDIT")
}

// Debit subtrai do saldo com lock pessimista na linha da carteira
func (s *Store) Debit(ctx context.Context, bettor string, amount uint64, ref string) (uint64, error) {
	return s.move(ctx, bettor, amount, ref, "DEBIT")
}

func (s *Store) Balance(ctx context.Context, bettor string) (uint64, error) {
	var bal string
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE bettor = $1`, bettor).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseNumeric(bal)
}

func (s *Store) move(ctx context.Context, bettor string, amount uint64, ref, op string) (uint64, error) {
	var newBalance uint64
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (bettor) VALUES ($1) ON CONFLICT (bettor) DO NOTHING`, bettor); err != nil {
			return err
		}

		var raw string
		if err := tx.QueryRowContext(ctx,
			`SELECT balance FROM wallets WHERE bettor = $1 FOR UPDATE`, bettor).Scan(&raw); err != nil {
			return err
		}
		bal, err := parseNumeric(raw)
		if err != nil {
			return err
		}
		newBalance = bal

		res, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_ledger (ref, bettor, operation_type, amount) VALUES ($1, $2, $3, $4)
			ON CONFLICT (ref) DO NOTHING`, ref, bettor, op, numeric(amount))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// já aplicado
			return nil
		}

		if op == "DEBIT" && bal < amount {
			return wallet.ErrInsufficientBalance
		}
		sign := "+"
		if op == "DEBIT" {
			sign = "-"
		}
		if err := tx.QueryRowContext(ctx, `
			UPDATE wallets SET balance = balance `+sign+` $2::numeric, version = version + 1, updated_at = now()
			WHERE bettor = $1 RETURNING balance`, bettor, numeric(amount)).Scan(&raw); err != nil {
			return err
		}
		newBalance, err = parseNumeric(raw)
		return err
	})
	return newBalance, err
}
