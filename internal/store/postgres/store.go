// Package postgres implementa os stores do domínio sobre Postgres (lib/pq).
// O agregado da rodada é gravado como JSONB com colunas de índice ao lado;
// o controle de concorrência é a coluna version.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/radieske/arena-wager-platform/internal/health"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

const uniqueViolation = "23505"

type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

var (
	_ round.Store      = (*Store)(nil)
	_ randomness.Store = (*Store)(nil)
	_ health.Store     = (*Store)(nil)
	_ txqueue.Store    = (*Store)(nil)
	_ wallet.Balances  = (*Store)(nil)
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// valores são NUMERIC(20,0) para caber em uint64
func numeric(v uint64) string { return strconv.FormatUint(v, 10) }

func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

// limitArg devolve NULL (sem limite) para limit <= 0
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
