package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/radieske/arena-wager-platform/internal/randomness"
)

const requestColumns = `id, round_id, tag, oracle_ref, seed, fulfilled, consumed, requested_at, fulfilled_at, consumed_at`

func (s *Store) CreateRequest(ctx context.Context, req randomness.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO randomness_requests (id, round_id, tag, oracle_ref, requested_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(req.ID), int64(req.RoundID), string(req.Tag), req.OracleRef, req.RequestedAt)
	if isUniqueViolation(err) {
		return randomness.ErrDuplicateRequest
	}
	return err
}

func (s *Store) GetRequest(ctx context.Context, id randomness.Handle) (randomness.Request, error) {
	return scanRequest(s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM randomness_requests WHERE id = $1`, string(id)))
}

func (s *Store) FindRequest(ctx context.Context, roundID uint64, tag randomness.Tag) (randomness.Request, error) {
	return scanRequest(s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM randomness_requests WHERE round_id = $1 AND tag = $2`,
		int64(roundID), string(tag)))
}

// MarkFulfilled grava a seed só na primeira vez
func (s *Store) MarkFulfilled(ctx context.Context, id randomness.Handle, seed []byte, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE randomness_requests SET fulfilled = TRUE, seed = $2, fulfilled_at = $3
		WHERE id = $1 AND NOT fulfilled`, string(id), seed, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	_, err = s.GetRequest(ctx, id)
	return err
}

// MarkConsumed é condicional: só um chamador vê a linha passar para consumed
func (s *Store) MarkConsumed(ctx context.Context, id randomness.Handle, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE randomness_requests SET consumed = TRUE, consumed_at = $2
		WHERE id = $1 AND fulfilled AND NOT consumed`, string(id), at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !req.Fulfilled {
		return randomness.ErrSeedNotFulfilled
	}
	return randomness.ErrSeedAlreadyConsumed
}

func scanRequest(row *sql.Row) (randomness.Request, error) {
	var (
		r                       randomness.Request
		id, tag                 string
		roundID                 int64
		fulfilledAt, consumedAt sql.NullTime
	)
	err := row.Scan(&id, &roundID, &tag, &r.OracleRef, &r.Seed, &r.Fulfilled, &r.Consumed,
		&r.RequestedAt, &fulfilledAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return randomness.Request{}, randomness.ErrRequestNotFound
	}
	if err != nil {
		return randomness.Request{}, err
	}
	r.ID = randomness.Handle(id)
	r.RoundID = uint64(roundID)
	r.Tag = randomness.Tag(tag)
	r.FulfilledAt = fulfilledAt.Time
	r.ConsumedAt = consumedAt.Time
	return r, nil
}
