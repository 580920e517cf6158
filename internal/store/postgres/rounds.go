package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/shared/db"
)

func (s *Store) NextRoundID(ctx context.Context) (uint64, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx, `SELECT last_round FROM round_registry`).Scan(&last); err != nil {
		return 0, err
	}
	return uint64(last) + 1, nil
}

// Create grava a rodada e a torna ativa, na mesma transação
func (s *Store) Create(ctx context.Context, r *round.Round) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var active sql.NullInt64
		var last int64
		if err := tx.QueryRowContext(ctx,
			`SELECT active_round, last_round FROM round_registry FOR UPDATE`).Scan(&active, &last); err != nil {
			return err
		}
		if active.Valid {
			return round.ErrActiveRoundExists
		}
		if r.ID <= uint64(last) {
			return fmt.Errorf("%w: round %d already exists", round.ErrRoundMismatch, r.ID)
		}

		c := r.Clone()
		c.Version = 1
		state, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rounds (id, version, phase, winner, created_at, state)
			VALUES ($1, 1, $2, $3, $4, $5)`,
			int64(r.ID), string(r.Phase), r.Winner, r.CreatedAt, state); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: round %d already exists", round.ErrRoundMismatch, r.ID)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE round_registry SET active_round = $1, last_round = $1`, int64(r.ID)); err != nil {
			return err
		}
		r.Version = 1
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id uint64) (*round.Round, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM rounds WHERE id = $1`, int64(id)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", round.ErrRoundNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRound(state)
}

func (s *Store) Active(ctx context.Context) (*round.Round, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT r.state FROM round_registry g
		JOIN rounds r ON r.id = g.active_round`).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, round.ErrNoActiveRound
	}
	if err != nil {
		return nil, err
	}
	return decodeRound(state)
}

// Save grava com CAS em version; eventID entra em processed_events na mesma transação
func (s *Store) Save(ctx context.Context, r *round.Round, eventID string) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var version int64
		var winner string
		err := tx.QueryRowContext(ctx,
			`SELECT version, winner FROM rounds WHERE id = $1 FOR UPDATE`, int64(r.ID)).Scan(&version, &winner)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", round.ErrRoundNotFound, r.ID)
		}
		if err != nil {
			return err
		}
		if version != r.Version {
			return round.ErrConcurrentUpdate
		}
		if winner != "" && winner != r.Winner {
			return fmt.Errorf("%w: %q already stored", round.ErrDuplicateWinner, winner)
		}

		if eventID != "" {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO processed_events (event_id, outcome) VALUES ($1, 'applied')
				ON CONFLICT (event_id) DO NOTHING`, eventID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return round.ErrDuplicateEvent
			}
		}

		c := r.Clone()
		c.Version++
		state, err := json.Marshal(c)
		if err != nil {
			return err
		}
		var finished *time.Time
		if !c.FinishedAt.IsZero() {
			finished = &c.FinishedAt
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE rounds SET version = $2, phase = $3, winner = $4, finished_at = $5, state = $6
			WHERE id = $1`,
			int64(c.ID), c.Version, string(c.Phase), c.Winner, finished, state); err != nil {
			return err
		}

		if c.Phase.Terminal() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE round_registry SET active_round = NULL WHERE active_round = $1`, int64(c.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.Version++
	return nil
}

func (s *Store) EventApplied(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&ok)
	return ok, err
}

func (s *Store) RecordEvent(ctx context.Context, eventID, outcome string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, outcome) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, outcome)
	return err
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]*round.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state FROM rounds ORDER BY id DESC LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*round.Round
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, err
		}
		r, err := decodeRound(state)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListFinishedBefore(ctx context.Context, before time.Time, limit int) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM rounds
		WHERE phase = 'finished' AND finished_at < $1
		ORDER BY id LIMIT $2`, before, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// Delete remove uma rodada encerrada e os pedidos de aleatoriedade dela
func (s *Store) Delete(ctx context.Context, id uint64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var phase string
		err := tx.QueryRowContext(ctx, `SELECT phase FROM rounds WHERE id = $1 FOR UPDATE`, int64(id)).Scan(&phase)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if !round.Phase(phase).Terminal() {
			return fmt.Errorf("%w: delete round %d in phase %s", round.ErrInvalidTransition, id, phase)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM randomness_requests WHERE round_id = $1`, int64(id)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM rounds WHERE id = $1`, int64(id))
		return err
	})
}

func decodeRound(state []byte) (*round.Round, error) {
	var r round.Round
	if err := json.Unmarshal(state, &r); err != nil {
		return nil, fmt.Errorf("decode round state: %w", err)
	}
	return &r, nil
}
