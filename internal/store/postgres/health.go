package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/radieske/arena-wager-platform/internal/health"
)

func (s *Store) PutHealth(ctx context.Context, rec health.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_records (component, status, consecutive_errors, last_error, detail, latency_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (component) DO UPDATE SET
			status = EXCLUDED.status,
			consecutive_errors = EXCLUDED.consecutive_errors,
			last_error = EXCLUDED.last_error,
			detail = EXCLUDED.detail,
			latency_ms = EXCLUDED.latency_ms,
			updated_at = EXCLUDED.updated_at`,
		rec.Component, string(rec.Status), rec.ConsecutiveErrors, rec.LastError, rec.Detail, rec.LatencyMs, rec.UpdatedAt)
	return err
}

func (s *Store) GetHealth(ctx context.Context, component string) (health.Record, error) {
	var rec health.Record
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT component, status, consecutive_errors, last_error, detail, latency_ms, updated_at
		FROM health_records WHERE component = $1`, component).
		Scan(&rec.Component, &status, &rec.ConsecutiveErrors, &rec.LastError, &rec.Detail, &rec.LatencyMs, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return health.Record{}, health.ErrNotFound
	}
	rec.Status = health.Status(status)
	return rec, err
}

func (s *Store) ListHealth(ctx context.Context) ([]health.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT component, status, consecutive_errors, last_error, detail, latency_ms, updated_at
		FROM health_records ORDER BY component`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []health.Record
	for rows.Next() {
		var rec health.Record
		var status string
		if err := rows.Scan(&rec.Component, &status, &rec.ConsecutiveErrors, &rec.LastError,
			&rec.Detail, &rec.LatencyMs, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = health.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}
