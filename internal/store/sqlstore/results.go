package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cratemind/internal/store"
)

func decodeResult(body sql.NullString) (store.Result, error) {
	var r store.Result
	if err := unmarshalJSON(body, &r); err != nil {
		return store.Result{}, err
	}
	return r, nil
}

func (s *Store) GetResult(ctx context.Context, itemID string) (store.Result, error) {
	var body sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), "SELECT body_json FROM results WHERE item_id = ?", itemID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Result{}, store.ErrNotFound
	}
	if err != nil {
		return store.Result{}, translate(fmt.Errorf("get result: %w", err))
	}
	return decodeResult(body)
}

func (s *Store) SaveResult(ctx context.Context, result store.Result, expectedVersion int64) (store.Result, error) {
	saved := result.Clone()
	saved.Version = expectedVersion + 1
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, "SELECT version FROM results WHERE item_id = ?", result.ItemID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read result version: %w", err)
		}
		if current != expectedVersion {
			return fmt.Errorf("%w: item %s at version %d, expected %d",
				store.ErrVersionConflict, result.ItemID, current, expectedVersion)
		}
		body, err := marshalJSON(saved)
		if err != nil {
			return err
		}
		updated := formatTime(saved.UpdatedAt)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (item_id, version, status, body_json, updated_at) VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(item_id) DO UPDATE SET
                version = excluded.version,
                status = excluded.status,
                body_json = excluded.body_json,
                updated_at = excluded.updated_at`,
			saved.ItemID, saved.Version, string(saved.Status), body, updated,
		); err != nil {
			return fmt.Errorf("upsert result: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO result_history (item_id, version, status, body_json, updated_at) VALUES (?, ?, ?, ?, ?)`,
			saved.ItemID, saved.Version, string(saved.Status), body, updated,
		); err != nil {
			return fmt.Errorf("append result history: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Result{}, err
	}
	return saved, nil
}

func (s *Store) ResultsAsOf(ctx context.Context, at time.Time) ([]store.Result, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT h.body_json FROM result_history h
         JOIN (
            SELECT item_id, MAX(version) AS version FROM result_history
            WHERE updated_at <= ? GROUP BY item_id
         ) latest ON latest.item_id = h.item_id AND latest.version = h.version
         ORDER BY h.item_id`, formatTime(at))
	if err != nil {
		return nil, translate(fmt.Errorf("results as of: %w", err))
	}
	return collectResults(rows)
}

func (s *Store) ListResultsByStatus(ctx context.Context, statuses ...store.Status) ([]store.Result, error) {
	query := "SELECT body_json FROM results"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		for _, st := range statuses {
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + makePlaceholders(len(args)) + ")"
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query+" ORDER BY item_id", args...)
	if err != nil {
		return nil, translate(fmt.Errorf("list results: %w", err))
	}
	return collectResults(rows)
}

func collectResults(rows *sql.Rows) ([]store.Result, error) {
	defer rows.Close()
	var out []store.Result
	for rows.Next() {
		var body sql.NullString
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r, err := decodeResult(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, translate(rows.Err())
}
