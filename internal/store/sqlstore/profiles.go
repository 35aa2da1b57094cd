package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cratemind/internal/store"
)

func (s *Store) CurrentProfiles(ctx context.Context) (int64, []store.EntityProfile, error) {
	ctx = ensureContext(ctx)
	var (
		version  int64
		profiles []store.EntityProfile
	)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := tx.QueryRowContext(ctx, "SELECT version FROM profile_state WHERE id = 1").Scan(&version); err != nil {
			return fmt.Errorf("read profile version: %w", err)
		}
		rows, err := tx.QueryContext(ctx, "SELECT body_json FROM entity_profiles ORDER BY entity_key")
		if err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		defer rows.Close()
		profiles = profiles[:0]
		for rows.Next() {
			var body sql.NullString
			if err := rows.Scan(&body); err != nil {
				return fmt.Errorf("scan profile: %w", err)
			}
			var p store.EntityProfile
			if err := unmarshalJSON(body, &p); err != nil {
				return err
			}
			profiles = append(profiles, p)
		}
		return rows.Err()
	})
	if err != nil {
		return 0, nil, translate(err)
	}
	return version, profiles, nil
}

func (s *Store) PublishProfiles(ctx context.Context, run store.DiscoveryRun, version int64, profiles []store.EntityProfile) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		if err := tx.QueryRowContext(ctx, "SELECT version FROM profile_state WHERE id = 1").Scan(&current); err != nil {
			return fmt.Errorf("read profile version: %w", err)
		}
		if current != version-1 {
			return fmt.Errorf("%w: profiles at version %d, publishing %d", store.ErrVersionConflict, current, version)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entity_profiles"); err != nil {
			return fmt.Errorf("clear profiles: %w", err)
		}
		for _, p := range profiles {
			body, err := marshalJSON(p)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO entity_profiles (entity_key, version, body_json) VALUES (?, ?, ?)",
				p.EntityKey, version, body,
			); err != nil {
				return fmt.Errorf("insert profile %s: %w", p.EntityKey, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "UPDATE profile_state SET version = ? WHERE id = 1", version); err != nil {
			return fmt.Errorf("advance profile version: %w", err)
		}
		if err := updateRun(ctx, tx, run); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM staged_entities WHERE run_id = ?", run.ID); err != nil {
			return fmt.Errorf("clear staged entities: %w", err)
		}
		return nil
	})
}

const runColumns = "id, snapshot_at, started_at, finished_at, status, base_version, published_version, processed, profiled, skipped, error_message"

func scanRun(row scanner) (store.DiscoveryRun, error) {
	var (
		run                               store.DiscoveryRun
		snapshotAt, startedAt, finishedAt sql.NullString
		status                            string
		errMsg                            sql.NullString
	)
	if err := row.Scan(&run.ID, &snapshotAt, &startedAt, &finishedAt, &status, &run.BaseVersion,
		&run.PublishedVersion, &run.Processed, &run.Profiled, &run.Skipped, &errMsg); err != nil {
		return store.DiscoveryRun{}, err
	}
	run.SnapshotAt = parseTime(snapshotAt)
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	run.Status = store.RunStatus(status)
	run.Error = errMsg.String
	return run, nil
}

func (s *Store) CreateRun(ctx context.Context, run store.DiscoveryRun) error {
	return s.exec(ctx,
		`INSERT INTO discovery_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.SnapshotAt), formatTime(run.StartedAt), nullableTime(run.FinishedAt), string(run.Status),
		run.BaseVersion, run.PublishedVersion, run.Processed, run.Profiled, run.Skipped, nullableString(run.Error),
	)
}

func updateRun(ctx context.Context, tx *sql.Tx, run store.DiscoveryRun) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE discovery_runs SET finished_at = ?, status = ?, base_version = ?, published_version = ?,
            processed = ?, profiled = ?, skipped = ?, error_message = ? WHERE id = ?`,
		nullableTime(run.FinishedAt), string(run.Status), run.BaseVersion, run.PublishedVersion,
		run.Processed, run.Profiled, run.Skipped, nullableString(run.Error), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run store.DiscoveryRun) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateRun(ctx, tx, run)
	})
}

func (s *Store) LatestIncompleteRun(ctx context.Context) (store.DiscoveryRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+runColumns+" FROM discovery_runs ORDER BY rowid DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return store.DiscoveryRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.DiscoveryRun{}, translate(fmt.Errorf("latest run: %w", err))
	}
	if !run.Status.Incomplete() {
		return store.DiscoveryRun{}, store.ErrNotFound
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.DiscoveryRun, error) {
	query := "SELECT " + runColumns + " FROM discovery_runs ORDER BY rowid DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, translate(fmt.Errorf("list runs: %w", err))
	}
	defer rows.Close()
	var out []store.DiscoveryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, translate(rows.Err())
}

func (s *Store) StageEntity(ctx context.Context, staged store.StagedEntity) error {
	var profileJSON any
	if staged.Profile != nil {
		body, err := marshalJSON(staged.Profile)
		if err != nil {
			return err
		}
		profileJSON = body
	}
	itemIDs, err := marshalJSON(staged.ItemIDs)
	if err != nil {
		return err
	}
	err = s.exec(ctx,
		`INSERT INTO staged_entities (run_id, entity_key, outcome, profile_json, item_ids_json) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(run_id, entity_key) DO UPDATE SET
            outcome = excluded.outcome,
            profile_json = excluded.profile_json,
            item_ids_json = excluded.item_ids_json`,
		staged.RunID, staged.EntityKey, string(staged.Outcome), profileJSON, itemIDs,
	)
	if err != nil && isForeignKeyViolation(err) {
		return fmt.Errorf("stage entity for run %s: %w", staged.RunID, store.ErrNotFound)
	}
	return err
}

func (s *Store) StagedEntities(ctx context.Context, runID string) (map[string]store.StagedEntity, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT entity_key, outcome, profile_json, item_ids_json FROM staged_entities WHERE run_id = ?", runID)
	if err != nil {
		return nil, translate(fmt.Errorf("staged entities: %w", err))
	}
	defer rows.Close()
	out := make(map[string]store.StagedEntity)
	for rows.Next() {
		var (
			st               store.StagedEntity
			outcome          string
			profile, itemIDs sql.NullString
		)
		if err := rows.Scan(&st.EntityKey, &outcome, &profile, &itemIDs); err != nil {
			return nil, fmt.Errorf("scan staged entity: %w", err)
		}
		st.RunID = runID
		st.Outcome = store.StageOutcome(outcome)
		if profile.Valid && profile.String != "" {
			var p store.EntityProfile
			if err := unmarshalJSON(profile, &p); err != nil {
				return nil, err
			}
			st.Profile = &p
		}
		if err := unmarshalJSON(itemIDs, &st.ItemIDs); err != nil {
			return nil, err
		}
		out[st.EntityKey] = st
	}
	return out, translate(rows.Err())
}
