package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cratemind/internal/store"
)

const contributorColumns = "id, state, multiplier, accuracy, domain_accuracy_json, domain_votes_json, vote_count, window_start, last_evaluated, created_at"

func scanContributor(row scanner) (store.Contributor, error) {
	var (
		c                           store.Contributor
		state                       string
		domainAccuracy, domainVotes sql.NullString
		windowStart, lastEvaluated  sql.NullString
		createdAt                   sql.NullString
	)
	if err := row.Scan(&c.ID, &state, &c.Multiplier, &c.Accuracy, &domainAccuracy, &domainVotes,
		&c.VoteCount, &windowStart, &lastEvaluated, &createdAt); err != nil {
		return store.Contributor{}, err
	}
	c.State = store.PenaltyState(state)
	if err := unmarshalJSON(domainAccuracy, &c.DomainAccuracy); err != nil {
		return store.Contributor{}, err
	}
	if err := unmarshalJSON(domainVotes, &c.DomainVotes); err != nil {
		return store.Contributor{}, err
	}
	c.WindowStart = parseTime(windowStart)
	c.LastEvaluated = parseTime(lastEvaluated)
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func (s *Store) GetContributor(ctx context.Context, id string) (store.Contributor, error) {
	c, err := scanContributor(s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+contributorColumns+" FROM contributors WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Contributor{}, store.ErrNotFound
	}
	if err != nil {
		return store.Contributor{}, translate(fmt.Errorf("get contributor: %w", err))
	}
	return c, nil
}

func (s *Store) ListContributors(ctx context.Context) ([]store.Contributor, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT "+contributorColumns+" FROM contributors ORDER BY id")
	if err != nil {
		return nil, translate(fmt.Errorf("list contributors: %w", err))
	}
	defer rows.Close()
	var out []store.Contributor
	for rows.Next() {
		c, err := scanContributor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		out = append(out, c)
	}
	return out, translate(rows.Err())
}

func (s *Store) SaveContributor(ctx context.Context, c store.Contributor, events []store.ReputationEvent) error {
	domainAccuracy, err := marshalJSON(c.DomainAccuracy)
	if err != nil {
		return err
	}
	domainVotes, err := marshalJSON(c.DomainVotes)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contributors (`+contributorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
                state = excluded.state,
                multiplier = excluded.multiplier,
                accuracy = excluded.accuracy,
                domain_accuracy_json = excluded.domain_accuracy_json,
                domain_votes_json = excluded.domain_votes_json,
                vote_count = excluded.vote_count,
                window_start = excluded.window_start,
                last_evaluated = excluded.last_evaluated`,
			c.ID, string(c.State), c.Multiplier, c.Accuracy, domainAccuracy, domainVotes, c.VoteCount,
			nullableTime(c.WindowStart), nullableTime(c.LastEvaluated), formatTime(c.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert contributor: %w", err)
		}
		for _, ev := range events {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO reputation_events (id, contributor_id, kind, from_state, to_state, accuracy, reviewer, note, at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ev.ID, ev.ContributorID, string(ev.Kind), nullableString(string(ev.From)), nullableString(string(ev.To)),
				ev.Accuracy, nullableString(ev.Reviewer), nullableString(ev.Note), formatTime(ev.At),
			); err != nil {
				return fmt.Errorf("append reputation event: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListReputationEvents(ctx context.Context, contributorID string) ([]store.ReputationEvent, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, contributor_id, kind, from_state, to_state, accuracy, reviewer, note, at
         FROM reputation_events WHERE contributor_id = ? ORDER BY rowid`, contributorID)
	if err != nil {
		return nil, translate(fmt.Errorf("list reputation events: %w", err))
	}
	defer rows.Close()
	var out []store.ReputationEvent
	for rows.Next() {
		var (
			ev                       store.ReputationEvent
			kind                     string
			from, to, reviewer, note sql.NullString
			at                       sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.ContributorID, &kind, &from, &to, &ev.Accuracy, &reviewer, &note, &at); err != nil {
			return nil, fmt.Errorf("scan reputation event: %w", err)
		}
		ev.Kind = store.ReputationEventKind(kind)
		ev.From = store.PenaltyState(from.String)
		ev.To = store.PenaltyState(to.String)
		ev.Reviewer = reviewer.String
		ev.Note = note.String
		ev.At = parseTime(at)
		out = append(out, ev)
	}
	return out, translate(rows.Err())
}

const voteColumns = "id, contributor_id, item_id, category, subcategory, cast_at, scored, correct, scored_at"

func scanVote(row scanner) (store.Vote, error) {
	var (
		v                store.Vote
		subcategory      sql.NullString
		castAt, scoredAt sql.NullString
		scored, correct  int
	)
	if err := row.Scan(&v.ID, &v.ContributorID, &v.ItemID, &v.Category, &subcategory, &castAt, &scored, &correct, &scoredAt); err != nil {
		return store.Vote{}, err
	}
	v.Subcategory = subcategory.String
	v.CastAt = parseTime(castAt)
	v.Scored = scored != 0
	v.Correct = correct != 0
	v.ScoredAt = parseTime(scoredAt)
	return v, nil
}

func (s *Store) queryVotes(ctx context.Context, query string, args ...any) ([]store.Vote, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, translate(fmt.Errorf("query votes: %w", err))
	}
	defer rows.Close()
	var out []store.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, translate(rows.Err())
}

func (s *Store) InsertVote(ctx context.Context, v store.Vote) error {
	return s.exec(ctx,
		`INSERT INTO votes (`+voteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		v.ID, v.ContributorID, v.ItemID, v.Category, nullableString(v.Subcategory), formatTime(v.CastAt),
		boolToInt(v.Scored), boolToInt(v.Correct), nullableTime(v.ScoredAt),
	)
}

func (s *Store) PendingVotes(ctx context.Context, itemID string) ([]store.Vote, error) {
	return s.queryVotes(ctx, "SELECT "+voteColumns+" FROM votes WHERE item_id = ? AND scored = 0 ORDER BY rowid", itemID)
}

func (s *Store) ItemsWithPendingVotes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT DISTINCT item_id FROM votes WHERE scored = 0 ORDER BY item_id")
	if err != nil {
		return nil, translate(fmt.Errorf("items with pending votes: %w", err))
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, translate(rows.Err())
}

func (s *Store) MarkVotesScored(ctx context.Context, votes []store.Vote) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, v := range votes {
			res, err := tx.ExecContext(ctx,
				"UPDATE votes SET scored = 1, correct = ?, scored_at = ? WHERE id = ?",
				boolToInt(v.Correct), formatTime(v.ScoredAt), v.ID)
			if err != nil {
				return fmt.Errorf("score vote: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("score vote %s: %w", v.ID, store.ErrNotFound)
			}
		}
		return nil
	})
}

func (s *Store) RecentScoredVotes(ctx context.Context, contributorID string, since time.Time, limit int) ([]store.Vote, error) {
	query := "SELECT " + voteColumns + ` FROM votes
        WHERE contributor_id = ? AND scored = 1 AND scored_at > ?
        ORDER BY scored_at DESC, cast_at DESC, id DESC`
	args := []any{contributorID, formatTime(since)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryVotes(ctx, query, args...)
}
