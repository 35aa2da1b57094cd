package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cratemind/internal/store"
)

const itemColumns = "id, content_hash, path, size_bytes, artist, label, title, group_id, discovered_at, created_at"

func scanItem(row scanner) (store.Item, error) {
	var (
		item                  store.Item
		artist, label, title  sql.NullString
		groupID               sql.NullString
		discovered, createdAt sql.NullString
	)
	if err := row.Scan(&item.ID, &item.ContentHash, &item.Path, &item.SizeBytes,
		&artist, &label, &title, &groupID, &discovered, &createdAt); err != nil {
		return store.Item{}, err
	}
	item.Artist = artist.String
	item.Label = label.String
	item.Title = title.String
	item.GroupID = groupID.String
	item.DiscoveredAt = parseTime(discovered)
	item.CreatedAt = parseTime(createdAt)
	return item, nil
}

func queryItems(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]store.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []store.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) IngestItem(ctx context.Context, item store.Item, group store.GroupFunc) (store.IngestOutcome, error) {
	var out store.IngestOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		out = store.IngestOutcome{}
		existing, err := scanItem(tx.QueryRowContext(ctx,
			"SELECT "+itemColumns+" FROM items WHERE content_hash = ? AND path = ?",
			item.ContentHash, item.Path))
		switch {
		case err == nil:
			out.Item = existing
			g, gerr := groupByHash(ctx, tx, item.ContentHash)
			if gerr == nil {
				out.Group = &g
			} else if !errors.Is(gerr, store.ErrNotFound) {
				return gerr
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lookup item: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.ContentHash, item.Path, item.SizeBytes,
			nullableString(item.Artist), nullableString(item.Label), nullableString(item.Title),
			nullableString(item.GroupID), formatTime(item.DiscoveredAt), formatTime(item.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		out.IsNew = true
		out.Item = item

		members, err := queryItems(ctx, tx,
			"SELECT "+itemColumns+" FROM items WHERE content_hash = ? ORDER BY id", item.ContentHash)
		if err != nil {
			return fmt.Errorf("list hash members: %w", err)
		}
		if len(members) < 2 || group == nil {
			return nil
		}

		var current *store.DuplicateGroup
		if g, gerr := groupByHash(ctx, tx, item.ContentHash); gerr == nil {
			current = &g
		} else if !errors.Is(gerr, store.ErrNotFound) {
			return gerr
		}
		g := group(item.ContentHash, current, members)
		memberJSON, err := marshalJSON(g.MemberIDs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO duplicate_groups (id, content_hash, canonical_item_id, member_ids_json, total_bytes, waste_bytes, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(content_hash) DO UPDATE SET
                canonical_item_id = excluded.canonical_item_id,
                member_ids_json = excluded.member_ids_json,
                total_bytes = excluded.total_bytes,
                waste_bytes = excluded.waste_bytes,
                updated_at = excluded.updated_at`,
			g.ID, g.ContentHash, g.CanonicalItemID, memberJSON, g.TotalBytes, g.WasteBytes, formatTime(g.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert duplicate group: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE items SET group_id = ? WHERE content_hash = ?", g.ID, item.ContentHash); err != nil {
			return fmt.Errorf("link group members: %w", err)
		}
		out.Item.GroupID = g.ID
		out.Group = &g
		return nil
	})
	if err != nil {
		return store.IngestOutcome{}, err
	}
	return out, nil
}

func groupByHash(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, hash string) (store.DuplicateGroup, error) {
	var (
		g          store.DuplicateGroup
		memberJSON sql.NullString
		updatedAt  sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, content_hash, canonical_item_id, member_ids_json, total_bytes, waste_bytes, updated_at
         FROM duplicate_groups WHERE content_hash = ?`, hash,
	).Scan(&g.ID, &g.ContentHash, &g.CanonicalItemID, &memberJSON, &g.TotalBytes, &g.WasteBytes, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DuplicateGroup{}, store.ErrNotFound
	}
	if err != nil {
		return store.DuplicateGroup{}, fmt.Errorf("query duplicate group: %w", err)
	}
	if err := unmarshalJSON(memberJSON, &g.MemberIDs); err != nil {
		return store.DuplicateGroup{}, err
	}
	g.UpdatedAt = parseTime(updatedAt)
	return g, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (store.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ensureContext(ctx), "SELECT "+itemColumns+" FROM items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, store.ErrNotFound
	}
	if err != nil {
		return store.Item{}, translate(fmt.Errorf("get item: %w", err))
	}
	return item, nil
}

func (s *Store) ItemsByHash(ctx context.Context, hash string) ([]store.Item, error) {
	items, err := queryItems(ensureContext(ctx), s.db,
		"SELECT "+itemColumns+" FROM items WHERE content_hash = ? ORDER BY id", hash)
	if err != nil {
		return nil, translate(fmt.Errorf("items by hash: %w", err))
	}
	return items, nil
}

func (s *Store) ItemByPath(ctx context.Context, path string) (store.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+itemColumns+" FROM items WHERE path = ? ORDER BY created_at DESC, id ASC LIMIT 1", path))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, store.ErrNotFound
	}
	if err != nil {
		return store.Item{}, translate(fmt.Errorf("item by path: %w", err))
	}
	return item, nil
}

func (s *Store) ItemsByID(ctx context.Context, ids []string) (map[string]store.Item, error) {
	out := make(map[string]store.Item, len(ids))
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		args := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			args = append(args, id)
		}
		items, err := queryItems(ensureContext(ctx), s.db,
			"SELECT "+itemColumns+" FROM items WHERE id IN ("+makePlaceholders(len(args))+")", args...)
		if err != nil {
			return nil, translate(fmt.Errorf("items by id: %w", err))
		}
		for _, it := range items {
			out[it.ID] = it
		}
	}
	return out, nil
}

func (s *Store) GroupByHash(ctx context.Context, hash string) (store.DuplicateGroup, error) {
	g, err := groupByHash(ensureContext(ctx), s.db, hash)
	if err != nil {
		return store.DuplicateGroup{}, translate(err)
	}
	return g, nil
}

func (s *Store) Stats(ctx context.Context) (store.ItemStats, error) {
	ctx = ensureContext(ctx)
	var (
		stats store.ItemStats
		waste sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT
            (SELECT COUNT(1) FROM items),
            (SELECT COUNT(DISTINCT content_hash) FROM items),
            (SELECT COUNT(1) FROM duplicate_groups),
            (SELECT SUM(waste_bytes) FROM duplicate_groups),
            (SELECT COUNT(1) FROM signals)`,
	).Scan(&stats.Items, &stats.UniqueHashes, &stats.Groups, &waste, &stats.Signals)
	if err != nil {
		return store.ItemStats{}, translate(fmt.Errorf("stats: %w", err))
	}
	stats.WasteBytes = waste.Int64
	return stats, nil
}
