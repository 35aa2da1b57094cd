package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cratemind/internal/store"
)

const signalColumns = "id, item_id, source_type, source_id, category, subcategory, raw_category, strength, base_weight, sample_size, created_at"

func scanSignal(row scanner) (store.Signal, error) {
	var (
		sig                        store.Signal
		sourceType                 string
		sourceID, subcategory, raw sql.NullString
		strength, createdAt        sql.NullString
	)
	if err := row.Scan(&sig.ID, &sig.ItemID, &sourceType, &sourceID, &sig.Category, &subcategory,
		&raw, &strength, &sig.BaseWeight, &sig.SampleSize, &createdAt); err != nil {
		return store.Signal{}, err
	}
	sig.SourceType = store.SourceType(sourceType)
	sig.SourceID = sourceID.String
	sig.Subcategory = subcategory.String
	sig.RawCategory = raw.String
	sig.Strength = store.PatternStrength(strength.String)
	sig.CreatedAt = parseTime(createdAt)
	return sig, nil
}

func (s *Store) InsertSignal(ctx context.Context, sig store.Signal) (store.Signal, bool, error) {
	var (
		stored  store.Signal
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO signals (`+signalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(id) DO NOTHING`,
			sig.ID, sig.ItemID, string(sig.SourceType), nullableString(sig.SourceID), sig.Category,
			nullableString(sig.Subcategory), nullableString(sig.RawCategory), nullableString(string(sig.Strength)),
			sig.BaseWeight, sig.SampleSize, formatTime(sig.CreatedAt),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("signal item %s: %w", sig.ItemID, store.ErrNotFound)
			}
			return fmt.Errorf("insert signal: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 1 {
			stored, created = sig, true
			return nil
		}
		stored, err = scanSignal(tx.QueryRowContext(ctx, "SELECT "+signalColumns+" FROM signals WHERE id = ?", sig.ID))
		if err != nil {
			return fmt.Errorf("load existing signal: %w", err)
		}
		created = false
		return nil
	})
	if err != nil {
		return store.Signal{}, false, err
	}
	return stored, created, nil
}

func isForeignKeyViolation(err error) bool {
	var coder interface{ Code() int }
	// SQLITE_CONSTRAINT_FOREIGNKEY
	if errors.As(err, &coder) && coder.Code() == 787 {
		return true
	}
	return err != nil && containsFold(err.Error(), "FOREIGN KEY constraint failed")
}

func (s *Store) ListSignals(ctx context.Context, itemID string) ([]store.Signal, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+signalColumns+" FROM signals WHERE item_id = ? ORDER BY created_at, id", itemID)
	if err != nil {
		return nil, translate(fmt.Errorf("list signals: %w", err))
	}
	defer rows.Close()
	var out []store.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, translate(rows.Err())
}
