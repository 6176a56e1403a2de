package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cleared-dev/splitledger/internal/model"
)

// InsertSources stores new source records. Records already present under the
// same (external id, source) are left untouched. Returns the number inserted.
func (s *Store) InsertSources(ctx context.Context, recs []model.SourceRecord) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		created := formatTS(s.now())
		for _, rec := range recs {
			var itemRef any
			if rec.ItemRef != "" {
				itemRef = rec.ItemRef
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO connections (item_ref, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`,
					rec.ItemRef, created); err != nil {
					return fmt.Errorf("insert connection %s: %w", rec.ItemRef, err)
				}
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO source_records
				(external_id, source, account_id, posted_date, amount_cents, currency, merchant, item_ref)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(external_id, source) DO NOTHING
			`,
				rec.ExternalID,
				rec.Source,
				rec.AccountID,
				formatDate(rec.Date),
				rec.AmountCents,
				rec.Currency,
				rec.Merchant,
				itemRef,
			)
			if err != nil {
				return fmt.Errorf("insert source %s: %w", rec.Key(), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert source %s: %w", rec.Key(), err)
			}
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// SourceFilter selects source records. Zero fields do not filter.
type SourceFilter struct {
	From   time.Time // inclusive
	To     time.Time // inclusive
	Source string
}

func (f SourceFilter) where() (string, []any) {
	var conds []string
	var args []any
	if !f.From.IsZero() {
		conds = append(conds, "s.posted_date >= ?")
		args = append(args, formatDate(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "s.posted_date <= ?")
		args = append(args, formatDate(f.To))
	}
	if f.Source != "" {
		conds = append(conds, "s.source = ?")
		args = append(args, f.Source)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const sourceColumns = `s.external_id, s.source, s.account_id, s.posted_date, s.amount_cents, s.currency, s.merchant, COALESCE(s.item_ref, '')`

// ListSources returns source records ordered by posting date, then insertion.
func (s *Store) ListSources(ctx context.Context, f SourceFilter) ([]model.SourceRecord, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM source_records s`+where+` ORDER BY s.posted_date, s.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		rec, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// GetSource returns one source record.
func (s *Store) GetSource(ctx context.Context, key model.SourceKey) (model.SourceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM source_records s WHERE s.external_id = ? AND s.source = ?`,
		key.ExternalID, key.Source)
	rec, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceRecord{}, fmt.Errorf("source %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return model.SourceRecord{}, fmt.Errorf("get source %s: %w", key, err)
	}
	return rec, nil
}

// DeleteConnection removes a connection and, by cascade, its source and
// derived records. Returns the number of source records removed.
func (s *Store) DeleteConnection(ctx context.Context, itemRef string) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM source_records WHERE item_ref = ?`, itemRef).Scan(&count); err != nil {
			return fmt.Errorf("count sources: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE item_ref = ?`, itemRef)
		if err != nil {
			return fmt.Errorf("delete connection %s: %w", itemRef, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("connection %s: %w", itemRef, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(sc scanner) (model.SourceRecord, error) {
	var rec model.SourceRecord
	var posted string
	if err := sc.Scan(
		&rec.ExternalID,
		&rec.Source,
		&rec.AccountID,
		&posted,
		&rec.AmountCents,
		&rec.Currency,
		&rec.Merchant,
		&rec.ItemRef,
	); err != nil {
		return model.SourceRecord{}, err
	}
	d, err := parseDate(posted)
	if err != nil {
		return model.SourceRecord{}, err
	}
	rec.Date = d
	return rec, nil
}
