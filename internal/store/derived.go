package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cleared-dev/splitledger/internal/model"
)

// tagSep separates tags in the tags column.
const tagSep = ";"

// ReplaceStats counts the changes made by ReplaceDerived.
type ReplaceStats struct {
	Inserted int
	Updated  int
	Deleted  int
}

// ReplaceDerived makes payloads the complete derived set of the source record
// key: payloads are upserted by external id within that source record and
// stored records missing from payloads are deleted, all in one transaction.
func (s *Store) ReplaceDerived(ctx context.Context, key model.SourceKey, payloads []model.DerivedPayload) (ReplaceStats, error) {
	var stats ReplaceStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var sourceID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM source_records WHERE external_id = ? AND source = ?`,
			key.ExternalID, key.Source).Scan(&sourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("source %s: %w", key, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup source %s: %w", key, err)
		}

		existing, err := derivedIDs(ctx, tx, sourceID)
		if err != nil {
			return err
		}

		updated := formatTS(s.now())
		keep := make(map[string]bool, len(payloads))
		for _, p := range payloads {
			keep[p.ExternalID] = true
			if err := upsertDerived(ctx, tx, sourceID, p, updated); err != nil {
				return err
			}
			if existing[p.ExternalID] {
				stats.Updated++
			} else {
				stats.Inserted++
			}
		}

		for extID := range existing {
			if keep[extID] {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM derived_records WHERE source_record_id = ? AND external_id = ?`, sourceID, extID); err != nil {
				return fmt.Errorf("delete derived %s: %w", extID, err)
			}
			stats.Deleted++
		}
		return nil
	})
	if err != nil {
		return ReplaceStats{}, err
	}
	return stats, nil
}

func derivedIDs(ctx context.Context, tx *sql.Tx, sourceID int64) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT external_id FROM derived_records WHERE source_record_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list derived ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list derived ids: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func upsertDerived(ctx context.Context, tx *sql.Tx, sourceID int64, p model.DerivedPayload, updated string) error {
	e := p.Enrichment
	_, err := tx.ExecContext(ctx, `
		INSERT INTO derived_records
		(external_id, source_record_id, split_index, amount_cents, posted_date, merchant, order_id, product_id,
		 category_id, assignment_method, assigned_model, assigned_model_version, assigned_at,
		 merchant_ref, notes, tags, is_verified, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_record_id, external_id) DO UPDATE SET
			split_index = excluded.split_index,
			amount_cents = excluded.amount_cents,
			posted_date = excluded.posted_date,
			merchant = excluded.merchant,
			order_id = excluded.order_id,
			product_id = excluded.product_id,
			category_id = excluded.category_id,
			assignment_method = excluded.assignment_method,
			assigned_model = excluded.assigned_model,
			assigned_model_version = excluded.assigned_model_version,
			assigned_at = excluded.assigned_at,
			merchant_ref = excluded.merchant_ref,
			notes = excluded.notes,
			tags = excluded.tags,
			is_verified = excluded.is_verified,
			updated_at = excluded.updated_at
	`,
		p.ExternalID,
		sourceID,
		p.SplitIndex,
		p.AmountCents,
		formatDate(p.Date),
		p.Merchant,
		p.OrderID,
		p.ProductID,
		e.CategoryID,
		string(e.Provenance.Method),
		e.Provenance.Model,
		e.Provenance.ModelVersion,
		formatTS(e.Provenance.AssignedAt),
		e.MerchantRef,
		e.Notes,
		strings.Join(e.Tags, tagSep),
		p.IsVerified,
		updated,
	)
	if err != nil {
		return fmt.Errorf("upsert derived %s: %w", p.ExternalID, err)
	}
	return nil
}

// DerivedFilter selects derived records. Zero fields do not filter.
type DerivedFilter struct {
	SourceFilter
	SourceKey     *model.SourceKey
	Uncategorized bool
	Verified      *bool
	CategoryID    string
	Tag           string
}

const derivedColumns = `d.external_id, d.split_index, d.amount_cents, d.posted_date, d.merchant, d.order_id, d.product_id,
	d.category_id, d.assignment_method, d.assigned_model, d.assigned_model_version, d.assigned_at,
	d.merchant_ref, d.notes, d.tags, d.is_verified, d.updated_at, s.external_id, s.source`

// ListDerived returns derived records ordered by posting date, source and
// split index.
func (s *Store) ListDerived(ctx context.Context, f DerivedFilter) ([]model.DerivedRecord, error) {
	where, args := f.SourceFilter.where()
	var conds []string
	if where != "" {
		conds = append(conds, strings.TrimPrefix(where, " WHERE "))
	}
	if f.SourceKey != nil {
		conds = append(conds, "s.external_id = ? AND s.source = ?")
		args = append(args, f.SourceKey.ExternalID, f.SourceKey.Source)
	}
	if f.Uncategorized {
		conds = append(conds, "d.category_id = ''")
	}
	if f.Verified != nil {
		conds = append(conds, "d.is_verified = ?")
		args = append(args, *f.Verified)
	}
	if f.CategoryID != "" {
		conds = append(conds, "d.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Tag != "" {
		conds = append(conds, "(';' || d.tags || ';') LIKE ?")
		args = append(args, "%;"+f.Tag+";%")
	}

	q := `SELECT ` + derivedColumns + ` FROM derived_records d JOIN source_records s ON s.id = d.source_record_id`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY d.posted_date, s.id, d.split_index"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list derived: %w", err)
	}
	defer rows.Close()

	var out []model.DerivedRecord
	for rows.Next() {
		rec, err := scanDerived(rows)
		if err != nil {
			return nil, fmt.Errorf("list derived: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list derived: %w", err)
	}
	return out, nil
}

// DerivedBySource returns the stored derived records for every source record
// matching f, grouped by source key and ordered by split index.
func (s *Store) DerivedBySource(ctx context.Context, f SourceFilter) (map[model.SourceKey][]model.DerivedRecord, error) {
	recs, err := s.ListDerived(ctx, DerivedFilter{SourceFilter: f})
	if err != nil {
		return nil, err
	}
	out := make(map[model.SourceKey][]model.DerivedRecord)
	for _, r := range recs {
		out[r.Source] = append(out[r.Source], r)
	}
	return out, nil
}

// derivedWhere matches one derived record by DerivedKey; bind keyArgs.
const derivedWhere = `external_id = ? AND source_record_id =
	(SELECT id FROM source_records WHERE external_id = ? AND source = ?)`

func keyArgs(key model.DerivedKey) []any {
	return []any{key.ExternalID, key.Source.ExternalID, key.Source.Source}
}

// ResolveDerived finds the key of the derived record with externalID. When
// source is empty the ID must be unique across sources; ErrAmbiguous is
// returned otherwise.
func (s *Store) ResolveDerived(ctx context.Context, externalID, source string) (model.DerivedKey, error) {
	q := `SELECT s.external_id, s.source FROM derived_records d JOIN source_records s ON s.id = d.source_record_id
		WHERE d.external_id = ?`
	args := []any{externalID}
	if source != "" {
		q += " AND s.source = ?"
		args = append(args, source)
	}
	q += " ORDER BY s.id LIMIT 2"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return model.DerivedKey{}, fmt.Errorf("resolve derived %s: %w", externalID, err)
	}
	defer rows.Close()

	var keys []model.DerivedKey
	for rows.Next() {
		k := model.DerivedKey{ExternalID: externalID}
		if err := rows.Scan(&k.Source.ExternalID, &k.Source.Source); err != nil {
			return model.DerivedKey{}, fmt.Errorf("resolve derived %s: %w", externalID, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return model.DerivedKey{}, fmt.Errorf("resolve derived %s: %w", externalID, err)
	}

	switch len(keys) {
	case 0:
		return model.DerivedKey{}, fmt.Errorf("derived %s: %w", externalID, ErrNotFound)
	case 1:
		return keys[0], nil
	default:
		return model.DerivedKey{}, fmt.Errorf("derived %s exists in sources %s and %s: %w",
			externalID, keys[0].Source.Source, keys[1].Source.Source, ErrAmbiguous)
	}
}

// GetDerived returns one derived record.
func (s *Store) GetDerived(ctx context.Context, key model.DerivedKey) (model.DerivedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+derivedColumns+` FROM derived_records d JOIN source_records s ON s.id = d.source_record_id
		 WHERE d.external_id = ? AND s.external_id = ? AND s.source = ?`, keyArgs(key)...)
	rec, err := scanDerived(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DerivedRecord{}, fmt.Errorf("derived %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return model.DerivedRecord{}, fmt.Errorf("get derived %s: %w", key, err)
	}
	return rec, nil
}

// Categorize records an automated category assignment. Verified records are
// never overwritten; ErrVerified is returned instead.
func (s *Store) Categorize(ctx context.Context, key model.DerivedKey, categoryID string, prov model.Provenance) error {
	if err := s.checkCategory(categoryID); err != nil {
		return err
	}
	if prov.Method == "" {
		prov.Method = model.MethodAutomated
	}
	if !prov.Method.Valid() || prov.Method == model.MethodManual {
		return fmt.Errorf("categorize %s: invalid method %q", key, prov.Method)
	}
	if prov.AssignedAt.IsZero() {
		prov.AssignedAt = s.now()
	}

	args := []any{
		categoryID,
		string(prov.Method),
		prov.Model,
		prov.ModelVersion,
		formatTS(prov.AssignedAt),
		formatTS(s.now()),
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE derived_records SET
			category_id = ?, assignment_method = ?, assigned_model = ?, assigned_model_version = ?,
			assigned_at = ?, updated_at = ?
		WHERE `+derivedWhere+` AND is_verified = 0
	`, append(args, keyArgs(key)...)...)
	if err != nil {
		return fmt.Errorf("categorize %s: %w", key, err)
	}
	return s.explainNoop(ctx, res, key)
}

// Verify records a manual category and marks the record verified.
func (s *Store) Verify(ctx context.Context, key model.DerivedKey, categoryID string) error {
	if categoryID == "" {
		return fmt.Errorf("verify %s: category required", key)
	}
	if err := s.checkCategory(categoryID); err != nil {
		return err
	}
	now := formatTS(s.now())
	args := []any{categoryID, string(model.MethodManual), now, now}
	res, err := s.db.ExecContext(ctx, `
		UPDATE derived_records SET
			category_id = ?, assignment_method = ?, assigned_model = '', assigned_model_version = '',
			assigned_at = ?, is_verified = 1, updated_at = ?
		WHERE `+derivedWhere, append(args, keyArgs(key)...)...)
	if err != nil {
		return fmt.Errorf("verify %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("derived %s: %w", key, ErrNotFound)
	}
	return nil
}

// SetTags replaces the tags of a derived record.
func (s *Store) SetTags(ctx context.Context, key model.DerivedKey, tags []string) error {
	for _, t := range tags {
		if strings.Contains(t, tagSep) {
			return fmt.Errorf("tag %q contains %q", t, tagSep)
		}
	}
	return s.updateField(ctx, key, "tags", strings.Join(tags, tagSep))
}

// SetNotes replaces the free-text enrichment of a derived record.
func (s *Store) SetNotes(ctx context.Context, key model.DerivedKey, notes string) error {
	return s.updateField(ctx, key, "notes", notes)
}

// updateField sets one text column; column is never user input.
func (s *Store) updateField(ctx context.Context, key model.DerivedKey, column, value string) error {
	args := []any{value, formatTS(s.now())}
	res, err := s.db.ExecContext(ctx,
		`UPDATE derived_records SET `+column+` = ?, updated_at = ? WHERE `+derivedWhere,
		append(args, keyArgs(key)...)...)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", column, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("derived %s: %w", key, ErrNotFound)
	}
	return nil
}

func (s *Store) checkCategory(categoryID string) error {
	if categoryID == "" || s.categories == nil || s.categories.Exists(categoryID) {
		return nil
	}
	return fmt.Errorf("category %q: %w", categoryID, ErrUnknownCategory)
}

// explainNoop turns a zero-row guarded update into ErrNotFound or ErrVerified.
func (s *Store) explainNoop(ctx context.Context, res sql.Result, key model.DerivedKey) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var verified bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_verified FROM derived_records WHERE `+derivedWhere, keyArgs(key)...).Scan(&verified)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("derived %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("derived %s: %w", key, err)
	}
	return fmt.Errorf("derived %s: %w", key, ErrVerified)
}

func scanDerived(sc scanner) (model.DerivedRecord, error) {
	var rec model.DerivedRecord
	var posted, method, assignedAt, tags, updatedAt string
	if err := sc.Scan(
		&rec.ExternalID,
		&rec.SplitIndex,
		&rec.AmountCents,
		&posted,
		&rec.Merchant,
		&rec.OrderID,
		&rec.ProductID,
		&rec.Enrichment.CategoryID,
		&method,
		&rec.Enrichment.Provenance.Model,
		&rec.Enrichment.Provenance.ModelVersion,
		&assignedAt,
		&rec.Enrichment.MerchantRef,
		&rec.Enrichment.Notes,
		&tags,
		&rec.IsVerified,
		&updatedAt,
		&rec.Source.ExternalID,
		&rec.Source.Source,
	); err != nil {
		return model.DerivedRecord{}, err
	}

	var err error
	if rec.Date, err = parseDate(posted); err != nil {
		return model.DerivedRecord{}, err
	}
	if rec.Enrichment.Provenance.AssignedAt, err = parseTS(assignedAt); err != nil {
		return model.DerivedRecord{}, err
	}
	if rec.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return model.DerivedRecord{}, err
	}
	rec.Enrichment.Provenance.Method = model.AssignmentMethod(method)
	if tags != "" {
		rec.Enrichment.Tags = strings.Split(tags, tagSep)
	}
	return rec, nil
}
