package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hazyhaar/variazioni/dbopen"
	"github.com/hazyhaar/variazioni/variation"
)

const variationColumns = `date, hour, class_name, classroom, teacher, substitute_1, substitute_2, notes, ocr`

// GetVariationsByDate returns the stored records of the given dates,
// ordered by date then insertion.
func (s *Store) GetVariationsByDate(ctx context.Context, dates []variation.Date) ([]variation.Variation, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	args := make([]any, len(dates))
	for i, d := range dates {
		args[i] = d.String()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dates)), ",")
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+variationColumns+` FROM variations
		WHERE date IN (`+placeholders+`)
		ORDER BY date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get variations: %w", err)
	}
	return scanVariations(rows)
}

// VariationsOf returns every stored record for a class on or after from,
// ordered by date and hour.
func (s *Store) VariationsOf(ctx context.Context, className string, from variation.Date) ([]variation.Variation, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+variationColumns+` FROM variations
		WHERE class_name = ? AND date >= ?
		ORDER BY date, hour, id`, className, from.String())
	if err != nil {
		return nil, fmt.Errorf("store: variations of %s: %w", className, err)
	}
	return scanVariations(rows)
}

func scanVariations(rows *sql.Rows) ([]variation.Variation, error) {
	defer rows.Close()
	var out []variation.Variation
	for rows.Next() {
		var v variation.Variation
		if err := rows.Scan(&v.Date, &v.Hour, &v.ClassName, &v.Classroom, &v.Teacher,
			&v.Substitute1, &v.Substitute2, &v.Notes, &v.OCR); err != nil {
			return nil, fmt.Errorf("scan variation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveVariations applies a classified batch in one transaction: new records
// are inserted, edited ones updated and removed ones deleted, all matched
// by identity. Unlabelled records are ignored.
func (s *Store) SaveVariations(ctx context.Context, b variation.Batch) error {
	now := s.now().UnixMilli()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, v := range b.All() {
			var err error
			switch v.Type {
			case variation.TypeNew:
				_, err = tx.ExecContext(ctx,
					`INSERT INTO variations (`+variationColumns+`, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
					ON CONFLICT (date, hour, class_name, teacher) DO UPDATE SET
						classroom = excluded.classroom,
						substitute_1 = excluded.substitute_1,
						substitute_2 = excluded.substitute_2,
						notes = excluded.notes,
						ocr = excluded.ocr,
						updated_at = excluded.updated_at`,
					v.Date.String(), v.Hour, v.ClassName, v.Classroom, string(v.Teacher),
					string(v.Substitute1), string(v.Substitute2), v.Notes, v.OCR, now, now)
			case variation.TypeEdited:
				_, err = tx.ExecContext(ctx,
					`UPDATE variations SET classroom = ?, substitute_1 = ?, substitute_2 = ?,
					notes = ?, ocr = ?, updated_at = ?
					WHERE date = ? AND hour = ? AND class_name = ? AND teacher = ?`,
					v.Classroom, string(v.Substitute1), string(v.Substitute2), v.Notes, v.OCR, now,
					v.Date.String(), v.Hour, v.ClassName, string(v.Teacher))
			case variation.TypeRemoved:
				_, err = tx.ExecContext(ctx,
					`DELETE FROM variations
					WHERE date = ? AND hour = ? AND class_name = ? AND teacher = ?`,
					v.Date.String(), v.Hour, v.ClassName, string(v.Teacher))
			default:
				continue
			}
			if err != nil {
				return fmt.Errorf("store: save %s %s: %w", v.Type, v.Identity(), err)
			}
		}
		return nil
	})
}
