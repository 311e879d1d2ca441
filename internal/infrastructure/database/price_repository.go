package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

// PriceRepository keeps typical price ranges loaded from reference files.
type PriceRepository struct {
	db *Pool
}

func NewPriceRepository(db *Pool) *PriceRepository {
	return &PriceRepository{db: db}
}

// ReplacePriceRanges swaps the stored ranges for ranges in one transaction.
func (r *PriceRepository) ReplacePriceRanges(ctx context.Context, source string, ranges map[string]billingcode.PriceRange) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM price_ranges`); err != nil {
			return fmt.Errorf("clear price ranges: %w", err)
		}

		rows := make([][]interface{}, 0, len(ranges))
		for code, pr := range ranges {
			rows = append(rows, []interface{}{
				code,
				strconv.FormatFloat(pr.Min, 'f', 2, 64),
				strconv.FormatFloat(pr.Max, 'f', 2, 64),
				source,
			})
		}
		if len(rows) == 0 {
			return nil
		}

		// numeric columns are sent as text so the copy protocol does not need a float codec
		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE price_ranges_load (
			procedure_code TEXT, min_price TEXT, max_price TEXT, source TEXT) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("create load table: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"price_ranges_load"},
			[]string{"procedure_code", "min_price", "max_price", "source"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy price ranges: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO price_ranges (procedure_code, min_price, max_price, source)
			SELECT procedure_code, min_price::numeric, max_price::numeric, source FROM price_ranges_load`); err != nil {
			return fmt.Errorf("insert price ranges: %w", err)
		}
		return nil
	})
}

// PriceRanges returns every stored range keyed by procedure code.
func (r *PriceRepository) PriceRanges(ctx context.Context) (map[string]billingcode.PriceRange, error) {
	rows, err := r.db.Query(ctx, `SELECT procedure_code, min_price::float8, max_price::float8 FROM price_ranges`)
	if err != nil {
		return nil, fmt.Errorf("query price ranges: %w", err)
	}
	defer rows.Close()

	out := make(map[string]billingcode.PriceRange)
	for rows.Next() {
		var (
			code string
			pr   billingcode.PriceRange
		)
		if err := rows.Scan(&code, &pr.Min, &pr.Max); err != nil {
			return nil, fmt.Errorf("scan price range: %w", err)
		}
		out[code] = pr
	}
	return out, rows.Err()
}
