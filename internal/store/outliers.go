package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
)

// OutlierUpdate is one row's new annotation, as produced by internal/outlier.
type OutlierUpdate struct {
	PriceRecordID string
	Flag          OutlierFlag
	Reason        string
}

// PricesForAnnotation returns every price row for drugID, the full set C8
// re-evaluates on each pass (Tukey fences depend on the whole distribution,
// not just the newly-appended rows).
func (s *Store) PricesForAnnotation(ctx context.Context, drugID string) ([]PriceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, drug_id, price_scaled, supplier_name, COALESCE(supplier_id,''),
		        COALESCE(source_url,''), crawled_at, is_outlier, COALESCE(outlier_reason,'')
		 FROM price_records WHERE drug_id = $1`, drugID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []PriceRecord
	for rows.Next() {
		var p PriceRecord
		if err := rows.Scan(&p.ID, &p.DrugID, &p.PriceScaled, &p.SupplierName, &p.SupplierID,
			&p.SourceURL, &p.CrawledAt, &p.IsOutlier, &p.OutlierReason); err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyOutlierAnnotations writes C8's verdicts. Annotations are
// non-destructive: this never touches price_scaled, only is_outlier and
// outlier_reason.
func (s *Store) ApplyOutlierAnnotations(ctx context.Context, updates []OutlierUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Persistence(err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`UPDATE price_records SET is_outlier = $2, outlier_reason = NULLIF($3,'') WHERE id = $1`,
			u.PriceRecordID, u.Flag, u.Reason,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range updates {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return apperr.Persistence(err)
		}
	}
	if err := br.Close(); err != nil {
		return apperr.Persistence(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}
