package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
)

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system clock/rand source is broken;
		// fall back to v4 rather than propagating a surrogate-key failure.
		return uuid.New().String()
	}
	return id.String()
}

// UpsertDrug performs an atomic read-or-insert on the (name, specification,
// manufacturer) identity tuple. On a re-visit it updates category only if
// the new confidence is >= the stored confidence, and approval_number only
// if the stored value is currently null, per the persistence contract.
func (s *Store) UpsertDrug(ctx context.Context, identity DrugIdentity, fields DrugFields) (string, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", apperr.Persistence(err)
	}
	defer tx.Rollback(ctx)

	var id string
	var storedConfidence float64
	var storedApproval *string

	err = tx.QueryRow(ctx,
		`SELECT id, category_confidence, approval_number FROM drugs
		 WHERE name = $1 AND specification = $2 AND manufacturer = $3`,
		identity.Name, identity.Specification, identity.Manufacturer,
	).Scan(&id, &storedConfidence, &storedApproval)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		id = newID()
		_, err = tx.Exec(ctx,
			`INSERT INTO drugs
			 (id, upstream_id, name, specification, manufacturer, category,
			  category_confidence, category_source, approval_number, created_at, updated_at)
			 VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, NULLIF($9,''), $10, $10)`,
			id, fields.UpstreamID, identity.Name, identity.Specification, identity.Manufacturer,
			fields.Category, fields.CategoryConfidence, fields.CategorySource, fields.ApprovalNumber, now,
		)
		if err != nil {
			return "", apperr.Persistence(err)
		}
	case err != nil:
		return "", apperr.Persistence(err)
	default:
		setApproval := storedApproval == nil && fields.ApprovalNumber != ""
		setCategory := fields.CategoryConfidence >= storedConfidence

		if setApproval || setCategory {
			_, err = tx.Exec(ctx,
				`UPDATE drugs SET
				   category = CASE WHEN $2 THEN $3 ELSE category END,
				   category_confidence = CASE WHEN $2 THEN $4 ELSE category_confidence END,
				   category_source = CASE WHEN $2 THEN $5 ELSE category_source END,
				   approval_number = CASE WHEN $6 THEN $7 ELSE approval_number END,
				   updated_at = $8
				 WHERE id = $1`,
				id, setCategory, fields.Category, fields.CategoryConfidence, fields.CategorySource,
				setApproval, fields.ApprovalNumber, now,
			)
			if err != nil {
				return "", apperr.Persistence(err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", apperr.Persistence(err)
	}
	return id, nil
}

// DrugIdentity is the normalized (name, specification, manufacturer) tuple
// UpsertDrug keys uniqueness on.
type DrugIdentity struct {
	Name          string
	Specification string
	Manufacturer  string
}

// AppendPrices inserts all observations as new price rows for drugID. It
// never deletes or overwrites history; within a single batch it dedups on
// (supplier_id∥supplier_name, price_scaled) so one crawl cannot write the
// same card twice.
func (s *Store) AppendPrices(ctx context.Context, drugID string, observations []Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	deduped := dedupObservations(observations)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Persistence(err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, obs := range deduped {
		batch.Queue(
			`INSERT INTO price_records
			 (id, drug_id, price_scaled, supplier_name, supplier_id, source_url, crawled_at, is_outlier)
			 VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), $7, 0)`,
			newID(), drugID, obs.PriceScaled, obs.SupplierName, obs.SupplierID, obs.SourceURL, obs.CrawledAt.UTC(),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range deduped {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, apperr.Persistence(err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, apperr.Persistence(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Persistence(err)
	}
	return len(deduped), nil
}

func dedupObservations(observations []Observation) []Observation {
	seen := make(map[string]struct{}, len(observations))
	out := make([]Observation, 0, len(observations))
	for _, obs := range observations {
		tag := obs.SupplierID
		if tag == "" {
			tag = obs.SupplierName
		}
		key := fmt.Sprintf("%s|%d", tag, obs.PriceScaled)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, obs)
	}
	return out
}

// GetDrug fetches a single drug by ID.
func (s *Store) GetDrug(ctx context.Context, drugID string) (Drug, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(upstream_id,''), name, specification, manufacturer,
		        category, category_confidence, category_source, COALESCE(approval_number,''),
		        created_at, updated_at
		 FROM drugs WHERE id = $1`, drugID)

	var d Drug
	err := row.Scan(&d.ID, &d.UpstreamID, &d.Name, &d.Specification, &d.Manufacturer,
		&d.Category, &d.CategoryConfidence, &d.CategorySource, &d.ApprovalNumber,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Drug{}, apperr.NotFound("drug %s", drugID)
	}
	if err != nil {
		return Drug{}, apperr.Persistence(err)
	}
	return d, nil
}

// ListDrugs returns drugs matching filter, used by analytics search.
func (s *Store) ListDrugs(ctx context.Context, filter DrugFilter) ([]Drug, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, COALESCE(upstream_id,''), name, specification, manufacturer,
	                  category, category_confidence, category_source, COALESCE(approval_number,''),
	                  created_at, updated_at
	           FROM drugs
	           WHERE ($1 = '' OR category = $1)
	             AND ($2 = '' OR name ILIKE '%' || $2 || '%'
	                  OR specification ILIKE '%' || $2 || '%'
	                  OR EXISTS (SELECT 1 FROM drug_aliases a
	                             WHERE a.drug_id = drugs.id AND a.alias ILIKE '%' || $2 || '%'))
	           ORDER BY updated_at DESC
	           LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, filter.Category, filter.NameContains, limit, filter.Offset)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []Drug
	for rows.Next() {
		var d Drug
		if err := rows.Scan(&d.ID, &d.UpstreamID, &d.Name, &d.Specification, &d.Manufacturer,
			&d.Category, &d.CategoryConfidence, &d.CategorySource, &d.ApprovalNumber,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetPrices returns a drug's price history, optionally including annotated
// outlier rows.
func (s *Store) GetPrices(ctx context.Context, drugID string, filter PriceFilter) ([]PriceRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	since := time.Time{}
	if filter.Since != nil {
		since = *filter.Since
	}

	query := `SELECT id, drug_id, price_scaled, supplier_name, COALESCE(supplier_id,''),
	                  COALESCE(source_url,''), crawled_at, is_outlier, COALESCE(outlier_reason,'')
	           FROM price_records
	           WHERE drug_id = $1
	             AND ($2 OR is_outlier = 0)
	             AND crawled_at >= $3
	           ORDER BY crawled_at DESC
	           LIMIT $4`

	rows, err := s.pool.Query(ctx, query, drugID, filter.IncludeOutliers, since, limit)
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
