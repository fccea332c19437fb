// Package analytics implements the read-only compare/history/recommendation
// queries (C10) described in spec §4.10, built entirely over
// internal/store's read paths. Prices cross this boundary as
// shopspring/decimal values with two fractional digits, never a raw float,
// matching the persistence layer's fixed-point boundary encoding.
package analytics

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/apperr"
	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

// reader is the subset of *store.Store the analytics layer needs; an
// interface here lets tests substitute an in-memory fake.
type reader interface {
	ListDrugs(ctx context.Context, filter store.DrugFilter) ([]store.Drug, error)
	GetDrug(ctx context.Context, drugID string) (store.Drug, error)
	GetPrices(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error)
}

// Service answers C10's four read-only queries.
type Service struct {
	store reader
}

// NewService constructs an analytics Service over st.
func NewService(st reader) *Service {
	return &Service{store: st}
}

var hundred = decimal.NewFromInt(100)

func toDecimal(scaled int64) decimal.Decimal {
	return decimal.NewFromInt(scaled).DivRound(hundred, 2)
}

// SearchDrugs matches query as a case-insensitive substring against a
// drug's name, specification and aliases (internal/store.ListDrugs'
// NameContains filter), optionally narrowed by category, ordered by
// most-recent activity.
func (s *Service) SearchDrugs(ctx context.Context, query, category string) ([]store.Drug, error) {
	return s.store.ListDrugs(ctx, store.DrugFilter{NameContains: query, Category: category})
}

// SupplierQuote is one supplier's latest observed price in a comparison.
type SupplierQuote struct {
	SupplierName string          `json:"supplier_name"`
	SupplierID   string          `json:"supplier_id,omitempty"`
	Price        decimal.Decimal `json:"price"`
	CrawledAt    string          `json:"crawled_at"`
}

// ComparisonView is CompareDrug's result: prices ordered ascending (P6),
// with the lowest/highest bound and the percentage spread between them (P7).
type ComparisonView struct {
	DrugID  string          `json:"drug_id"`
	Prices  []SupplierQuote `json:"prices"`
	Lowest  decimal.Decimal `json:"lowest"`
	Highest decimal.Decimal `json:"highest"`
	DiffPct decimal.Decimal `json:"diff_pct"`
}

// CompareDrug returns the latest-per-supplier price list for drugID sorted
// ascending by price, with ties broken by the most recent crawled_at (P6),
// plus the lowest/highest bound and diff_pct = (highest-lowest)/lowest*100
// (P7).
func (s *Service) CompareDrug(ctx context.Context, drugID string, includeOutliers bool) (ComparisonView, error) {
	rows, err := s.store.GetPrices(ctx, drugID, store.PriceFilter{IncludeOutliers: includeOutliers})
	if err != nil {
		return ComparisonView{}, err
	}

	latest := latestPerSupplier(rows)
	if len(latest) == 0 {
		return ComparisonView{}, apperr.NotFound("no price observations for drug %s", drugID)
	}

	sort.Slice(latest, func(i, j int) bool {
		if latest[i].PriceScaled != latest[j].PriceScaled {
			return latest[i].PriceScaled < latest[j].PriceScaled
		}
		return latest[i].CrawledAt.After(latest[j].CrawledAt)
	})

	quotes := make([]SupplierQuote, len(latest))
	for i, r := range latest {
		quotes[i] = SupplierQuote{
			SupplierName: r.SupplierName,
			SupplierID:   r.SupplierID,
			Price:        toDecimal(r.PriceScaled),
			CrawledAt:    r.CrawledAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}

	lowest := latest[0].PriceScaled
	highest := latest[len(latest)-1].PriceScaled

	var diffPct decimal.Decimal
	if lowest > 0 {
		diffPct = toDecimal(highest - lowest).
			Div(toDecimal(lowest)).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	return ComparisonView{
		DrugID:  drugID,
		Prices:  quotes,
		Lowest:  toDecimal(lowest),
		Highest: toDecimal(highest),
		DiffPct: diffPct,
	}, nil
}

// latestPerSupplier collapses rows to one entry per (supplier_id||supplier_name),
// keeping the most recently crawled observation.
func latestPerSupplier(rows []store.PriceRecord) []store.PriceRecord {
	best := make(map[string]store.PriceRecord, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		key := r.SupplierID
		if key == "" {
			key = r.SupplierName
		}
		existing, ok := best[key]
		if !ok {
			best[key] = r
			order = append(order, key)
			continue
		}
		if r.CrawledAt.After(existing.CrawledAt) {
			best[key] = r
		}
	}
	out := make([]store.PriceRecord, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// PricePoint is one chronological entry in a PriceHistory result.
type PricePoint struct {
	Price        decimal.Decimal `json:"price"`
	SupplierName string          `json:"supplier_name"`
	CrawledAt    string          `json:"crawled_at"`
	IsOutlier    int             `json:"is_outlier"`
}

// PriceHistory returns drugID's price observations from the last `days`
// days, chronologically ordered, honoring includeOutliers.
func (s *Service) PriceHistory(ctx context.Context, drugID string, days int, includeOutliers bool) ([]PricePoint, error) {
	since := daysAgo(days)
	rows, err := s.store.GetPrices(ctx, drugID, store.PriceFilter{IncludeOutliers: includeOutliers, Since: &since})
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].CrawledAt.Before(rows[j].CrawledAt) })

	out := make([]PricePoint, len(rows))
	for i, r := range rows {
		out[i] = PricePoint{
			Price:        toDecimal(r.PriceScaled),
			SupplierName: r.SupplierName,
			CrawledAt:    r.CrawledAt.UTC().Format("2006-01-02T15:04:05Z"),
			IsOutlier:    int(r.IsOutlier),
		}
	}
	return out, nil
}

// Allocation is one supplier's share of a ProcurementRecommendation.
type Allocation struct {
	SupplierName string          `json:"supplier_name"`
	SupplierID   string          `json:"supplier_id,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Recommendation is ProcurementRecommendation's result.
type Recommendation struct {
	DrugID           string          `json:"drug_id"`
	Allocations      []Allocation    `json:"allocations"`
	TotalQuantity    int             `json:"total_quantity"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	MedianUnitPrice  decimal.Decimal `json:"median_unit_price"`
	EstimatedSavings decimal.Decimal `json:"estimated_savings"`
}

// ProcurementRecommendation greedily allocates quantity units across the
// ascending price list (cheapest suppliers first), bounded by quantity and
// optionally by budget, reporting estimated savings relative to the median
// supplier price.
func (s *Service) ProcurementRecommendation(ctx context.Context, drugID string, quantity int, budget *decimal.Decimal) (Recommendation, error) {
	if quantity <= 0 {
		return Recommendation{}, apperr.InvalidInput("quantity must be > 0")
	}

	rows, err := s.store.GetPrices(ctx, drugID, store.PriceFilter{})
	if err != nil {
		return Recommendation{}, err
	}
	latest := latestPerSupplier(rows)
	if len(latest) == 0 {
		return Recommendation{}, apperr.NotFound("no price observations for drug %s", drugID)
	}

	sort.Slice(latest, func(i, j int) bool { return latest[i].PriceScaled < latest[j].PriceScaled })

	median := medianPriceScaled(latest)

	remaining := quantity
	var spent decimal.Decimal
	allocations := make([]Allocation, 0, len(latest))

	for _, r := range latest {
		if remaining <= 0 {
			break
		}

		unitPrice := toDecimal(r.PriceScaled)
		take := remaining
		if budget != nil {
			affordable := budget.Sub(spent).Div(unitPrice).Floor().IntPart()
			if affordable <= 0 {
				continue
			}
			if int64(take) > affordable {
				take = int(affordable)
			}
		}
		if take <= 0 {
			continue
		}

		subtotal := unitPrice.Mul(decimal.NewFromInt(int64(take))).Round(2)
		spent = spent.Add(subtotal)
		remaining -= take

		allocations = append(allocations, Allocation{
			SupplierName: r.SupplierName,
			SupplierID:   r.SupplierID,
			UnitPrice:    unitPrice,
			Quantity:     take,
			Subtotal:     subtotal,
		})
	}

	allocated := quantity - remaining
	medianCost := toDecimal(median).Mul(decimal.NewFromInt(int64(allocated))).Round(2)
	savings := medianCost.Sub(spent)

	return Recommendation{
		DrugID:           drugID,
		Allocations:      allocations,
		TotalQuantity:    allocated,
		TotalCost:        spent.Round(2),
		MedianUnitPrice:  toDecimal(median),
		EstimatedSavings: savings.Round(2),
	}, nil
}

func medianPriceScaled(sorted []store.PriceRecord) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2].PriceScaled
	}
	return (sorted[n/2-1].PriceScaled + sorted[n/2].PriceScaled) / 2
}
