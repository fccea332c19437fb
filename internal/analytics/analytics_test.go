package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

// fakeStore is a hand-rolled function-field fake, following the teacher's
// mockQuerier pattern rather than a generated mock.
type fakeStore struct {
	listDrugs func(ctx context.Context, filter store.DrugFilter) ([]store.Drug, error)
	getDrug   func(ctx context.Context, drugID string) (store.Drug, error)
	getPrices func(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error)
}

func (f *fakeStore) ListDrugs(ctx context.Context, filter store.DrugFilter) ([]store.Drug, error) {
	return f.listDrugs(ctx, filter)
}
func (f *fakeStore) GetDrug(ctx context.Context, drugID string) (store.Drug, error) {
	return f.getDrug(ctx, drugID)
}
func (f *fakeStore) GetPrices(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error) {
	return f.getPrices(ctx, drugID, filter)
}

func TestCompareDrug_OrdersAscendingAndComputesDiffPct(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		getPrices: func(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error) {
			return []store.PriceRecord{
				{SupplierID: "s1", PriceScaled: 1500, CrawledAt: now},
				{SupplierID: "s2", PriceScaled: 1000, CrawledAt: now},
				{SupplierID: "s3", PriceScaled: 2000, CrawledAt: now},
			}, nil
		},
	}
	svc := NewService(fs)

	view, err := svc.CompareDrug(context.Background(), "d1", false)
	require.NoError(t, err)

	require.Len(t, view.Prices, 3)
	for i := 0; i < len(view.Prices)-1; i++ {
		assert.True(t, view.Prices[i].Price.LessThanOrEqual(view.Prices[i+1].Price))
	}
	assert.True(t, view.Lowest.LessThanOrEqual(view.Prices[0].Price))
	assert.True(t, view.Highest.GreaterThanOrEqual(view.Prices[len(view.Prices)-1].Price))

	// diff_pct = (20 - 10) / 10 * 100 = 100
	assert.True(t, view.DiffPct.Equal(decimal.NewFromInt(100)))
}

func TestCompareDrug_TiesBrokenByMostRecentCrawledAt(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	fs := &fakeStore{
		getPrices: func(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error) {
			return []store.PriceRecord{
				{SupplierID: "s1", SupplierName: "older", PriceScaled: 1000, CrawledAt: older},
				{SupplierID: "s2", SupplierName: "newer", PriceScaled: 1000, CrawledAt: newer},
			}, nil
		},
	}
	svc := NewService(fs)

	view, err := svc.CompareDrug(context.Background(), "d1", false)
	require.NoError(t, err)
	require.Len(t, view.Prices, 2)
	assert.Equal(t, "newer", view.Prices[0].SupplierName)
}

func TestCompareDrug_LatestPerSupplierCollapsesHistory(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	fs := &fakeStore{
		getPrices: func(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error) {
			return []store.PriceRecord{
				{SupplierID: "s1", PriceScaled: 1500, CrawledAt: older},
				{SupplierID: "s1", PriceScaled: 1200, CrawledAt: newer},
			}, nil
		},
	}
	svc := NewService(fs)

	view, err := svc.CompareDrug(context.Background(), "d1", false)
	require.NoError(t, err)
	require.Len(t, view.Prices, 1)
	assert.True(t, view.Prices[0].Price.Equal(decimal.RequireFromString("12.00")))
}

func TestProcurementRecommendation_GreedyAllocatesCheapestFirst(t *testing.T) {
	now := time.Now()
	fs := &fakeStore{
		getPrices: func(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error) {
			return []store.PriceRecord{
				{SupplierID: "cheap", PriceScaled: 1000, CrawledAt: now},
				{SupplierID: "mid", PriceScaled: 1500, CrawledAt: now},
				{SupplierID: "expensive", PriceScaled: 2000, CrawledAt: now},
			}, nil
		},
	}
	svc := NewService(fs)

	rec, err := svc.ProcurementRecommendation(context.Background(), "d1", 15, nil)
	require.NoError(t, err)

	require.NotEmpty(t, rec.Allocations)
	assert.Equal(t, "cheap", rec.Allocations[0].SupplierID)
	assert.Equal(t, 15, rec.TotalQuantity)
}

func TestProcurementRecommendation_RejectsNonPositiveQuantity(t *testing.T) {
	svc := NewService(&fakeStore{})
	_, err := svc.ProcurementRecommendation(context.Background(), "d1", 0, nil)
	require.Error(t, err)
}

func TestPriceHistory_ChronologicalOrder(t *testing.T) {
	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-time.Hour)
	fs := &fakeStore{
		getPrices: func(ctx context.Context, drugID string, filter store.PriceFilter) ([]store.PriceRecord, error) {
			return []store.PriceRecord{
				{PriceScaled: 1000, CrawledAt: t2},
				{PriceScaled: 900, CrawledAt: t1},
			}, nil
		},
	}
	svc := NewService(fs)

	points, err := svc.PriceHistory(context.Background(), "d1", 30, false)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].CrawledAt <= points[1].CrawledAt)
}
