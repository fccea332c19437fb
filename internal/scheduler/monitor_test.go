package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/store"
)

func TestEvaluateRule_NewSupplierFiresOnlyWithoutPrior(t *testing.T) {
	rule := store.MonitorRule{Kind: store.RuleKindNewSupplier}
	obs := store.Observation{SupplierID: "s1", PriceScaled: 1000}

	_, fires := evaluateRule(rule, "s1", obs, store.PriceRecord{}, false)
	assert.True(t, fires)

	_, fires = evaluateRule(rule, "s1", obs, store.PriceRecord{PriceScaled: 900}, true)
	assert.False(t, fires)
}

func TestEvaluateRule_PriceDropThreshold(t *testing.T) {
	rule := store.MonitorRule{Kind: store.RuleKindPriceDrop, ThresholdPct: 10}
	prior := store.PriceRecord{PriceScaled: 1000}

	// 15% drop: 1000 -> 850
	_, fires := evaluateRule(rule, "s1", store.Observation{PriceScaled: 850}, prior, true)
	assert.True(t, fires)

	// 5% drop: below threshold
	_, fires = evaluateRule(rule, "s1", store.Observation{PriceScaled: 950}, prior, true)
	assert.False(t, fires)
}

func TestEvaluateRule_PriceRiseThreshold(t *testing.T) {
	rule := store.MonitorRule{Kind: store.RuleKindPriceRise, ThresholdPct: 10}
	prior := store.PriceRecord{PriceScaled: 1000}

	_, fires := evaluateRule(rule, "s1", store.Observation{PriceScaled: 1150}, prior, true)
	assert.True(t, fires)

	_, fires = evaluateRule(rule, "s1", store.Observation{PriceScaled: 1050}, prior, true)
	assert.False(t, fires)
}

func TestLatestPerSupplierKey_PicksMostRecent(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	rows := []store.PriceRecord{
		{SupplierID: "s1", PriceScaled: 1000, CrawledAt: older},
		{SupplierID: "s1", PriceScaled: 900, CrawledAt: newer},
	}
	out := latestPerSupplierKey(rows)
	assert.Equal(t, int64(900), out["s1"].PriceScaled)
}
