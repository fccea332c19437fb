package outlier_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/outlier"
)

func TestAnnotate_PlaceholderInjection(t *testing.T) {
	// Scenario 3 from the spec's seed suite: [650, 650, 660, 830, 9999].
	obs := []outlier.Observation{
		{ID: "a", PriceScaled: 65000},
		{ID: "b", PriceScaled: 65000},
		{ID: "c", PriceScaled: 66000},
		{ID: "d", PriceScaled: 83000},
		{ID: "e", PriceScaled: 999900},
	}
	got := outlier.Annotate(obs)
	byID := map[string]outlier.Annotation{}
	for _, a := range got {
		byID[a.ID] = a
	}

	assert.Equal(t, outlier.FlagPlaceholder, byID["e"].Flag)
	assert.Equal(t, "placeholder", byID["e"].Reason)
	assert.Equal(t, outlier.FlagNormal, byID["a"].Flag)
	assert.Equal(t, outlier.FlagNormal, byID["b"].Flag)
	assert.Equal(t, outlier.FlagNormal, byID["c"].Flag)
	assert.Equal(t, outlier.FlagNormal, byID["d"].Flag)
}

func TestAnnotate_FewerThanFour_OnlyPlaceholderRuleApplies(t *testing.T) {
	obs := []outlier.Observation{
		{ID: "a", PriceScaled: 100000000},
		{ID: "b", PriceScaled: 100},
		{ID: "c", PriceScaled: 999900},
	}
	got := outlier.Annotate(obs)
	for _, a := range got {
		if a.ID == "c" {
			assert.Equal(t, outlier.FlagPlaceholder, a.Flag)
		} else {
			assert.Equal(t, outlier.FlagNormal, a.Flag)
		}
	}
}

func TestAnnotate_Totality(t *testing.T) {
	obs := []outlier.Observation{
		{ID: "a", PriceScaled: 1000}, {ID: "b", PriceScaled: 1200},
		{ID: "c", PriceScaled: 1100}, {ID: "d", PriceScaled: 1300},
		{ID: "e", PriceScaled: 50000},
	}
	got := outlier.Annotate(obs)
	assert.Len(t, got, len(obs))
	closed := map[outlier.Flag]bool{
		outlier.FlagLow: true, outlier.FlagNormal: true,
		outlier.FlagHigh: true, outlier.FlagPlaceholder: true,
	}
	for _, a := range got {
		assert.True(t, closed[a.Flag])
	}
}

func TestAnnotate_HighOutlierFlagged(t *testing.T) {
	obs := []outlier.Observation{
		{ID: "a", PriceScaled: 1000}, {ID: "b", PriceScaled: 1050},
		{ID: "c", PriceScaled: 1100}, {ID: "d", PriceScaled: 1080},
		{ID: "e", PriceScaled: 100000},
	}
	got := outlier.Annotate(obs)
	var high outlier.Annotation
	for _, a := range got {
		if a.ID == "e" {
			high = a
		}
	}
	assert.Equal(t, outlier.FlagHigh, high.Flag)
	assert.Contains(t, high.Reason, "high")
}

func TestLocker_SerializesSameDrug(t *testing.T) {
	l := outlier.NewLocker()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("drug-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
}
