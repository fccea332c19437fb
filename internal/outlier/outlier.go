// Package outlier implements the post-insert annotation pass that flags
// placeholder and statistical outliers over a drug's price set without
// ever deleting or mutating a price value.
package outlier

import (
	"sort"
	"sync"
)

// Flag is the closed set of outlier states a PriceRecord can carry.
type Flag int

const (
	FlagLow         Flag = -1
	FlagNormal      Flag = 0
	FlagHigh        Flag = 1
	FlagPlaceholder Flag = 2
)

// placeholderPrices is the exact set of sentinel values suppliers use when a
// real price is unavailable, scaled ×100 to match PriceRecord.PriceScaled.
var placeholderPrices = map[int64]bool{
	999900:   true, // 9999.00
	9999900:  true, // 99999.00
	99999900: true, // 999999.00
}

// Observation is the minimal shape the annotator needs: an opaque row
// identifier plus its scaled price.
type Observation struct {
	ID          string
	PriceScaled int64
}

// Annotation is the outcome for one observation.
type Annotation struct {
	ID     string
	Flag   Flag
	Reason string
}

// Annotate applies the placeholder rule, then — if at least 4 non-placeholder
// observations remain — the Tukey-fence statistical rule, over the given
// price set. Every observation receives exactly one Annotation (P5:
// Outlier totality). The rows passed in are expected to be the drug's full,
// currently-unannotated price set, scoped by the caller via Locker.
func Annotate(observations []Observation) []Annotation {
	out := make([]Annotation, 0, len(observations))

	nonPlaceholder := make([]Observation, 0, len(observations))
	for _, o := range observations {
		if placeholderPrices[o.PriceScaled] {
			out = append(out, Annotation{ID: o.ID, Flag: FlagPlaceholder, Reason: "placeholder"})
		} else {
			nonPlaceholder = append(nonPlaceholder, o)
		}
	}

	if len(nonPlaceholder) < 4 {
		for _, o := range nonPlaceholder {
			out = append(out, Annotation{ID: o.ID, Flag: FlagNormal})
		}
		return out
	}

	low, high := tukeyFences(nonPlaceholder)
	for _, o := range nonPlaceholder {
		switch {
		case o.PriceScaled < low:
			out = append(out, Annotation{ID: o.ID, Flag: FlagLow, Reason: lowReason(low)})
		case o.PriceScaled > high:
			out = append(out, Annotation{ID: o.ID, Flag: FlagHigh, Reason: highReason(high)})
		default:
			out = append(out, Annotation{ID: o.ID, Flag: FlagNormal})
		}
	}
	return out
}

// tukeyFences computes [Q1-1.5*IQR, Q3+1.5*IQR] over the scaled prices,
// with Q1 and Q3 taken as Tukey's hinges: the medians of the lower and
// upper halves of the sorted prices, each half including the median when
// the count is odd.
func tukeyFences(observations []Observation) (low, high int64) {
	prices := make([]int64, len(observations))
	for i, o := range observations {
		prices[i] = o.PriceScaled
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	n := len(prices)
	q1 := percentile(prices[:(n+1)/2], 0.5)
	q3 := percentile(prices[n/2:], 0.5)
	iqr := q3 - q1

	low = q1 - (iqr*3)/2
	high = q3 + (iqr*3)/2
	return low, high
}

// percentile computes the p-th percentile of a sorted slice using linear
// interpolation between closest ranks.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + int64(frac*float64(sorted[hi]-sorted[lo]))
}

func lowReason(low int64) string  { return "low (<" + formatScaled(low) + ")" }
func highReason(high int64) string { return "high (>" + formatScaled(high) + ")" }

func formatScaled(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	whole := v / 100
	frac := v % 100
	s := itoa(whole) + "." + pad2(frac)
	if neg {
		s = "-" + s
	}
	return s
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func pad2(v int64) string {
	s := itoa(v)
	for len(s) < 2 {
		s = "0" + s
	}
	return s
}

// Locker hands out a per-drug mutex so a concurrent AppendPrices on the same
// drug cannot race the annotation window, per §5's "per-drug logical lock".
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires (creating if necessary) the mutex for drugID and returns an
// unlock function for the caller to defer.
func (l *Locker) Lock(drugID string) func() {
	l.mu.Lock()
	m, ok := l.locks[drugID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[drugID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
