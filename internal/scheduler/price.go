package scheduler

import (
	"github.com/shopspring/decimal"
)

// scaleFactor converts a decimal price into the ×100 fixed-point
// representation internal/store persists, matching the boundary encoding
// described in spec §4.7.
var scaleFactor = decimal.NewFromInt(100)

// parseDecimalToScaled converts a decimal price string (e.g. "12.50",
// harvested from an upstream JSON field or a rendered page) into its ×100
// fixed-point representation. Malformed input is reported as a
// NormalizationError-shaped miss (ok == false) so the caller can drop the
// offending offer rather than writing a garbage price.
func parseDecimalToScaled(raw string) (int64, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	scaled := d.Mul(scaleFactor).Round(0)
	return scaled.IntPart(), true
}
