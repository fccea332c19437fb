package analytics

import "time"

// daysAgo returns the UTC instant `days` days before now; days <= 0 means
// "no lower bound" (the zero time, which GetPrices' Since filter treats as
// unbounded).
func daysAgo(days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return time.Now().UTC().AddDate(0, 0, -days)
}
