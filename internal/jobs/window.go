package jobs

import "time"

// Quiet reports whether now falls in one of the given hours.
func Quiet(now time.Time, quietHours []int) bool {
	for _, q := range quietHours {
		if q == now.Hour() {
			return true
		}
	}
	return false
}

// NextWindow returns the first time at or after now outside quiet hours,
// searching up to two days ahead on hour boundaries.
func NextWindow(now time.Time, quietHours []int) time.Time {
	if !Quiet(now, quietHours) {
		return now
	}
	start := now.Truncate(time.Hour)
	for i := 1; i <= 48; i++ {
		cand := start.Add(time.Duration(i) * time.Hour)
		if !Quiet(cand, quietHours) {
			return cand
		}
	}
	return now.Add(15 * time.Minute)
}
