package report

import "time"

// forex session boundaries, UTC
var (
	marketOpen        = 22*time.Hour + 2*time.Minute  // Sunday 22:02
	marketCloseFriday = 20*time.Hour + 57*time.Minute // Friday 20:57
)

// TradingHours reports whether t falls inside the weekly forex session.
// Scheduled reports outside the session are skipped; event alerts are
// not gated.
func TradingHours(t time.Time) bool {
	t = t.UTC()
	sinceMidnight := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second

	switch t.Weekday() {
	case time.Sunday:
		return sinceMidnight >= marketOpen
	case time.Monday, time.Tuesday, time.Wednesday, time.Thursday:
		return true
	case time.Friday:
		return sinceMidnight <= marketCloseFriday
	default: // Saturday
		return false
	}
}
