package rebill

import "time"

// NextBillingDate computes the next billing date from an anchor for the
// given cycle. Pure and deterministic for fixed inputs.
//
// Monthly advances one calendar month preserving the day-of-month; when the
// target month is shorter the date clamps to its last day (Jan 31 -> Feb 28,
// or Feb 29 in leap years). Yearly advances one calendar year with the same
// clamping (Feb 29 -> Feb 28 off leap years). Test advances one minute.
func NextBillingDate(anchor time.Time, cycle Cycle) time.Time {
	switch cycle {
	case CycleYearly:
		return addYearsSafe(anchor, 1)
	case CycleTest:
		return anchor.Add(time.Minute)
	default:
		// Monthly is the default cadence for unknown cycles as well; the
		// reconciler guarantees the same fallback.
		return addMonthsSafe(anchor, 1)
	}
}

// addMonthsSafe adds months to a time, handling month-end edge cases.
// Standard Go pattern: use time.Date with day=1 to avoid overflow, then clip
// to the last day of the target month.
func addMonthsSafe(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetDate := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	// day=0 of month+1 is the last day of month.
	lastDay := time.Date(targetDate.Year(), targetDate.Month()+1, 0, 0, 0, 0, 0, targetDate.Location()).Day()

	actualDay := day
	if actualDay > lastDay {
		actualDay = lastDay
	}

	return time.Date(targetDate.Year(), targetDate.Month(), actualDay, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// addYearsSafe adds years with the same day-clamping as addMonthsSafe
// (relevant only for Feb 29 anchors).
func addYearsSafe(t time.Time, years int) time.Time {
	year, month, day := t.Date()
	targetDate := time.Date(year+years, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	lastDay := time.Date(targetDate.Year(), targetDate.Month()+1, 0, 0, 0, 0, 0, targetDate.Location()).Day()

	actualDay := day
	if actualDay > lastDay {
		actualDay = lastDay
	}

	return time.Date(targetDate.Year(), targetDate.Month(), actualDay, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
