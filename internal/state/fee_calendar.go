package state

import "time"

// Fee cadences are calendar based in UTC: management fees fall due at the
// last second of each month, performance fees at the last second of each
// quarter.

// NextMonthEnd returns the first month-end 23:59:59 UTC strictly after ts
func NextMonthEnd(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	end := periodEnd(t.Year(), t.Month())
	if end.Unix() <= ts {
		end = periodEnd(t.Year(), t.Month()+1)
	}
	return end.Unix()
}

// NextQuarterEnd returns the first quarter-end 23:59:59 UTC strictly after ts
func NextQuarterEnd(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	last := quarterLastMonth(t.Month())
	end := periodEnd(t.Year(), last)
	if end.Unix() <= ts {
		end = periodEnd(t.Year(), last+3)
	}
	return end.Unix()
}

// periodEnd returns 23:59:59 on the last day of month. time.Date normalises
// month overflow into the following year.
func periodEnd(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Second)
}

func quarterLastMonth(m time.Month) time.Month {
	return ((m-1)/3 + 1) * 3
}
