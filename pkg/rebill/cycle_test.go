package rebill

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestNextBillingDate_Monthly(t *testing.T) {
	tests := []struct {
		name   string
		anchor time.Time
		want   time.Time
	}{
		{
			name:   "mid-month",
			anchor: date(2026, time.March, 15),
			want:   date(2026, time.April, 15),
		},
		{
			name:   "jan 31 clamps to feb 28",
			anchor: date(2026, time.January, 31),
			want:   date(2026, time.February, 28),
		},
		{
			name:   "jan 31 clamps to feb 29 in leap year",
			anchor: date(2028, time.January, 31),
			want:   date(2028, time.February, 29),
		},
		{
			name:   "mar 31 clamps to apr 30",
			anchor: date(2026, time.March, 31),
			want:   date(2026, time.April, 30),
		},
		{
			name:   "dec rolls into next year",
			anchor: date(2026, time.December, 15),
			want:   date(2027, time.January, 15),
		},
		{
			name:   "first of month",
			anchor: date(2026, time.June, 1),
			want:   date(2026, time.July, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBillingDate(tt.anchor, CycleMonthly)
			if !got.Equal(tt.want) {
				t.Errorf("NextBillingDate(%v, monthly) = %v, want %v", tt.anchor, got, tt.want)
			}
		})
	}
}

func TestNextBillingDate_Yearly(t *testing.T) {
	tests := []struct {
		name   string
		anchor time.Time
		want   time.Time
	}{
		{
			name:   "plain year",
			anchor: date(2026, time.March, 15),
			want:   date(2027, time.March, 15),
		},
		{
			name:   "feb 29 clamps to feb 28 off leap years",
			anchor: date(2028, time.February, 29),
			want:   date(2029, time.February, 28),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBillingDate(tt.anchor, CycleYearly)
			if !got.Equal(tt.want) {
				t.Errorf("NextBillingDate(%v, yearly) = %v, want %v", tt.anchor, got, tt.want)
			}
		})
	}
}

func TestNextBillingDate_Test(t *testing.T) {
	anchor := date(2026, time.March, 15)
	got := NextBillingDate(anchor, CycleTest)
	if want := anchor.Add(time.Minute); !got.Equal(want) {
		t.Errorf("NextBillingDate(test) = %v, want %v", got, want)
	}
}

func TestNextBillingDate_UnknownCycleDefaultsMonthly(t *testing.T) {
	anchor := date(2026, time.March, 15)
	got := NextBillingDate(anchor, Cycle("weekly"))
	if want := date(2026, time.April, 15); !got.Equal(want) {
		t.Errorf("NextBillingDate(unknown) = %v, want %v", got, want)
	}
}

func TestNextBillingDate_PreservesClock(t *testing.T) {
	anchor := time.Date(2026, time.January, 31, 23, 59, 58, 123, time.UTC)
	got := NextBillingDate(anchor, CycleMonthly)
	if got.Hour() != 23 || got.Minute() != 59 || got.Second() != 58 || got.Nanosecond() != 123 {
		t.Errorf("clock not preserved: got %v", got)
	}
}

// Iterating the monthly computation must always move strictly forward
// and never overflow into the next month (Jan 31 + 1 month is Feb 28,
// never Mar 3).
func TestNextBillingDate_MonthlyIterationStaysValid(t *testing.T) {
	current := date(2026, time.January, 31)
	for i := 0; i < 24; i++ {
		next := NextBillingDate(current, CycleMonthly)
		if !next.After(current) {
			t.Fatalf("iteration %d: %v not after %v", i, next, current)
		}
		wantMonth := time.Month((int(current.Month()) % 12) + 1)
		if next.Month() != wantMonth {
			t.Fatalf("iteration %d: month %s, want %s (overflow from day clamping?)",
				i, next.Month(), wantMonth)
		}
		if next.Day() > current.Day() {
			t.Fatalf("iteration %d: day grew from %d to %d", i, current.Day(), next.Day())
		}
		current = next
	}
}
