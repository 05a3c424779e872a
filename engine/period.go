package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Calendar month, the unit of every compensation run
// =============================================================================

// Period identifies one calendar month ("2025-03"). Snapshots, ranks and
// commission runs are always scoped to exactly one Period; it is threaded
// explicitly through every call - there is no process-wide "current month".
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the period containing the given instant (UTC).
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Year: u.Year(), Month: u.Month()}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// MustParsePeriod parses "YYYY-MM" or panics. For tests and plan fixtures.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) IsZero() bool { return p.Year == 0 }

// Start returns the first instant of the month (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// EndExclusive returns the first instant of the following month. Period
// membership is always [Start, EndExclusive).
func (p Period) EndExclusive() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(p.Start()) && u.Before(p.EndExclusive())
}

func (p Period) Next() Period {
	t := p.Start().AddDate(0, 1, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) Prev() Period {
	t := p.Start().AddDate(0, -1, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

// Back returns the period n months before this one. Back(0) is the period
// itself. Used by multi-period lookbacks (car/vacation programs).
func (p Period) Back(n int) Period {
	t := p.Start().AddDate(0, -n, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

// Equal compares periods.
func (p Period) Equal(o Period) bool { return p.Year == o.Year && p.Month == o.Month }

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
