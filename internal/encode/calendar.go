package encode

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// MaxDaysBefore caps the days-before-holiday feature. Dates with no holiday
// within a year report this value.
const MaxDaysBefore = 365

// MonthDay is a fixed yearly date.
type MonthDay struct {
	Month time.Month
	Day   int
}

// ParseMonthDay parses "MM-DD".
func ParseMonthDay(s string) (MonthDay, error) {
	m, d, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return MonthDay{}, errors.Newf("holiday %q: want MM-DD", s)
	}
	mi, err := strconv.Atoi(m)
	if err != nil || mi < 1 || mi > 12 {
		return MonthDay{}, errors.Newf("holiday %q: bad month", s)
	}
	di, err := strconv.Atoi(d)
	// February 29 is allowed; it only matches in leap years.
	if err != nil || di < 1 || di > daysIn(time.Month(mi), 2024) {
		return MonthDay{}, errors.Newf("holiday %q: bad day", s)
	}
	return MonthDay{Month: time.Month(mi), Day: di}, nil
}

// ParseMonthDays parses every entry of ss.
func ParseMonthDays(ss []string) ([]MonthDay, error) {
	out := make([]MonthDay, 0, len(ss))
	for _, s := range ss {
		md, err := ParseMonthDay(s)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Features are the calendar columns derived from one date.
type Features struct {
	Date       time.Time
	Month      int
	Weekday    int // 1 = Monday ... 7 = Sunday
	Weekend    bool
	EarlyMonth bool // day < 10
	LateMonth  bool // day > 20
	Holiday    bool
	DaysBefore int // 0 on a holiday, capped at MaxDaysBefore
}

// FeatureSuffixes name the columns Append writes, after the date itself.
var FeatureSuffixes = []string{
	"month",
	"day_of_week",
	"is_weekend",
	"is_early_month",
	"is_late_month",
	"is_holiday",
	"days_before_holiday",
}

// Append writes the ISO date followed by the feature columns to out.
func (f Features) Append(out []string) []string {
	return append(out,
		f.Date.Format(time.DateOnly),
		strconv.Itoa(f.Month),
		strconv.Itoa(f.Weekday),
		flag(f.Weekend),
		flag(f.EarlyMonth),
		flag(f.LateMonth),
		flag(f.Holiday),
		strconv.Itoa(f.DaysBefore),
	)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Calendar computes date features against a fixed set of yearly holidays.
// Results are memoised per day; a Calendar is not safe for concurrent use.
type Calendar struct {
	holidays map[MonthDay]struct{}
	cache    map[int64]Features
}

// NewCalendar returns a calendar observing the given holidays.
func NewCalendar(holidays []MonthDay) *Calendar {
	c := &Calendar{
		holidays: make(map[MonthDay]struct{}, len(holidays)),
		cache:    make(map[int64]Features),
	}
	for _, h := range holidays {
		c.holidays[h] = struct{}{}
	}
	return c
}

func (c *Calendar) isHoliday(t time.Time) bool {
	_, ok := c.holidays[MonthDay{Month: t.Month(), Day: t.Day()}]
	return ok
}

// Features returns the features of the calendar day containing t. The time
// of day and location are discarded.
func (c *Calendar) Features(t time.Time) Features {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	key := day.Unix() / 86400
	if f, ok := c.cache[key]; ok {
		return f
	}

	wd := int(day.Weekday())
	if wd == 0 {
		wd = 7
	}
	f := Features{
		Date:       day,
		Month:      int(day.Month()),
		Weekday:    wd,
		Weekend:    wd >= 6,
		EarlyMonth: day.Day() < 10,
		LateMonth:  day.Day() > 20,
		Holiday:    c.isHoliday(day),
		DaysBefore: MaxDaysBefore,
	}
	if len(c.holidays) > 0 {
		for n := 0; n < MaxDaysBefore; n++ {
			if c.isHoliday(day.AddDate(0, 0, n)) {
				f.DaysBefore = n
				break
			}
		}
	}
	c.cache[key] = f
	return f
}

// DateParser parses the date column with a fixed layout. A value with a
// trailing time of day is accepted by parsing its first token.
type DateParser struct {
	Layout string
}

// Parse returns the date in v.
func (p DateParser) Parse(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	t, err := time.ParseInLocation(p.Layout, v, time.UTC)
	if err == nil {
		return t, nil
	}
	if head, _, ok := strings.Cut(v, " "); ok {
		if t, herr := time.ParseInLocation(p.Layout, head, time.UTC); herr == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(err, "parse date %q", v)
}
