package encode

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestCalendarFeatures(t *testing.T) {
	cal := NewCalendar([]MonthDay{{time.January, 1}, {time.April, 23}})

	tests := []struct {
		name string
		in   time.Time
		want Features
	}{
		{
			name: "saturday before a holiday",
			in:   day(2024, time.April, 20),
			want: Features{Date: day(2024, time.April, 20), Month: 4, Weekday: 6, Weekend: true, DaysBefore: 3},
		},
		{
			name: "sunday is day seven",
			in:   time.Date(2024, time.April, 21, 17, 30, 0, 0, time.UTC),
			want: Features{Date: day(2024, time.April, 21), Month: 4, Weekday: 7, Weekend: true, LateMonth: true, DaysBefore: 2},
		},
		{
			name: "holiday",
			in:   day(2024, time.April, 23),
			want: Features{Date: day(2024, time.April, 23), Month: 4, Weekday: 2, LateMonth: true, Holiday: true},
		},
		{
			name: "next holiday across the year end",
			in:   day(2024, time.April, 24),
			want: Features{Date: day(2024, time.April, 24), Month: 4, Weekday: 3, LateMonth: true, DaysBefore: 252},
		},
		{
			name: "early month",
			in:   day(2023, time.March, 9),
			want: Features{Date: day(2023, time.March, 9), Month: 3, Weekday: 4, EarlyMonth: true, DaysBefore: 45},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, cal.Features(tt.in)); diff != "" {
				t.Fatalf("Features() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCalendarWithoutHolidays(t *testing.T) {
	f := NewCalendar(nil).Features(day(2024, time.June, 1))
	if f.Holiday || f.DaysBefore != MaxDaysBefore {
		t.Fatalf("features = %+v, want no holiday and DaysBefore=%d", f, MaxDaysBefore)
	}
}

func TestFeaturesAppend(t *testing.T) {
	f := Features{Date: day(2023, time.May, 1), Month: 5, Weekday: 1, EarlyMonth: true, Holiday: true}
	got := f.Append([]string{"x"})
	want := []string{"x", "2023-05-01", "5", "1", "0", "1", "0", "1", "0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Append() mismatch (-want +got):\n%s", diff)
	}
	if len(got)-2 != len(FeatureSuffixes) {
		t.Fatalf("Append wrote %d features, FeatureSuffixes names %d", len(got)-2, len(FeatureSuffixes))
	}
}

func TestParseMonthDay(t *testing.T) {
	tests := []struct {
		in      string
		want    MonthDay
		wantErr bool
	}{
		{in: "01-01", want: MonthDay{time.January, 1}},
		{in: " 10-29 ", want: MonthDay{time.October, 29}},
		{in: "02-29", want: MonthDay{time.February, 29}},
		{in: "02-30", wantErr: true},
		{in: "13-01", wantErr: true},
		{in: "0101", wantErr: true},
		{in: "ab-01", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMonthDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseMonthDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseMonthDay(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestDateParser(t *testing.T) {
	p := DateParser{Layout: "02.01.2006"}
	for _, in := range []string{"15.03.2024", " 15.03.2024 ", "15.03.2024 13:45:00"} {
		got, err := p.Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", in, err)
		}
		if !got.Equal(day(2024, time.March, 15)) {
			t.Fatalf("Parse(%q) = %v", in, got)
		}
	}
	if _, err := p.Parse("2024-03-15"); err == nil {
		t.Fatal("Parse(ISO date) error = nil, want layout mismatch")
	}
}
