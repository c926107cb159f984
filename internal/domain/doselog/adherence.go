package doselog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDays is the report window used when days is absent or unusable.
	DefaultDays = 7
	// MaxDays bounds the window so date arithmetic stays in range.
	MaxDays = 3650

	dayKeyLayout = "2006-01-02"
)

// ParseDays reads the days query value. Anything that is not a positive
// integer falls back to DefaultDays rather than failing the request.
func ParseDays(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return DefaultDays
	}
	if n > MaxDays {
		return MaxDays
	}
	return n
}

// Window is a time range. The current window includes To, the previous
// window excludes it.
type Window struct {
	From time.Time
	To   time.Time
}

// Period holds the two windows a report compares.
type Period struct {
	Days     int
	Current  Window
	Previous Window
}

// NewPeriod anchors both windows at local midnight of now so the report does
// not drift with the time of day it is requested.
func NewPeriod(now time.Time, loc *time.Location, days int) Period {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	curFrom := midnight.AddDate(0, 0, -days)
	return Period{
		Days:     days,
		Current:  Window{From: curFrom, To: now},
		Previous: Window{From: midnight.AddDate(0, 0, -2*days), To: curFrom},
	}
}

// Percent is round-half-up of taken/total*100 in integer arithmetic. An empty
// window counts as fully adherent.
func Percent(taken, total int) int {
	if total <= 0 {
		return 100
	}
	return (200*taken + total) / (2 * total)
}

// FormatTrend renders a percentage point delta. Only positive values get a
// leading plus sign.
func FormatTrend(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("+%d%%", delta)
	}
	return fmt.Sprintf("%d%%", delta)
}

// DayKey is the calendar date of t in loc, used to bucket the breakdown.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayKeyLayout)
}

// Compute builds the report from events already fetched for each window.
func Compute(p Period, current, previous []*DoseEvent, loc *time.Location) AdherenceReport {
	report := AdherenceReport{
		Days:           p.Days,
		PeriodLabel:    fmt.Sprintf("%d days", p.Days),
		DailyBreakdown: make(map[string]DayStats),
		From:           p.Current.From,
		To:             p.Current.To,
	}

	for _, e := range current {
		key := DayKey(e.Timestamp, loc)
		day := report.DailyBreakdown[key]
		day.Total++
		report.Stats.Total++
		switch e.Status {
		case StatusTaken:
			day.Taken++
			report.Stats.Taken++
		case StatusMissed:
			report.Stats.Missed++
		case StatusSkipped:
			report.Stats.Skipped++
		}
		report.DailyBreakdown[key] = day
	}

	prevTaken := 0
	for _, e := range previous {
		if e.Status == StatusTaken {
			prevTaken++
		}
	}

	report.AdherencePercent = Percent(report.Stats.Taken, report.Stats.Total)
	report.PreviousAdherencePercent = Percent(prevTaken, len(previous))
	report.Trend = FormatTrend(report.AdherencePercent - report.PreviousAdherencePercent)
	return report
}
