package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bucket keys identify one scheduling window of a recurring task. A task
// runs successfully at most once per bucket; a bucket that passes without
// a run is never backfilled. All functions here are pure over the local
// clock value they are handed.

// DailyBucket reports whether a daily task scheduled at timeLocal (HH:MM)
// is due at nowLocal, and the calendar-date bucket key for that day.
func DailyBucket(timeLocal string, nowLocal time.Time) (bucket string, due bool, err error) {
	hh, mm, err := parseHHMM(timeLocal)
	if err != nil {
		return "", false, err
	}
	bucket = nowLocal.Format("2006-01-02")
	scheduled := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), hh, mm, 0, 0, nowLocal.Location())
	return bucket, !nowLocal.Before(scheduled), nil
}

// WeeklyBucket reports whether a weekly task scheduled on dayLocal at
// timeLocal is due at nowLocal, and the ISO-week bucket key.
func WeeklyBucket(dayLocal, timeLocal string, nowLocal time.Time) (bucket string, due bool, err error) {
	day, err := parseWeekday(dayLocal)
	if err != nil {
		return "", false, err
	}
	_, dueTime, err := DailyBucket(timeLocal, nowLocal)
	if err != nil {
		return "", false, err
	}
	return WeekKey(nowLocal), nowLocal.Weekday() == day && dueTime, nil
}

// IntervalBucket returns the bucket key for a fixed-interval task: the
// local time floored to the interval. Interval tasks are always due; the
// bucket key alone provides the once-per-window guarantee.
func IntervalBucket(intervalMinutes int, nowLocal time.Time) string {
	if intervalMinutes <= 0 {
		intervalMinutes = 1
	}
	minutes := nowLocal.Hour()*60 + nowLocal.Minute()
	floored := minutes - minutes%intervalMinutes
	start := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), floored/60, floored%60, 0, 0, nowLocal.Location())
	return start.Format("2006-01-02T15:04")
}

// WeekKey returns the ISO-8601 week identifier for t, e.g. "2026-W03".
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func parseHHMM(s string) (hh, mm int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	return hh, mm, nil
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// parseWeekday accepts English day names ("Mon", "monday") or a digit 0-6
// counting from Monday.
func parseWeekday(value string) (time.Weekday, error) {
	lowered := strings.ToLower(strings.TrimSpace(value))
	if day, ok := weekdayNames[lowered]; ok {
		return day, nil
	}
	if n, err := strconv.Atoi(lowered); err == nil && n >= 0 && n <= 6 {
		// 0 is Monday, 6 is Sunday.
		return time.Weekday((n + 1) % 7), nil
	}
	return 0, fmt.Errorf("weekday %q must be Mon..Sun or 0..6", value)
}
