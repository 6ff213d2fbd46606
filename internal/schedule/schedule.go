// Package schedule computes the next run instant for a job's recurrence spec.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"newscast/internal/model"
)

// defaultWeekday is used when a weekly schedule omits the weekday.
const defaultWeekday = time.Monday

// NextRun returns the next UTC instant at which the schedule fires, strictly
// after ref. The time of day is interpreted in the schedule's IANA timezone,
// and the zone offset is resolved per candidate date so the result stays
// correct across DST transitions.
func NextRun(s model.Schedule, ref time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}

	hour, minute, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	local := ref.In(loc)

	switch s.Mode {
	case model.ScheduleDaily:
		return nextDaily(local, hour, minute, loc, ref), nil
	case model.ScheduleWeekly:
		wd := defaultWeekday
		if s.Weekday != nil {
			wd = *s.Weekday
		}
		return nextWeekly(local, wd, hour, minute, loc, ref), nil
	}
	return time.Time{}, fmt.Errorf("unknown schedule mode %q", s.Mode)
}

// nextDaily returns today's slot if it is still ahead of ref, otherwise
// tomorrow's. time.Date re-resolves the zone offset for whichever date is
// chosen.
func nextDaily(local time.Time, hour, minute int, loc *time.Location, ref time.Time) time.Time {
	slot := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !slot.After(ref) {
		next := local.AddDate(0, 0, 1)
		slot = time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, loc)
	}
	return slot.UTC()
}

// nextWeekly finds the nearest date on or after the reference date whose
// weekday matches, allowing today only while the slot has not passed yet.
// The result is never more than seven days ahead.
func nextWeekly(local time.Time, wd time.Weekday, hour, minute int, loc *time.Location, ref time.Time) time.Time {
	days := (int(wd) - int(local.Weekday()) + 7) % 7
	candidate := local.AddDate(0, 0, days)
	slot := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), hour, minute, 0, 0, loc)
	if !slot.After(ref) {
		candidate = candidate.AddDate(0, 0, 7)
		slot = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), hour, minute, 0, 0, loc)
	}
	return slot.UTC()
}

func parseTimeOfDay(v string) (hour, minute int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour, minute, nil
}
