package service

import (
	"fmt"
	"strings"
	"time"

	"venuszero/internal/config"
	"venuszero/internal/core/domain"
)

const (
	preEvalLeadMinutes   = 60
	preEvalWindowMinutes = 5
)

// TimeWindowEvaluator answers the wall-clock questions of the control
// loop: is charge/discharge currently permitted, are we inside the grid
// charge slot, are we in the pre-evaluation window ahead of it.
type TimeWindowEvaluator struct {
	Slots []domain.TimeSlot
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// IsOperationAllowed applies discharge/charge restrictions. Without any
// configured slots everything is allowed. Discharge requires being
// inside a slot. Charge is only restricted once a charge slot exists.
func (e *TimeWindowEvaluator) IsOperationAllowed(now time.Time, isCharging bool) bool {
	if len(e.Slots) == 0 {
		return true
	}
	day, minute := now.Weekday(), minuteOfDay(now)
	if isCharging {
		restricted := false
		for _, s := range e.Slots {
			if !s.AppliesToCharge {
				continue
			}
			restricted = true
			if s.Contains(day, minute) {
				return true
			}
		}
		return !restricted
	}
	for _, s := range e.Slots {
		if s.Contains(day, minute) {
			return true
		}
	}
	return false
}

// IsInPredictiveSlot reports whether now falls inside a grid charge
// slot, inclusive bounds, wrap-aware.
func (e *TimeWindowEvaluator) IsInPredictiveSlot(now time.Time) bool {
	day, minute := now.Weekday(), minuteOfDay(now)
	for _, s := range e.Slots {
		if s.AppliesToCharge && s.Contains(day, minute) {
			return true
		}
	}
	return false
}

// IsInPreEvaluationWindow is true within ±5 minutes of exactly one hour
// before the next charge slot start. Today and tomorrow starts are both
// candidates so a slot just past midnight still gets its evaluation the
// evening before.
func (e *TimeWindowEvaluator) IsInPreEvaluationWindow(now time.Time) bool {
	for _, s := range e.Slots {
		if !s.AppliesToCharge {
			continue
		}
		for dayOffset := 0; dayOffset <= 1; dayOffset++ {
			startDay := now.AddDate(0, 0, dayOffset)
			if !s.Days[startDay.Weekday()] {
				continue
			}
			start := time.Date(startDay.Year(), startDay.Month(), startDay.Day(),
				s.StartMinute/60, s.StartMinute%60, 0, 0, now.Location())
			preEval := start.Add(-preEvalLeadMinutes * time.Minute)
			delta := now.Sub(preEval)
			if delta >= -preEvalWindowMinutes*time.Minute && delta <= preEvalWindowMinutes*time.Minute {
				return true
			}
		}
	}
	return false
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

func ParseWeekday(name string) (time.Weekday, error) {
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return day, nil
}

func parseHourMinute(value string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	return hour*60 + minute, nil
}

// ParseTimeSlots converts configured slots into their domain form.
func ParseTimeSlots(slots []config.TimeSlotConfig) ([]domain.TimeSlot, error) {
	parsed := make([]domain.TimeSlot, 0, len(slots))
	for _, s := range slots {
		start, err := parseHourMinute(s.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseHourMinute(s.End)
		if err != nil {
			return nil, err
		}
		days := make(map[time.Weekday]bool, len(s.Days))
		for _, d := range s.Days {
			day, err := ParseWeekday(d)
			if err != nil {
				return nil, err
			}
			days[day] = true
		}
		parsed = append(parsed, domain.TimeSlot{
			StartMinute:     start,
			EndMinute:       end,
			Days:            days,
			AppliesToCharge: s.AppliesToCharge,
		})
	}
	return parsed, nil
}
