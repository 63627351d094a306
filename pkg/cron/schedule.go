// Package cron parses the schedules that drive periodic manager jobs such as
// the cycle sweeper.
package cron

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// Five-field expressions and descriptors such as "@hourly" or "@every 5s".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Schedule struct {
	expr  string
	sched cron.Schedule
}

func Parse(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, ErrInvalidSchedule
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, errors.Join(ErrInvalidSchedule, err)
	}

	return Schedule{expr: expr, sched: sched}, nil
}

// Next returns the first activation strictly after from, evaluated in UTC.
// The zero Schedule never fires and returns the zero time.
func (s Schedule) Next(from time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}

	return s.sched.Next(from.UTC())
}

// Until returns how long to wait from now until the next activation.
func (s Schedule) Until(now time.Time) time.Duration {
	next := s.Next(now)
	if next.IsZero() {
		return 0
	}

	return max(next.Sub(now), 0)
}

func (s Schedule) String() string {
	return s.expr
}
