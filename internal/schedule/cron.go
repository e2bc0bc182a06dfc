// SPDX-License-Identifier: MIT

// Package schedule drives the per-feed pipeline: cron parsing, the tick
// scheduler, and the manual trigger runner.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5-field (minute precision) and 6-field (optional second)
// expressions plus @-aliases.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression. 7-field (year) expressions are
// rejected explicitly; aliases like @hourly and @daily are accepted.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	if !strings.HasPrefix(expr, "@") {
		if fields := strings.Fields(expr); len(fields) > 6 {
			return nil, fmt.Errorf("cron expression %q has %d fields; year fields are not supported", expr, len(fields))
		}
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// Interval estimates the period of a schedule as the gap between the two
// ticks following the reference instant. For the fixed-rate expressions
// feeds use this equals the gap between the two ticks preceding it.
func Interval(sched cron.Schedule, ref time.Time) time.Duration {
	first := sched.Next(ref)
	second := sched.Next(first)
	return second.Sub(first)
}

// FetchUntil bounds a catch-up window: min(now, fetchSince + 2*interval).
// A feed that was idle for months scans forward two intervals per run
// instead of the entire backlog at once.
func FetchUntil(sched cron.Schedule, fetchSince, now time.Time) time.Time {
	interval := Interval(sched, fetchSince)
	if interval <= 0 {
		return now
	}
	until := fetchSince.Add(2 * interval)
	if until.After(now) {
		return now
	}
	return until
}
