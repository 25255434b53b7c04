// Package schedule provides cron expression evaluation for recurring jobs.
//
// It wraps robfig/cron's parser: recurring jobs in the store carry a cron
// expression, and the execution loop asks this package for the next
// occurrence after each successful run. One-shot jobs bypass cron entirely
// and set their run time directly (see In).
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard 5-field cron parser (min, hour, dom, month, dow) plus descriptors
// such as "@daily" and "@every 1h".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a well-formed cron expression.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first time strictly after the reference time at which the
// expression matches.
func Next(expr string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}

// In returns the run time for a one-shot job scheduled a relative delay from now.
func In(d time.Duration) time.Time {
	return time.Now().Add(d)
}
