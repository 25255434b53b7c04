package schedule

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	valid := []string{"0 9 * * *", "*/5 * * * *", "30 18 * * 1-5", "@daily", "@every 1h"}
	for _, expr := range valid {
		if err := Validate(expr); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", expr, err)
		}
	}
	invalid := []string{"", "not a cron", "61 * * * *", "* * * *"}
	for _, expr := range invalid {
		if err := Validate(expr); err == nil {
			t.Errorf("Validate(%q) = nil, want error", expr)
		}
	}
}

func TestNextDailySchedule(t *testing.T) {
	after := time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC)
	next, err := Next("0 9 * * *", after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextIsStrictlyAfter(t *testing.T) {
	// A reference exactly on the schedule boundary must yield the following
	// occurrence, not the boundary itself.
	after := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	next, err := Next("0 9 * * *", after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextInvalidExpression(t *testing.T) {
	if _, err := Next("bogus", time.Now()); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestIn(t *testing.T) {
	before := time.Now()
	got := In(5 * time.Minute)
	if got.Before(before.Add(4*time.Minute)) || got.After(before.Add(6*time.Minute)) {
		t.Errorf("In(5m) = %v, want roughly 5 minutes from now", got)
	}
}
