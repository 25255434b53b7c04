package models

import "testing"

func TestTaskValidate(t *testing.T) {
	task := Task{Title: "buy milk"}
	if err := task.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("priority defaulted to %q, want medium", task.Priority)
	}

	task = Task{Title: "   "}
	if err := task.Validate(); err == nil {
		t.Error("blank title accepted")
	}

	task = Task{Title: "ok", Priority: "urgent"}
	if err := task.Validate(); err == nil {
		t.Error("unknown priority accepted")
	}

	task = Task{Title: "ok", Priority: PriorityHigh}
	if err := task.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
