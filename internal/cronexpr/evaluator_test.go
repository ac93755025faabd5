package cronexpr

import (
	"testing"
	"time"
)

func TestValidate_ValidExpressions(t *testing.T) {
	eval := NewEvaluator()

	valid := []string{
		"* * * * *",
		"0 * * * *",
		"*/15 * * * *",
		"0 9 * * *",
		"0 9 * * 1",
		"0 0 1 * *",
		"30 6 * * 1-5",
	}

	for _, expr := range valid {
		if !eval.Validate(expr) {
			t.Errorf("expected %q to be valid", expr)
		}
	}
}

func TestValidate_InvalidExpressions(t *testing.T) {
	eval := NewEvaluator()

	invalid := []string{
		"",
		"* * *",
		"* * * * * *",
		"61 * * * *",
		"not a cron",
		"0 25 * * *",
	}

	for _, expr := range invalid {
		if eval.Validate(expr) {
			t.Errorf("expected %q to be invalid", expr)
		}
	}
}

func TestNextOccurrence_DailyAtNine(t *testing.T) {
	eval := NewEvaluator()

	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	next, err := eval.NextOccurrence("0 9 * * *", from)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next occurrence %v, got %v", want, next)
	}
}

func TestNextOccurrence_StrictlyAfterFrom(t *testing.T) {
	eval := NewEvaluator()

	expressions := []string{"* * * * *", "0 9 * * *", "*/5 * * * *", "0 0 1 * *"}
	times := []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), // exactly on an occurrence
		time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 2, 29, 12, 30, 0, 0, time.UTC), // leap day
	}

	for _, expr := range expressions {
		for _, from := range times {
			next, err := eval.NextOccurrence(expr, from)
			if err != nil {
				t.Fatalf("NextOccurrence(%q, %v): %v", expr, from, err)
			}
			if !next.After(from) {
				t.Errorf("NextOccurrence(%q, %v) = %v, not strictly after", expr, from, next)
			}
		}
	}
}

func TestNextOccurrence_InvalidExpression(t *testing.T) {
	eval := NewEvaluator()

	if _, err := eval.NextOccurrence("* * *", time.Now()); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}
