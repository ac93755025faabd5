// Package cronexpr evaluates standard 5-field cron expressions.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Evaluator parses cron expressions and computes next occurrences.
// The grammar is the standard 5-field form: minute hour day-of-month
// month day-of-week.
type Evaluator struct {
	parser cron.Parser
}

// NewEvaluator creates an evaluator for the standard 5-field grammar
func NewEvaluator() *Evaluator {
	return &Evaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Validate reports whether the expression is syntactically valid
func (e *Evaluator) Validate(expression string) bool {
	_, err := e.parser.Parse(expression)
	return err == nil
}

// NextOccurrence computes the first occurrence strictly after from.
// Returns an error only for an invalid expression; callers are expected
// to Validate first.
func (e *Evaluator) NextOccurrence(expression string, from time.Time) (time.Time, error) {
	sched, err := e.parser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return sched.Next(from), nil
}
