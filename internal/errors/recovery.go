// Package errors carries shared error types for run execution.
package errors

import "fmt"

// PanicError wraps a value recovered from a panicking run so it can flow
// through the normal failure path
type PanicError struct {
	Value      interface{} // The panic value
	Stacktrace string      // Full stack trace at recovery time
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// FormatPanicForLog returns a formatted string suitable for logging
func FormatPanicForLog(panicErr *PanicError) string {
	return fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", panicErr.Value, panicErr.Stacktrace)
}
