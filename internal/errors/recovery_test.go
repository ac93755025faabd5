package errors

import (
	"strings"
	"testing"
)

func TestPanicError_Error(t *testing.T) {
	pe := &PanicError{Value: "boom", Stacktrace: "goroutine 1 [running]"}

	if pe.Error() != "panic recovered: boom" {
		t.Errorf("unexpected message %q", pe.Error())
	}
}

func TestFormatPanicForLog(t *testing.T) {
	pe := &PanicError{Value: 42, Stacktrace: "goroutine 1 [running]"}

	out := FormatPanicForLog(pe)
	if !strings.Contains(out, "PANIC: 42") {
		t.Errorf("expected panic value in output, got %q", out)
	}
	if !strings.Contains(out, "goroutine 1 [running]") {
		t.Errorf("expected stack trace in output, got %q", out)
	}
}
