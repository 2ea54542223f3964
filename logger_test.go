package labcore

import (
	"fmt"
	"testing"
)

// logger routes Manager output into the test log. Error level is not
// escalated: many tests exercise failure paths that are reported
// through the logger on purpose.
type logger struct {
	t *testing.T
}

func (l *logger) log(level, msg string, args []any) {
	l.t.Helper()
	l.t.Log(fmt.Sprintf("[%s] %s", level, msg), args)
}

func (l *logger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *logger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }
func (l *logger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *logger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
