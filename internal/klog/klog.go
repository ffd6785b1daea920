// Package klog is the structured-logging adapter used by internal/kernel
// and cmd/kernelsim. It wraps zerolog the way the pack's logiface-zerolog adapter
// wraps it: a thin struct embedding a zerolog.Logger, exposing leveled,
// field-carrying calls instead of fmt.Printf.
package klog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is a leveled, structured logger for one kernel subsystem.
type Logger struct {
	z zerolog.Logger
}

// New returns a Logger that writes to stderr, tagged with component.
func New(component string) *Logger {
	z := zerolog.New(os.Stderr).With().Timestamp().Str("component", component).Logger()
	return &Logger{z: z}
}

// Field is a single structured key/value pair attached to a log line.
type Field struct {
	Key string
	Val any
}

func F(key string, val any) Field { return Field{Key: key, Val: val} }

func (l *Logger) apply(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Val)
	}
	return e
}

// Event logs a routine, expected occurrence (thread created, mode switched).
func (l *Logger) Event(msg string, fields ...Field) {
	l.apply(l.z.Info(), fields).Msg(msg)
}

// Warn logs a recoverable anomaly that does not abort the kernel.
func (l *Logger) Warn(msg string, fields ...Field) {
	l.apply(l.z.Warn(), fields).Msg(msg)
}

// Fatal logs an InvariantViolation or OverflowDetected (§7) and aborts the
// process, the way the teacher's runtime.throw aborts the program.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.apply(l.z.Error(), fields).Msg(msg)
	panic(msg)
}
