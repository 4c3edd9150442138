// Package errors provides error constructors that annotate messages with the
// caller's file and line, so failures deep in the agent loop can be traced
// without stack traces.
package errors

import (
	"fmt"
	"path/filepath"
	"runtime"
)

func callerPrefix() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "[???:0]"
	}
	return fmt.Sprintf("[%s:%d]", filepath.Base(file), line)
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("%s %s", callerPrefix(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// The wrapped error stays visible to stdlib errors.Is and errors.As, which
// callers rely on for sentinel checks like agent.ErrSchedulerBusy.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", callerPrefix(), fmt.Sprintf(format, a...), err)
}
