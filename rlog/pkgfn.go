package rlog

import "context"

// Singleton is set by the Host during startup so that package-level
// helpers (below) can be used from anywhere without threading a Manager
// through every call site.
var Singleton *Manager

// Debug logs a debug-level message against ctx's active request, if any.
// A no-op before the Host has set Singleton (e.g. package-level tests
// that never call cmd/dreamhost's startup path).
func Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if Singleton == nil {
		return
	}
	Singleton.Debug(ctx, msg, keysAndValues...)
}

// Info logs an info-level message against ctx's active request, if any.
func Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if Singleton == nil {
		return
	}
	Singleton.Info(ctx, msg, keysAndValues...)
}

// Warn logs a warn-level message against ctx's active request, if any.
func Warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if Singleton == nil {
		return
	}
	Singleton.Warn(ctx, msg, keysAndValues...)
}

// Error logs an error-level message against ctx's active request, if any.
func Error(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if Singleton == nil {
		return
	}
	Singleton.Error(ctx, msg, keysAndValues...)
}

// With starts a chain of fields to attach to a subsequent log call. If
// Singleton is unset, the returned Ctx silently discards every call.
func With(keysAndValues ...interface{}) Ctx {
	if Singleton == nil {
		return Ctx{}
	}
	return Singleton.With(keysAndValues...)
}
