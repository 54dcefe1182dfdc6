package errs

import "dream/internal/stack"

// Stack reports the captured stack trace for err, if any.
func Stack(err error) stack.Stack {
	if e, ok := err.(*Error); ok {
		return e.stack
	}
	return stack.Stack{}
}

// DropStackFrame removes the top stack frame from err, used when a
// wrapping layer adds no useful location information (e.g. a generic
// pipeline adapter re-raising a handler's error).
func DropStackFrame(err error) error {
	if e, ok := err.(*Error); ok && len(e.stack.Frames) > 0 {
		e.stack.Frames = e.stack.Frames[1:]
	}
	return err
}

// Frames exposes the resolved stack frames for logging.
func (e *Error) Frames() []stack.Frame {
	return e.stack.Resolve()
}
