package lifescope

import "context"

// Executor runs task bodies for a scope.
//
// Execute schedules fn to run asynchronously. It returns a non-nil error
// only when fn will never run.
type Executor interface {
	Execute(fn func()) error
}

// ExecutorFunc adapts a function to the [Executor] interface.
type ExecutorFunc func(fn func()) error

// Execute calls f(fn).
func (f ExecutorFunc) Execute(fn func()) error {
	return f(fn)
}

type executorKey struct{}

// ContextWithExecutor returns a copy of ctx recording that the code it is
// handed to runs on e. A nil e clears the record; use it before passing ctx
// to a new goroutine.
//
// Tasks of a scope created with [WithExecutor] receive a context recording
// that executor.
func ContextWithExecutor(ctx context.Context, e Executor) context.Context {
	return context.WithValue(ctx, executorKey{}, e)
}

// ExecutorFromContext returns the executor recorded in ctx, or nil.
func ExecutorFromContext(ctx context.Context) Executor {
	e, _ := ctx.Value(executorKey{}).(Executor)
	return e
}
