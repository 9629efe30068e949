package lifescope

import "time"

// Policy determines how a [Scope] handles errors from child tasks.
type Policy int

const (
	// FailFast cancels all sibling tasks when the first error occurs.
	// [Scope.Wait] returns the first error encountered.
	FailFast Policy = iota

	// Collect gathers all errors without cancelling siblings.
	// [Scope.Wait] returns all errors joined via [errors.Join].
	Collect
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Collect:
		return "collect"
	}
	return "unknown"
}

// TaskInfo provides metadata about a running task.
type TaskInfo struct {
	Name string
}

type config struct {
	name       string
	policy     Policy
	limit      int
	maxErrors  int
	panicAsErr bool
	executor   Executor
	onStart    func(TaskInfo)
	onDone     func(TaskInfo, error, time.Duration)
}

// Option configures a [Scope].
type Option func(*config)

func defaultConfig() config {
	return config{
		policy: FailFast,
	}
}

// WithName labels the scope in log output.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithPolicy sets the error handling policy for the scope.
// It panics if p is not a known Policy value.
func WithPolicy(p Policy) Option {
	return func(c *config) {
		switch p {
		case FailFast, Collect:
			c.policy = p
		default:
			panic("lifescope: invalid policy")
		}
	}
}

// WithLimit sets the maximum number of tasks that can execute concurrently
// within the scope. Tasks beyond the limit block until a slot becomes
// available or the context is canceled.
//
// A limit of zero (the default) means unlimited concurrency.
// WithLimit panics if n is negative.
func WithLimit(n int) Option {
	return func(c *config) {
		if n < 0 {
			panic("lifescope: limit must be non-negative")
		}
		c.limit = n
	}
}

// WithMaxErrors caps the number of errors stored in [Collect] mode.
// Errors beyond the cap are counted by [Scope.DroppedErrors].
func WithMaxErrors(n int) Option {
	return func(c *config) {
		if n < 0 {
			panic("lifescope: max errors must be non-negative")
		}
		c.maxErrors = n
	}
}

// WithPanicAsError converts panics in child tasks to [*PanicError]
// values returned as regular errors, instead of re-raising them
// in [Scope.Wait].
func WithPanicAsError() Option {
	return func(c *config) {
		c.panicAsErr = true
	}
}

// WithExecutor runs task bodies on e instead of one goroutine per task.
func WithExecutor(e Executor) Option {
	return func(c *config) {
		c.executor = e
	}
}

// WithOnStart registers a hook invoked when each task begins executing.
// The hook runs inside the task's goroutine before the task function.
func WithOnStart(fn func(TaskInfo)) Option {
	return func(c *config) {
		c.onStart = fn
	}
}

// WithOnDone registers a hook invoked when each task finishes.
// The hook receives the task's error (nil on success) and wall-clock duration.
func WithOnDone(fn func(TaskInfo, error, time.Duration)) Option {
	return func(c *config) {
		c.onDone = fn
	}
}
