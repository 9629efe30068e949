package lifescope

import (
	"errors"
	"fmt"
)

// TaskError attributes an error to the task that returned it. Every task
// failure recorded by a scope is wrapped in a TaskError.
type TaskError struct {
	Task TaskInfo
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task.Name, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsTaskError reports whether err's chain contains a [*TaskError].
func IsTaskError(err error) bool {
	var te *TaskError
	return errors.As(err, &te)
}

// TaskOf returns the [TaskInfo] of the first [*TaskError] in err's chain.
func TaskOf(err error) (TaskInfo, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Task, true
	}
	return TaskInfo{}, false
}

// CauseOf returns the error wrapped by the first [*TaskError] in err's
// chain, or err itself when there is none.
func CauseOf(err error) error {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Err
	}
	return err
}

// AllTaskErrors collects the outermost [*TaskError] values from err's chain,
// descending into [errors.Join] trees.
func AllTaskErrors(err error) []*TaskError {
	var out []*TaskError
	collectTaskErrors(err, &out)
	return out
}

func collectTaskErrors(err error, out *[]*TaskError) {
	switch e := err.(type) {
	case nil:
	case *TaskError:
		*out = append(*out, e)
	case interface{ Unwrap() []error }:
		for _, sub := range e.Unwrap() {
			collectTaskErrors(sub, out)
		}
	case interface{ Unwrap() error }:
		collectTaskErrors(e.Unwrap(), out)
	}
}
