package lifescope

import (
	"context"
	"sync"
)

// Result holds the outcome of a task that produces a typed value. Create one
// via [SpawnResult].
type Result[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

func (r *Result[T]) resolve(v T, err error) {
	r.once.Do(func() {
		r.val, r.err = v, err
		close(r.done)
	})
}

// SpawnResult spawns a named task that returns a typed value and wraps the
// outcome in a [Result]. The task inherits the scope's lifecycle and error
// policy.
//
//	r := lifescope.SpawnResult(sp, "compute", func(ctx context.Context) (int, error) {
//	    return expensiveCalc(ctx)
//	})
//	val, err := r.Wait()
//
// If the scope is cancelled before the task starts, the result resolves with
// the scope's context error. If the task panics, it resolves with the
// [*PanicError].
func SpawnResult[T any](
	sp Spawner,
	name string,
	fn func(ctx context.Context) (T, error),
) *Result[T] {
	r := newResult[T]()

	task := func(ctx context.Context, _ Spawner) error {
		var zero T
		defer func() {
			if rec := recover(); rec != nil {
				pe, ok := rec.(*PanicError)
				if !ok {
					pe = NewPanicError(rec)
				}
				r.resolve(zero, pe)
				panic(pe)
			}
		}()

		v, err := fn(ctx)
		r.resolve(v, err)
		return err
	}
	onSkip := func(err error) {
		var zero T
		r.resolve(zero, err)
	}

	if s, ok := sp.(*spawner); ok {
		s.spawn(name, task, onSkip)
	} else {
		sp.Spawn(name, task)
	}
	return r
}

// Wait blocks until the task completes and returns its value and error.
func (r *Result[T]) Wait() (T, error) {
	<-r.done
	return r.val, r.err
}

// Await is like Wait but gives up when ctx is done.
func (r *Result[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed when the result is available.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}
