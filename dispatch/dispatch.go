// Package dispatch provides explicit scheduling contexts for scopes.
//
// A [Dispatcher] decides where a task body runs. [Serial] confines work to
// one goroutine, the way a UI toolkit confines work to its main thread;
// [Pool] spreads it over a fixed set of workers. Both satisfy
// [lifescope.Executor] and plug into a scope with [lifescope.WithExecutor].
package dispatch

import (
	"context"
	"errors"
	"reflect"

	"github.com/chrynan/lifescope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/chrynan/lifescope/dispatch"

// Dispatcher is a named [lifescope.Executor].
type Dispatcher interface {
	lifescope.Executor
	Name() string
}

// Dispatchers bundles the two scheduling contexts an application usually
// needs.
type Dispatchers struct {
	Main       *Serial
	Background *Pool
}

// New creates a Main serial dispatcher and a Background pool with the given
// number of workers.
func New(ctx context.Context, workers int) *Dispatchers {
	return &Dispatchers{
		Main:       NewSerial("main"),
		Background: NewPool(ctx, workers, WithPoolName("background")),
	}
}

// Close closes both dispatchers and returns the background task errors.
func (d *Dispatchers) Close() error {
	err := d.Background.Close()
	d.Main.Close()
	return err
}

// Job is a handle on work started with [Launch].
type Job struct {
	scope *lifescope.Scope
	done  chan struct{}
	err   error
}

// Launch runs fn on d inside its own scope, a child of ctx, and returns
// immediately. A panic in fn is reported by [Job.Wait] as a
// [*lifescope.PanicError].
func Launch(ctx context.Context, d Dispatcher, name string, fn func(ctx context.Context) error) *Job {
	sc, sp := lifescope.New(ctx,
		lifescope.WithName(name),
		lifescope.WithExecutor(d),
		lifescope.WithPanicAsError(),
	)
	sp.Go(name, fn)

	j := &Job{scope: sc, done: make(chan struct{})}
	go func() {
		j.err = sc.Wait()
		close(j.done)
	}()
	return j
}

// Cancel asks the job to stop.
func (j *Job) Cancel() {
	j.scope.Cancel(context.Canceled)
}

// Wait blocks until the job finishes and returns its error. A job cancelled
// before it could run reports the context error.
func (j *Job) Wait() error {
	<-j.done
	return j.err
}

// Done returns a channel that is closed when the job finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Async runs fn on d and returns a handle on its value.
func Async[T any](
	ctx context.Context,
	d Dispatcher,
	name string,
	fn func(ctx context.Context) (T, error),
) *lifescope.Result[T] {
	sc, sp := lifescope.New(ctx,
		lifescope.WithName(name),
		lifescope.WithExecutor(d),
		lifescope.WithPanicAsError(),
	)
	r := lifescope.SpawnResult(sp, name, fn)
	go func() { _ = sc.Wait() }()
	return r
}

// WithContext runs fn on d and waits for it, in the manner of switching
// threads for a block of code. It returns fn's error, a
// [*lifescope.PanicError] if fn panicked, or ctx's error if ctx ends first;
// in that last case fn may still run, with a cancelled context.
//
// When ctx records that the caller already runs on d (a task of a scope
// using d, or the body of an enclosing WithContext on d), fn runs inline.
// A Serial caller waiting on its own queue would never be served.
func WithContext(ctx context.Context, d Dispatcher, fn func(ctx context.Context) error) error {
	inline := runningOn(ctx, d)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.WithContext",
		trace.WithAttributes(
			attribute.String("dispatcher", d.Name()),
			attribute.Bool("inline", inline),
		),
	)
	defer span.End()

	var err error
	if inline {
		err = protect(ctx, fn)
	} else {
		err = hop(ctx, d, fn)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func hop(ctx context.Context, d Dispatcher, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	on := lifescope.ContextWithExecutor(ctx, d)
	done := make(chan error, 1)
	if err := d.Execute(func() {
		done <- protect(on, fn)
	}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runningOn reports whether ctx records d as its executor.
func runningOn(ctx context.Context, d Dispatcher) bool {
	e := lifescope.ExecutorFromContext(ctx)
	if e == nil || !reflect.TypeOf(e).Comparable() {
		return false
	}
	return e == lifescope.Executor(d)
}

func protect(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lifescope.NewPanicError(r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// IsPanic reports whether err carries a recovered panic.
func IsPanic(err error) bool {
	var pe *lifescope.PanicError
	return errors.As(err, &pe)
}
