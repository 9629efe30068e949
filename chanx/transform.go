package chanx

import "context"

// pipe runs step for every value received from in until in is closed, ctx
// ends, or step reports that out can no longer be written. out is closed
// when pipe returns.
func pipe[T, U any](ctx context.Context, in <-chan T, out chan<- U, step func(T) (U, bool)) {
	defer close(out)
	for {
		v, ok, err := Recv(ctx, in)
		if err != nil || !ok {
			return
		}
		u, keep := step(v)
		if !keep {
			continue
		}
		if Send(ctx, out, u) != nil {
			return
		}
	}
}

func closed[T any]() <-chan T {
	out := make(chan T)
	close(out)
	return out
}

// Map applies fn to every value of in. The output channel is closed when in
// is closed or ctx is cancelled.
//
// If in is nil, returns a closed channel immediately.
func Map[T, U any](ctx context.Context, in <-chan T, fn func(T) U) <-chan U {
	if in == nil {
		return closed[U]()
	}
	out := make(chan U)
	go pipe(ctx, in, out, func(v T) (U, bool) { return fn(v), true })
	return out
}

// Filter passes on the values of in for which keep returns true.
//
// If in is nil, returns a closed channel immediately.
func Filter[T any](ctx context.Context, in <-chan T, keep func(T) bool) <-chan T {
	if in == nil {
		return closed[T]()
	}
	out := make(chan T)
	go pipe(ctx, in, out, func(v T) (T, bool) { return v, keep(v) })
	return out
}

// OfType passes on the values of in whose dynamic type is U, converted to U.
// Values of other types are skipped.
//
// If in is nil, returns a closed channel immediately.
func OfType[T, U any](ctx context.Context, in <-chan T) <-chan U {
	if in == nil {
		return closed[U]()
	}
	out := make(chan U)
	go pipe(ctx, in, out, func(v T) (U, bool) {
		u, ok := any(v).(U)
		return u, ok
	})
	return out
}
