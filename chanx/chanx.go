package chanx

import "context"

// Send sends v to ch, unblocking early if ctx is canceled.
// It returns nil on successful send, or the context error if canceled.
func Send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv receives a value from ch, unblocking early if ctx is canceled.
// It returns the value, a boolean indicating whether the channel is still
// open (false means ch was closed), and any context error.
func Recv[T any](ctx context.Context, ch <-chan T) (T, bool, error) {
	select {
	case v, ok := <-ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Source is an ordered, closable stream of values.
//
// Recv blocks until a value is available. It returns ok == false once the
// source is closed and drained; err is then the reason the source closed,
// nil for a normal close. A context error is returned when ctx ends first.
type Source[T any] interface {
	Recv(ctx context.Context) (v T, ok bool, err error)
}

type chanSource[T any] <-chan T

func (c chanSource[T]) Recv(ctx context.Context) (T, bool, error) {
	return Recv(ctx, (<-chan T)(c))
}

// FromChan adapts a receive channel to a [Source]. A nil channel never
// yields a value.
func FromChan[T any](ch <-chan T) Source[T] {
	return chanSource[T](ch)
}
