package textinput

import (
	"context"

	"github.com/chrynan/lifescope/chanx"
	"github.com/chrynan/lifescope/dispatch"
)

// HandleBeforeTextChanged watches src and runs fn on d for every
// [BeforeTextChanged] event until ctx ends. See [HandleAfterTextChanged].
func HandleBeforeTextChanged(
	ctx context.Context,
	src TextSource,
	d dispatch.Dispatcher,
	fn func(context.Context, BeforeTextChanged) error,
	opts ...Option,
) error {
	return watch(ctx, src, opts, (*Watcher).BeforeTextChangedEvents, d, fn)
}

// HandleOnTextChanged watches src and runs fn on d for every
// [OnTextChanged] event until ctx ends. See [HandleAfterTextChanged].
func HandleOnTextChanged(
	ctx context.Context,
	src TextSource,
	d dispatch.Dispatcher,
	fn func(context.Context, OnTextChanged) error,
	opts ...Option,
) error {
	return watch(ctx, src, opts, (*Watcher).OnTextChangedEvents, d, fn)
}

// HandleAfterTextChanged watches src and runs fn on d for every
// [AfterTextChanged] event until ctx ends.
//
// Events are handled one at a time, in order. It returns nil when ctx ends
// and the first error of fn otherwise; the watcher is removed from src in
// both cases.
//
// The receive loop runs on the calling goroutine. When the caller is itself
// a task on d, such as a task of a lifecycle scope created with
// lifecycle.WithDispatcher(d), fn runs inline on d instead of being queued
// behind the loop. See [dispatch.WithContext].
func HandleAfterTextChanged(
	ctx context.Context,
	src TextSource,
	d dispatch.Dispatcher,
	fn func(context.Context, AfterTextChanged) error,
	opts ...Option,
) error {
	return watch(ctx, src, opts, (*Watcher).AfterTextChangedEvents, d, fn)
}

// HandleEnterAction installs an [ActionListener] on src and runs fn on d for
// every action that [EditorActionEvent.IsEnter] accepts, until ctx ends.
//
// Other actions (Next, Search, Send, ...) never reach fn. Consumers that
// need every action read [EditorActionEvents] directly; [EnterActions]
// applies the same filter to such a stream.
func HandleEnterAction(
	ctx context.Context,
	src EditorActionSource,
	d dispatch.Dispatcher,
	fn func(context.Context, EditorActionEvent) error,
	opts ...Option,
) error {
	l := NewActionListener(opts...)
	sub := l.Events()
	src.SetOnEditorActionListener(l)
	defer func() {
		src.SetOnEditorActionListener(nil)
		l.Close()
	}()

	return handle[EditorActionEvent](ctx, sub, d, func(ctx context.Context, ev EditorActionEvent) error {
		if !ev.IsEnter() {
			return nil
		}
		return fn(ctx, ev)
	})
}

func watch[T any](
	ctx context.Context,
	src TextSource,
	opts []Option,
	subscribe func(*Watcher) *chanx.Subscription[T],
	d dispatch.Dispatcher,
	fn func(context.Context, T) error,
) error {
	w := NewWatcher(opts...)
	sub := subscribe(w)
	src.AddTextChangedListener(w)
	defer func() {
		src.RemoveTextChangedListener(w)
		w.Close()
	}()

	return handle[T](ctx, sub, d, fn)
}

func handle[T any](
	ctx context.Context,
	src chanx.Source[T],
	d dispatch.Dispatcher,
	fn func(context.Context, T) error,
) error {
	for {
		ev, ok, err := src.Recv(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		err = dispatch.WithContext(ctx, d, func(ctx context.Context) error {
			return fn(ctx, ev)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
