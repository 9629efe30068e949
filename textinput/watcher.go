// Package textinput turns the callbacks of a text field into streams.
//
// The package does not depend on any UI toolkit. A toolkit binding
// implements [TextSource] and [EditorActionSource]; [Watcher] and
// [ActionListener] translate the callbacks into events and publish them on
// [chanx.Broadcaster]s, which never block the caller. By default each
// subscriber keeps only the latest event ([chanx.Conflate]).
package textinput

import (
	"context"

	"github.com/chrynan/lifescope/chanx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TextChangeEvent is one of [BeforeTextChanged], [OnTextChanged] or
// [AfterTextChanged].
type TextChangeEvent interface {
	isTextChangeEvent()
}

// BeforeTextChanged reports that Count characters starting at Start are
// about to be replaced by After new characters.
type BeforeTextChanged struct {
	Text  string
	Start int
	Count int
	After int
}

// OnTextChanged reports that Count characters starting at Start have just
// replaced Before old characters.
type OnTextChanged struct {
	Text   string
	Start  int
	Before int
	Count  int
}

// AfterTextChanged carries the text once an edit is complete.
type AfterTextChanged struct {
	Text string
}

func (BeforeTextChanged) isTextChangeEvent() {}
func (OnTextChanged) isTextChangeEvent()     {}
func (AfterTextChanged) isTextChangeEvent()  {}

// TextWatcher receives the edit callbacks of a text field.
type TextWatcher interface {
	BeforeTextChanged(text string, start, count, after int)
	OnTextChanged(text string, start, before, count int)
	AfterTextChanged(text string)
}

// TextSource is a text field that accepts watchers.
type TextSource interface {
	AddTextChangedListener(w TextWatcher)
	RemoveTextChangedListener(w TextWatcher)
}

type config struct {
	name     string
	capacity int
	overflow chanx.Overflow
}

func defaultConfig() config {
	return config{name: "text", capacity: 1, overflow: chanx.Conflate}
}

// Option configures a [Watcher] or an [ActionListener].
type Option func(*config)

// WithName labels the streams in logs and metrics.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithBuffer sets the per-subscriber buffer. Callbacks never block: with
// [chanx.Block] an event that does not fit is dropped for that subscriber.
func WithBuffer(capacity int, overflow chanx.Overflow) Option {
	return func(c *config) {
		c.capacity = capacity
		c.overflow = overflow
	}
}

func newBroadcaster[T any](cfg config, kind string) *chanx.Broadcaster[T] {
	return chanx.NewBroadcaster[T](cfg.capacity, cfg.overflow,
		chanx.WithBroadcastName(cfg.name+"."+kind))
}

// Watcher is a [TextWatcher] that publishes every callback twice: on the
// stream of its kind and on the combined stream.
type Watcher struct {
	all    *chanx.Broadcaster[TextChangeEvent]
	before *chanx.Broadcaster[BeforeTextChanged]
	on     *chanx.Broadcaster[OnTextChanged]
	after  *chanx.Broadcaster[AfterTextChanged]
	log    zerolog.Logger
}

// NewWatcher returns a Watcher. It panics on an invalid [WithBuffer].
func NewWatcher(opts ...Option) *Watcher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Watcher{
		all:    newBroadcaster[TextChangeEvent](cfg, "all"),
		before: newBroadcaster[BeforeTextChanged](cfg, "before"),
		on:     newBroadcaster[OnTextChanged](cfg, "on"),
		after:  newBroadcaster[AfterTextChanged](cfg, "after"),
		log:    log.With().Str("component", "textinput").Str("name", cfg.name).Logger(),
	}
}

// BeforeTextChanged implements [TextWatcher].
func (w *Watcher) BeforeTextChanged(text string, start, count, after int) {
	ev := BeforeTextChanged{Text: text, Start: start, Count: count, After: after}
	w.publish(ev, w.before.Offer(ev))
}

// OnTextChanged implements [TextWatcher].
func (w *Watcher) OnTextChanged(text string, start, before, count int) {
	ev := OnTextChanged{Text: text, Start: start, Before: before, Count: count}
	w.publish(ev, w.on.Offer(ev))
}

// AfterTextChanged implements [TextWatcher].
func (w *Watcher) AfterTextChanged(text string) {
	ev := AfterTextChanged{Text: text}
	w.publish(ev, w.after.Offer(ev))
}

func (w *Watcher) publish(ev TextChangeEvent, kindErr error) {
	if err := w.all.Offer(ev); err != nil || kindErr != nil {
		w.log.Trace().Msg("callback after close ignored")
	}
}

// Events subscribes to every event. Each call returns a new subscription.
func (w *Watcher) Events() *chanx.Subscription[TextChangeEvent] {
	return w.all.Subscribe()
}

// BeforeTextChangedEvents subscribes to [BeforeTextChanged] events.
func (w *Watcher) BeforeTextChangedEvents() *chanx.Subscription[BeforeTextChanged] {
	return w.before.Subscribe()
}

// OnTextChangedEvents subscribes to [OnTextChanged] events.
func (w *Watcher) OnTextChangedEvents() *chanx.Subscription[OnTextChanged] {
	return w.on.Subscribe()
}

// AfterTextChangedEvents subscribes to [AfterTextChanged] events.
func (w *Watcher) AfterTextChangedEvents() *chanx.Subscription[AfterTextChanged] {
	return w.after.Subscribe()
}

// Close closes every stream. Later callbacks are ignored.
func (w *Watcher) Close() {
	w.all.Close()
	w.before.Close()
	w.on.Close()
	w.after.Close()
}

// TextChangeEvents registers a [Watcher] on src and returns a subscription
// to all of its events, in callback order. When ctx ends the watcher is
// removed from src and the subscription is closed.
//
// Use [OnTextChangedEvents] for the on-changed events alone.
func TextChangeEvents(ctx context.Context, src TextSource, opts ...Option) *chanx.Subscription[TextChangeEvent] {
	return register(ctx, src, opts, (*Watcher).Events)
}

// OnTextChangedEvents is like [TextChangeEvents] but the subscription only
// carries [OnTextChanged] events.
func OnTextChangedEvents(ctx context.Context, src TextSource, opts ...Option) *chanx.Subscription[OnTextChanged] {
	return register(ctx, src, opts, (*Watcher).OnTextChangedEvents)
}

func register[T any](
	ctx context.Context,
	src TextSource,
	opts []Option,
	subscribe func(*Watcher) *chanx.Subscription[T],
) *chanx.Subscription[T] {
	w := NewWatcher(opts...)
	sub := subscribe(w)
	src.AddTextChangedListener(w)

	go func() {
		<-ctx.Done()
		src.RemoveTextChangedListener(w)
		w.Close()
	}()
	return sub
}

// BeforeTextChanges keeps the [BeforeTextChanged] events of in.
func BeforeTextChanges(ctx context.Context, in <-chan TextChangeEvent) <-chan BeforeTextChanged {
	return chanx.OfType[TextChangeEvent, BeforeTextChanged](ctx, in)
}

// OnTextChanges keeps the [OnTextChanged] events of in.
func OnTextChanges(ctx context.Context, in <-chan TextChangeEvent) <-chan OnTextChanged {
	return chanx.OfType[TextChangeEvent, OnTextChanged](ctx, in)
}

// AfterTextChanges keeps the [AfterTextChanged] events of in.
func AfterTextChanges(ctx context.Context, in <-chan TextChangeEvent) <-chan AfterTextChanged {
	return chanx.OfType[TextChangeEvent, AfterTextChanged](ctx, in)
}
