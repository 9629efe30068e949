package chanx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chrynan/lifescope/telemetry/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Overflow selects what a [Broadcaster] does when a subscriber's buffer is
// full.
type Overflow int

const (
	// Block makes Publish wait until every subscriber has room.
	Block Overflow = iota
	// DropOldest discards the oldest buffered value to make room.
	DropOldest
	// DropNewest discards the value being published.
	DropNewest
	// Conflate keeps only the latest value. New subscribers receive it
	// immediately.
	Conflate
)

func (o Overflow) String() string {
	switch o {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Conflate:
		return "conflate"
	default:
		return fmt.Sprintf("Overflow(%d)", int(o))
	}
}

// ParseOverflow parses the names returned by [Overflow.String].
func ParseOverflow(s string) (Overflow, error) {
	for _, o := range []Overflow{Block, DropOldest, DropNewest, Conflate} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("chanx: unknown overflow %q", s)
}

// BroadcastOption configures a [Broadcaster].
type BroadcastOption func(*broadcastConfig)

type broadcastConfig struct {
	name string
}

// WithBroadcastName labels the broadcaster in logs and metrics.
func WithBroadcastName(name string) BroadcastOption {
	return func(cfg *broadcastConfig) {
		cfg.name = name
	}
}

// Broadcaster delivers every published value to all current subscribers.
//
// Each subscriber owns a buffer of the configured capacity; a subscriber
// only sees values published after it subscribed, except under [Conflate]
// where it first receives the latest value. Publishers are serialized, so
// all subscribers observe the same order.
type Broadcaster[T any] struct {
	capacity int
	overflow Overflow
	attrs    metric.MeasurementOption
	log      zerolog.Logger

	pub sync.Mutex // serializes publishers

	mu        sync.Mutex
	subs      map[*Subscription[T]]struct{}
	latest    T
	hasLatest bool
	closed    bool
	err       error
}

// NewBroadcaster creates a Broadcaster.
//
// It panics if capacity is negative, or zero with DropOldest or DropNewest.
// Conflate always uses a single slot.
func NewBroadcaster[T any](capacity int, overflow Overflow, opts ...BroadcastOption) *Broadcaster[T] {
	if capacity < 0 {
		panic("chanx: Broadcaster requires capacity >= 0")
	}
	switch overflow {
	case Block:
	case DropOldest, DropNewest:
		if capacity == 0 {
			panic("chanx: Broadcaster requires capacity > 0 to drop values")
		}
	case Conflate:
		capacity = 1
	default:
		panic(fmt.Sprintf("chanx: invalid overflow %d", int(overflow)))
	}

	var cfg broadcastConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Broadcaster[T]{
		capacity: capacity,
		overflow: overflow,
		attrs:    metric.WithAttributes(attribute.String("name", cfg.name), attribute.String("overflow", overflow.String())),
		log: log.With().
			Str("component", "broadcast").
			Str("name", cfg.name).
			Stringer("overflow", overflow).
			Logger(),
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed Broadcaster
// returns a subscription that is already closed.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{b: b, c: NewClosable[T](b.capacity)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.c.CloseWithError(b.err)
		return s
	}
	if b.overflow == Conflate && b.hasLatest {
		_ = s.c.TrySend(b.latest)
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers v to every subscriber. Under [Block] it waits for room,
// for ctx, or for a subscriber to go away. It returns [ErrClosed] once the
// Broadcaster is closed.
func (b *Broadcaster[T]) Publish(ctx context.Context, v T) error {
	b.pub.Lock()
	defer b.pub.Unlock()

	subs, err := b.record(v)
	if err != nil {
		return err
	}
	metrics.Broadcast.Published.Add(ctx, 1, b.attrs)

	for _, s := range subs {
		if b.overflow != Block {
			b.deliver(ctx, s, v)
			continue
		}
		if err := s.c.SendContext(ctx, v); err != nil && ctx.Err() != nil {
			return err
		}
	}
	return nil
}

// Offer delivers v without blocking. Under [Block], subscribers whose buffer
// is full miss the value.
func (b *Broadcaster[T]) Offer(v T) error {
	b.pub.Lock()
	defer b.pub.Unlock()

	subs, err := b.record(v)
	if err != nil {
		return err
	}
	ctx := context.Background()
	metrics.Broadcast.Published.Add(ctx, 1, b.attrs)

	for _, s := range subs {
		b.deliver(ctx, s, v)
	}
	return nil
}

// record stores v as the latest value and snapshots the subscribers.
func (b *Broadcaster[T]) record(v T) ([]*Subscription[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	b.latest = v
	b.hasLatest = true

	subs := make([]*Subscription[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	return subs, nil
}

// deliver hands v to s without blocking, applying the overflow policy.
// Only the publisher holding b.pub sends, so a freed slot stays free.
func (b *Broadcaster[T]) deliver(ctx context.Context, s *Subscription[T], v T) {
	err := s.c.TrySend(v)
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}

	switch b.overflow {
	case DropOldest, Conflate:
		select {
		case <-s.c.Chan():
		default:
		}
		_ = s.c.TrySend(v)
	}
	if b.overflow != Conflate {
		b.log.Trace().Msg("subscriber full, value dropped")
	}
	metrics.Broadcast.Dropped.Add(ctx, 1, b.attrs)
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes the Broadcaster and every subscription. Buffered values stay
// readable. Close is idempotent.
func (b *Broadcaster[T]) Close() {
	b.CloseWithError(nil)
}

// CloseWithError is like Close and makes err the reason reported by every
// subscription.
func (b *Broadcaster[T]) CloseWithError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	for s := range b.subs {
		s.c.CloseWithError(err)
		delete(b.subs, s)
	}
	b.log.Debug().Err(err).Msg("broadcaster closed")
}

// Subscription is one subscriber of a [Broadcaster]. It is a [Source].
type Subscription[T any] struct {
	b *Broadcaster[T]
	c *Closable[T]
}

// C returns the channel of delivered values. It is closed when the
// subscription is cancelled or the Broadcaster is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.c.Chan()
}

// Recv receives the next value. After the subscription is closed and
// drained it returns ok == false and [Subscription.Err].
func (s *Subscription[T]) Recv(ctx context.Context) (T, bool, error) {
	return s.c.Recv(ctx)
}

// Cancel unsubscribes and closes the subscription. It is safe to call
// multiple times and concurrently with Publish.
func (s *Subscription[T]) Cancel() {
	s.c.Close()

	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
}

// Err returns the error the Broadcaster was closed with, if any.
func (s *Subscription[T]) Err() error {
	return s.c.Err()
}
