package chanx

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when sending to a closed [Closable] or publishing to
// a closed [Broadcaster].
var ErrClosed = errors.New("chanx: send on closed channel")

// ErrBuffFull is returned by [Closable.TrySend] when the buffer is full.
var ErrBuffFull = errors.New("chanx: buffer is full")

// Closable wraps a channel with idempotent close, panic-free send and an
// optional close error.
//
// Go channels panic on double close and on send-after-close. Closable
// converts these into errors, so producers and a closing owner can race
// safely. Closable is a [Source]: once closed and drained, Recv reports the
// error given to [Closable.CloseWithError].
type Closable[T any] struct {
	ch     chan T
	once   sync.Once
	closed chan struct{} // closed first on Close, wakes blocked senders
	err    error         // written before closed is closed

	// Senders hold the read lock for the whole send; Close takes the write
	// lock before closing ch.
	mu       sync.RWMutex
	isClosed bool
}

// NewClosable creates a Closable channel with the given buffer capacity.
func NewClosable[T any](capacity int) *Closable[T] {
	return &Closable[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Send sends v, blocking while the buffer is full. It returns [ErrClosed]
// if the channel is or becomes closed.
func (c *Closable[T]) Send(v T) error {
	return c.SendContext(context.Background(), v)
}

// SendContext is like Send but unblocks early with the context error.
func (c *Closable[T]) SendContext(ctx context.Context, v T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isClosed {
		return ErrClosed
	}
	select {
	case c.ch <- v:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend sends v without blocking. It returns [ErrBuffFull] when the
// buffer is full and [ErrClosed] when the channel is closed.
func (c *Closable[T]) TrySend(v T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isClosed {
		return ErrClosed
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- v:
		return nil
	default:
		return ErrBuffFull
	}
}

// Recv receives the next value. After the channel is closed and drained it
// returns ok == false and the close error.
func (c *Closable[T]) Recv(ctx context.Context) (T, bool, error) {
	v, ok, err := Recv(ctx, c.ch)
	if err != nil || ok {
		return v, ok, err
	}
	return v, false, c.Err()
}

// Close closes the channel. It is safe to call multiple times; only the
// first call (of Close or CloseWithError) has an effect.
func (c *Closable[T]) Close() {
	c.CloseWithError(nil)
}

// CloseWithError closes the channel and records err as the reason.
func (c *Closable[T]) CloseWithError(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.closed)

		c.mu.Lock()
		c.isClosed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// Err returns the close error, or nil while the channel is open or when it
// was closed normally.
func (c *Closable[T]) Err() error {
	select {
	case <-c.closed:
		return c.err
	default:
		return nil
	}
}

// Chan returns the underlying channel for reading. The returned channel
// is closed when the Closable is closed.
func (c *Closable[T]) Chan() <-chan T {
	return c.ch
}

// Done returns a channel that is closed when the Closable is closed.
func (c *Closable[T]) Done() <-chan struct{} {
	return c.closed
}
