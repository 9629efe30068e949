package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chrynan/lifescope"
	"github.com/chrynan/lifescope/telemetry/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrPoolClosed is returned by [Pool.Submit] when the pool has been closed.
var ErrPoolClosed = errors.New("dispatch: pool is closed")

// Pool is a background dispatcher backed by a fixed number of worker
// goroutines and a bounded queue.
type Pool struct {
	name   string
	tasks  chan func() error
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	attrs  metric.MeasurementOption
	log    zerolog.Logger

	errMu sync.Mutex
	errs  []error

	submitted atomic.Int64
	completed atomic.Int64
	errored   atomic.Int64
	inFlight  atomic.Int64
	workers   int
}

// PoolStats provides a point-in-time snapshot of pool activity.
type PoolStats struct {
	Submitted  int64 // total tasks submitted
	Completed  int64 // tasks finished (success + error)
	Errored    int64 // tasks that returned non-nil error or panicked
	InFlight   int64 // tasks currently executing
	QueueDepth int   // tasks waiting in the queue
	Workers    int   // worker count (fixed at creation)
}

// PoolOption configures a [Pool].
type PoolOption func(*poolConfig)

type poolConfig struct {
	name      string
	queueSize int
}

// WithQueueSize sets the task queue buffer size. Default is n * 2.
func WithQueueSize(size int) PoolOption {
	return func(c *poolConfig) {
		if size < 0 {
			panic("dispatch: WithQueueSize requires non-negative size")
		}
		c.queueSize = size
	}
}

// WithPoolName sets the name reported by [Pool.Name]. Default is "background".
func WithPoolName(name string) PoolOption {
	return func(c *poolConfig) {
		c.name = name
	}
}

// NewPool creates a pool with n worker goroutines.
// Workers start immediately and process tasks until [Pool.Close] is called.
// Panics if n <= 0.
func NewPool(
	ctx context.Context,
	n int,
	opts ...PoolOption,
) *Pool {
	if n <= 0 {
		panic("dispatch: NewPool requires n > 0")
	}

	cfg := poolConfig{name: "background", queueSize: n * 2}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		name:    cfg.name,
		tasks:   make(chan func() error, cfg.queueSize),
		ctx:     ctx,
		cancel:  cancel,
		workers: n,
		attrs:   metric.WithAttributes(attribute.String("dispatcher", cfg.name)),
		log: log.With().
			Str("component", "dispatch").
			Str("dispatcher", cfg.name).
			Int("workers", n).
			Logger(),
	}

	p.wg.Add(n)
	for range n {
		go p.worker()
	}
	return p
}

// Name implements [Dispatcher].
func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		p.runTask(fn)
	}
}

func (p *Pool) runTask(fn func() error) {
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()
	metrics.Dispatch.Tasks.Add(p.ctx, 1, p.attrs)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				pe := lifescope.NewPanicError(r)
				metrics.Dispatch.Panics.Add(p.ctx, 1, p.attrs)
				p.log.Warn().Err(pe).Msg("task panicked")
				err = pe
			}
		}()
		err = fn()
	}()
	if err != nil {
		p.errored.Add(1)
		p.errMu.Lock()
		p.errs = append(p.errs, err)
		p.errMu.Unlock()
	}
}

// Stats returns a point-in-time snapshot of pool activity.
// Safe to call concurrently.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Errored:    p.errored.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: len(p.tasks),
		Workers:    p.workers,
	}
}

// Submit submits a task to the pool. It blocks if the queue is full.
// Returns [ErrPoolClosed] if the pool has been closed.
// Returns ctx.Err() if the pool's context is cancelled.
func (p *Pool) Submit(fn func() error) (err error) {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	// Close may close the tasks channel between the check above and the
	// send below.
	defer func() {
		if r := recover(); r != nil {
			err = ErrPoolClosed
		}
	}()

	select {
	case p.tasks <- fn:
		p.submitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// TrySubmit attempts to submit without blocking.
// Returns false if the queue is full or the pool is closed.
func (p *Pool) TrySubmit(fn func() error) (submitted bool) {
	if p.closed.Load() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			submitted = false
		}
	}()

	select {
	case p.tasks <- fn:
		p.submitted.Add(1)
		return true
	default:
		return false
	}
}

// Execute implements [lifescope.Executor]. It blocks while the queue is
// full, so a task that waits on work it queued on the same pool can
// deadlock a saturated pool.
func (p *Pool) Execute(fn func()) error {
	return p.Submit(func() error {
		fn()
		return nil
	})
}

// Close stops accepting new tasks and waits for in-flight tasks to finish.
// Returns the joined errors from all failed tasks.
// Safe to call multiple times; subsequent calls return the same result.
func (p *Pool) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		close(p.tasks)
		p.log.Debug().Msg("pool closing")
	}
	p.wg.Wait()
	p.cancel()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return errors.Join(p.errs...)
}
