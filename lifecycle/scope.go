package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/chrynan/lifescope"
	"github.com/chrynan/lifescope/dispatch"
	"github.com/chrynan/lifescope/telemetry/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrAttached is returned by [Scope.Attach] on an attached scope.
	ErrAttached = errors.New("lifecycle: scope already attached")

	// ErrDetached is returned when starting work on a detached scope. It is
	// also the cancellation cause seen by tasks when their scope detaches.
	ErrDetached = errors.New("lifecycle: scope detached")
)

type scopeConfig struct {
	name string
	opts []lifescope.Option
}

// Option configures a [Scope].
type Option func(*scopeConfig)

// WithName labels the scope in logs and metrics.
func WithName(name string) Option {
	return func(c *scopeConfig) {
		c.name = name
	}
}

// WithDispatcher runs the scope's tasks on d.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(c *scopeConfig) {
		c.opts = append(c.opts, lifescope.WithExecutor(d))
	}
}

// WithScopeOptions passes options through to every [lifescope.Scope] the
// Scope creates.
func WithScopeOptions(opts ...lifescope.Option) Option {
	return func(c *scopeConfig) {
		c.opts = append(c.opts, opts...)
	}
}

// Scope is a cancellation scope whose lifetime is bounded by attach and
// detach calls, usually driven by a [Registry].
//
// Each Attach creates a fresh cancellation token. Detach cancels it and
// waits for every task started on it; the old token stays cancelled even
// if the scope is attached again. Panics in tasks are reported by Detach as
// errors, never re-raised.
type Scope struct {
	parent context.Context
	cfg    scopeConfig
	attrs  metric.MeasurementOption
	log    zerolog.Logger

	detached context.Context

	mu    sync.Mutex
	scope *lifescope.Scope
	sp    lifescope.Spawner
	// spawning is read-held by Go and Spawn while they hand a task to sp,
	// which may block on a saturated dispatcher. Detach write-locks it
	// before waiting on scope. One per token.
	spawning *sync.RWMutex
}

// NewScope returns a detached Scope whose tokens derive from parent.
func NewScope(parent context.Context, opts ...Option) *Scope {
	cfg := scopeConfig{name: "lifecycle"}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.opts = append(cfg.opts, lifescope.WithName(cfg.name), lifescope.WithPanicAsError())

	detached, cancel := context.WithCancelCause(parent)
	cancel(ErrDetached)

	return &Scope{
		parent:   parent,
		cfg:      cfg,
		attrs:    metric.WithAttributes(attribute.String("scope", cfg.name)),
		log:      log.With().Str("component", "lifecycle").Str("scope", cfg.name).Logger(),
		detached: detached,
	}
}

// Bind creates a Scope and registers it with r, so that it attaches on
// Create and detaches on Destroy. If r is already past Create, the scope
// attaches immediately.
func Bind(parent context.Context, r *Registry, opts ...Option) *Scope {
	s := NewScope(parent, opts...)
	r.AddObserver(s)
	return s
}

// Attach creates a new cancellation token. It returns [ErrAttached] if
// the scope is attached.
func (s *Scope) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scope != nil {
		return ErrAttached
	}
	s.scope, s.sp = lifescope.New(s.parent, s.cfg.opts...)
	s.spawning = new(sync.RWMutex)
	metrics.Lifecycle.Attached.Add(context.Background(), 1, s.attrs)
	s.log.Debug().Msg("attached")
	return nil
}

// Detach cancels the current token and waits for the tasks started on it.
// It returns the errors of tasks that failed for reasons other than the
// cancellation. Detaching a detached scope is a no-op.
func (s *Scope) Detach() error {
	s.mu.Lock()
	sc, spawning := s.scope, s.spawning
	s.scope, s.sp, s.spawning = nil, nil, nil
	s.mu.Unlock()

	if sc == nil {
		return nil
	}

	sc.Cancel(ErrDetached)
	// Wait out the spawns that saw this token.
	spawning.Lock()
	spawning.Unlock()
	err := withoutCancellation(sc.Wait())
	metrics.Lifecycle.Detached.Add(context.Background(), 1, s.attrs)
	s.log.Debug().Err(err).Msg("detached")
	return err
}

// Active reports whether the scope is attached.
func (s *Scope) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope != nil
}

// Context returns the current token. On a detached scope it returns a
// context that is already cancelled with cause [ErrDetached].
func (s *Scope) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scope == nil {
		return s.detached
	}
	return s.scope.Context()
}

// Go starts fn on the current token. It returns [ErrDetached] if the scope
// is not attached.
//
// With a pool dispatcher, Go blocks while the pool's queue is full; other
// methods of the scope stay available meanwhile.
func (s *Scope) Go(name string, fn func(ctx context.Context) error) error {
	return s.start(func(sp lifescope.Spawner) { sp.Go(name, fn) })
}

// Spawn is like Go for a task that starts sub-tasks.
func (s *Scope) Spawn(name string, fn lifescope.TaskFunc) error {
	return s.start(func(sp lifescope.Spawner) { sp.Spawn(name, fn) })
}

func (s *Scope) start(spawn func(lifescope.Spawner)) error {
	s.mu.Lock()
	sp, spawning := s.sp, s.spawning
	if sp == nil {
		s.mu.Unlock()
		return ErrDetached
	}
	spawning.RLock()
	s.mu.Unlock()
	defer spawning.RUnlock()

	spawn(sp)
	return nil
}

// OnLifecycleEvent implements [Observer]: Create attaches, Destroy
// detaches. Other events are ignored.
func (s *Scope) OnLifecycleEvent(ev Event) {
	switch ev {
	case Create:
		if err := s.Attach(); err != nil {
			s.log.Debug().Err(err).Msg("create on attached scope")
		}
	case Destroy:
		if err := s.Detach(); err != nil {
			s.log.Error().Err(err).Msg("tasks failed before destroy")
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrDetached)
}

// withoutCancellation drops the task errors caused by the scope being
// cancelled.
func withoutCancellation(err error) error {
	if err == nil {
		return nil
	}
	tes := lifescope.AllTaskErrors(err)
	if len(tes) == 0 {
		if isCancellation(err) {
			return nil
		}
		return err
	}

	var keep []error
	for _, te := range tes {
		if !isCancellation(te.Err) {
			keep = append(keep, te)
		}
	}
	return errors.Join(keep...)
}
