package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/chrynan/lifescope"
	"github.com/chrynan/lifescope/telemetry/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrSerialClosed is returned by [Serial.Execute] after [Serial.Close].
var ErrSerialClosed = errors.New("dispatch: serial dispatcher is closed")

// Serial runs functions one at a time, in submission order, on a single
// goroutine. It plays the role of a UI thread: code that touches
// single-threaded state is funnelled through it.
//
// The queue is unbounded, so Execute never blocks.
type Serial struct {
	name  string
	attrs metric.MeasurementOption
	log   zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	done chan struct{}
}

// NewSerial starts a Serial dispatcher.
func NewSerial(name string) *Serial {
	s := &Serial{
		name:  name,
		attrs: metric.WithAttributes(attribute.String("dispatcher", name)),
		log: log.With().
			Str("component", "dispatch").
			Str("dispatcher", name).
			Logger(),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Name implements [Dispatcher].
func (s *Serial) Name() string {
	return s.name
}

// Execute implements [lifescope.Executor]. It queues fn and returns
// immediately.
func (s *Serial) Execute(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSerialClosed
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
	return nil
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(fn)
	}
}

func (s *Serial) run(fn func()) {
	ctx := context.Background()
	metrics.Dispatch.Tasks.Add(ctx, 1, s.attrs)
	defer func() {
		if r := recover(); r != nil {
			pe := lifescope.NewPanicError(r)
			metrics.Dispatch.Panics.Add(ctx, 1, s.attrs)
			s.log.Warn().Err(pe).Msg("task panicked")
		}
	}()
	fn()
}

// Close stops accepting work, runs what is already queued and waits for the
// loop to exit. It must not be called from a function running on s.
func (s *Serial) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
		s.log.Debug().Int("queued", len(s.queue)).Msg("serial closing")
	}
	s.mu.Unlock()
	<-s.done
}
