package chanx

import (
	"context"
	"time"

	"github.com/chrynan/lifescope/telemetry/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultDebounceWindow is the minimum interval between two emissions used
// by callers that have no better value.
const DefaultDebounceWindow = 200 * time.Millisecond

type debounceConfig struct {
	clock     clockwork.Clock
	corrected bool
	name      string
}

// DebounceOption configures a [Debouncer].
type DebounceOption func(*debounceConfig)

// WithClock sets the clock used to measure and wait. Defaults to the real
// clock.
func WithClock(c clockwork.Clock) DebounceOption {
	return func(cfg *debounceConfig) {
		cfg.clock = c
	}
}

// WithCorrectedWait makes an early value wait for the rest of the window
// (window - elapsed). Without it, the wait equals the time elapsed since the
// previous emission, which is shorter than the window whenever less than
// half of it has passed.
func WithCorrectedWait() DebounceOption {
	return func(cfg *debounceConfig) {
		cfg.corrected = true
	}
}

// WithDebounceName labels the operator in logs and metrics.
func WithDebounceName(name string) DebounceOption {
	return func(cfg *debounceConfig) {
		cfg.name = name
	}
}

// Debouncer spaces out the values of a [Source].
//
// Every value is emitted, in order. The first value is emitted immediately.
// A later value that arrives more than the window after the previous
// emission is emitted immediately too; otherwise the Debouncer waits before
// emitting it (see [WithCorrectedWait] for how long). The value emitted is
// the one that arrived, even if newer values are queued upstream.
//
// A Debouncer holds no state between runs; each call to Run starts with no
// previous emission.
type Debouncer[T any] struct {
	window time.Duration
	cfg    debounceConfig
	attrs  metric.MeasurementOption
	log    zerolog.Logger
}

// NewDebouncer returns a Debouncer for the given window.
// It panics if window is negative.
func NewDebouncer[T any](window time.Duration, opts ...DebounceOption) *Debouncer[T] {
	if window < 0 {
		panic("chanx: Debounce requires window >= 0")
	}
	cfg := debounceConfig{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Debouncer[T]{
		window: window,
		cfg:    cfg,
		attrs:  metric.WithAttributes(attribute.String("name", cfg.name)),
		log: log.With().
			Str("component", "debounce").
			Str("name", cfg.name).
			Dur("window", window).
			Logger(),
	}
}

// Window returns the configured minimum interval between emissions.
func (d *Debouncer[T]) Window() time.Duration {
	return d.window
}

// Run pulls values from src one at a time and hands each to emit.
//
// Run returns nil when src closes normally or when ctx ends; a value that
// was received or was waiting when ctx ended is not emitted. It returns the
// error of src or emit otherwise, without retrying.
func (d *Debouncer[T]) Run(
	ctx context.Context,
	src Source[T],
	emit func(context.Context, T) error,
) error {
	var (
		lastEmit time.Time
		emitted  bool
	)

	for {
		v, ok, err := src.Recv(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			d.log.Debug().Err(err).Msg("source failed")
			return err
		}
		if !ok {
			return nil
		}

		if emitted {
			if elapsed := d.cfg.clock.Since(lastEmit); elapsed <= d.window {
				wait := elapsed
				if d.cfg.corrected {
					wait = d.window - elapsed
				}
				if !d.sleep(ctx, wait) {
					return nil
				}
			}
		}

		if err := emit(ctx, v); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		lastEmit = d.cfg.clock.Now()
		emitted = true
		metrics.Debounce.Emitted.Add(ctx, 1, d.attrs)
	}
}

func (d *Debouncer[T]) sleep(ctx context.Context, wait time.Duration) bool {
	d.log.Trace().Dur("wait", wait).Msg("holding emission")
	metrics.Debounce.Delayed.Add(ctx, 1, d.attrs)
	metrics.RecordDuration(ctx, metrics.Debounce.Wait, wait, time.Millisecond, d.attrs)

	if wait > 0 {
		select {
		case <-d.cfg.clock.After(wait):
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}

// Debounce spaces out the values received from in using a [Debouncer]. The
// output channel is closed when in is closed or ctx is cancelled.
//
// Debounce panics if window is negative.
// If in is nil, returns a closed channel immediately.
func Debounce[T any](
	ctx context.Context,
	in <-chan T,
	window time.Duration,
	opts ...DebounceOption,
) <-chan T {
	d := NewDebouncer[T](window, opts...)
	if in == nil {
		return closed[T]()
	}
	out := make(chan T)

	go func() {
		defer close(out)
		_ = d.Run(ctx, FromChan(in), func(ctx context.Context, v T) error {
			return Send(ctx, out, v)
		})
	}()
	return out
}

// DebounceSource is like [Debounce] for an arbitrary [Source]. When src
// fails, the returned [Closable] is closed with the same error.
func DebounceSource[T any](
	ctx context.Context,
	src Source[T],
	window time.Duration,
	opts ...DebounceOption,
) *Closable[T] {
	d := NewDebouncer[T](window, opts...)
	out := NewClosable[T](0)

	go func() {
		out.CloseWithError(d.Run(ctx, src, out.SendContext))
	}()
	return out
}
