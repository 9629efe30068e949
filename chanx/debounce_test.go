package chanx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type timed struct {
	at time.Duration
	v  string
}

// scripted delivers its events at fixed offsets from epoch, advancing the
// fake clock to each arrival time when the value is pulled.
type scripted struct {
	clock interface {
		Now() time.Time
		Advance(time.Duration)
	}
	events []timed
	err    error
	i      int
}

func (s *scripted) Recv(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s.i == len(s.events) {
		return "", false, s.err
	}
	e := s.events[s.i]
	s.i++
	if target := epoch.Add(e.at); target.After(s.clock.Now()) {
		s.clock.Advance(target.Sub(s.clock.Now()))
	}
	return e.v, true, nil
}

// recorder collects emissions with their offset from epoch.
type recorder struct {
	clock clockwork.Clock
	mu    sync.Mutex
	got   []timed
}

func (r *recorder) emit(_ context.Context, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, timed{at: r.clock.Since(epoch), v: v})
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder) all() []timed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]timed(nil), r.got...)
}

func runAsync(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not return")
		return nil
	}
}

var burst = []timed{{0, "a"}, {50 * time.Millisecond, "b"}, {500 * time.Millisecond, "c"}}

func TestDebouncer_EarlyValueWaitsElapsed(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	src := &scripted{clock: fc, events: burst}
	rec := &recorder{clock: fc}

	d := NewDebouncer[string](200*time.Millisecond, WithClock(fc))
	done := runAsync(func() error { return d.Run(context.Background(), src, rec.emit) })

	// "b" arrives 50ms after "a" was emitted and is held for 50ms.
	fc.BlockUntil(1)
	fc.Advance(49 * time.Millisecond)
	fc.BlockUntil(1)
	assert.Equal(t, 1, rec.len())
	fc.Advance(time.Millisecond)

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, []timed{
		{0, "a"},
		{100 * time.Millisecond, "b"},
		{500 * time.Millisecond, "c"},
	}, rec.all())
}

func TestDebouncer_CorrectedWait(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	src := &scripted{clock: fc, events: burst}
	rec := &recorder{clock: fc}

	d := NewDebouncer[string](200*time.Millisecond, WithClock(fc), WithCorrectedWait())
	done := runAsync(func() error { return d.Run(context.Background(), src, rec.emit) })

	fc.BlockUntil(1)
	fc.Advance(149 * time.Millisecond)
	fc.BlockUntil(1)
	assert.Equal(t, 1, rec.len())
	fc.Advance(time.Millisecond)

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, []timed{
		{0, "a"},
		{200 * time.Millisecond, "b"},
		{500 * time.Millisecond, "c"},
	}, rec.all())
}

func TestDebouncer_SpacedValuesPassImmediately(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	events := []timed{{0, "a"}, {300 * time.Millisecond, "b"}, {201*time.Millisecond + 300*time.Millisecond, "c"}}
	src := &scripted{clock: fc, events: events}
	rec := &recorder{clock: fc}

	d := NewDebouncer[string](200*time.Millisecond, WithClock(fc))
	require.NoError(t, d.Run(context.Background(), src, rec.emit))
	assert.Equal(t, events, rec.all())
}

func TestDebouncer_ZeroWindow(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	events := []timed{{0, "a"}, {0, "b"}, {0, "c"}, {time.Millisecond, "d"}}
	src := &scripted{clock: fc, events: events}
	rec := &recorder{clock: fc}

	d := NewDebouncer[string](0, WithClock(fc))
	require.NoError(t, d.Run(context.Background(), src, rec.emit))
	assert.Equal(t, events, rec.all())
}

func TestDebouncer_CancelWhileWaiting(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	src := &scripted{clock: fc, events: burst}
	rec := &recorder{clock: fc}
	ctx, cancel := context.WithCancel(context.Background())

	d := NewDebouncer[string](200*time.Millisecond, WithClock(fc))
	done := runAsync(func() error { return d.Run(ctx, src, rec.emit) })

	fc.BlockUntil(1)
	cancel()

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, []timed{{0, "a"}}, rec.all())
}

func TestDebouncer_SourceError(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	boom := errors.New("boom")
	src := &scripted{clock: fc, events: []timed{{0, "a"}}, err: boom}
	rec := &recorder{clock: fc}

	d := NewDebouncer[string](200*time.Millisecond, WithClock(fc))
	err := d.Run(context.Background(), src, rec.emit)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []timed{{0, "a"}}, rec.all())
}

func TestDebouncer_EmitError(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	src := &scripted{clock: fc, events: burst}
	boom := errors.New("sink gone")

	var calls int
	d := NewDebouncer[string](200*time.Millisecond, WithClock(fc))
	err := d.Run(context.Background(), src, func(context.Context, string) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDebouncer_IndependentInstances(t *testing.T) {
	slowClock := clockwork.NewFakeClockAt(epoch)
	fastClock := clockwork.NewFakeClockAt(epoch)
	slow := &recorder{clock: slowClock}
	fast := &recorder{clock: fastClock}

	slowDone := runAsync(func() error {
		return NewDebouncer[string](200*time.Millisecond, WithClock(slowClock)).
			Run(context.Background(), &scripted{clock: slowClock, events: burst}, slow.emit)
	})
	fastDone := runAsync(func() error {
		return NewDebouncer[string](10*time.Millisecond, WithClock(fastClock)).
			Run(context.Background(), &scripted{clock: fastClock, events: burst}, fast.emit)
	})

	require.NoError(t, waitErr(t, fastDone))
	assert.Equal(t, burst, fast.all())

	slowClock.BlockUntil(1)
	slowClock.Advance(50 * time.Millisecond)
	require.NoError(t, waitErr(t, slowDone))
	assert.Equal(t, []timed{
		{0, "a"},
		{100 * time.Millisecond, "b"},
		{500 * time.Millisecond, "c"},
	}, slow.all())
}

// pulling reports every Recv call, so a test knows the debouncer is done
// with the previous value.
type pulling struct {
	Source[string]
	pulls chan struct{}
}

func (p *pulling) Recv(ctx context.Context) (string, bool, error) {
	p.pulls <- struct{}{}
	return p.Source.Recv(ctx)
}

func (p *pulling) waitPull(t *testing.T) {
	t.Helper()
	select {
	case <-p.pulls:
	case <-time.After(time.Second):
		t.Fatal("debouncer did not ask for the next value")
	}
}

func TestDebouncer_IndependentInstancesOnOneSource(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	ctx := context.Background()

	b := NewBroadcaster[string](8, Block)
	slowSrc := &pulling{Source: b.Subscribe(), pulls: make(chan struct{}, 8)}
	fastSrc := &pulling{Source: b.Subscribe(), pulls: make(chan struct{}, 8)}
	slow := &recorder{clock: fc}
	fast := &recorder{clock: fc}

	slowDone := runAsync(func() error {
		return NewDebouncer[string](200*time.Millisecond, WithClock(fc)).Run(ctx, slowSrc, slow.emit)
	})
	fastDone := runAsync(func() error {
		return NewDebouncer[string](10*time.Millisecond, WithClock(fc)).Run(ctx, fastSrc, fast.emit)
	})
	fastSrc.waitPull(t)
	slowSrc.waitPull(t)

	require.NoError(t, b.Publish(ctx, "a"))
	fastSrc.waitPull(t)
	slowSrc.waitPull(t)

	fc.Advance(50 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, "b"))
	fastSrc.waitPull(t)
	fc.BlockUntil(1)
	fc.Advance(50 * time.Millisecond)
	slowSrc.waitPull(t)

	// The slow instance last emitted at 100ms, the fast one at 50ms.
	fc.Advance(50 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, "c"))
	fastSrc.waitPull(t)
	fc.BlockUntil(1)
	fc.Advance(50 * time.Millisecond)
	slowSrc.waitPull(t)

	b.Close()
	require.NoError(t, waitErr(t, fastDone))
	require.NoError(t, waitErr(t, slowDone))

	assert.Equal(t, []timed{
		{0, "a"},
		{50 * time.Millisecond, "b"},
		{150 * time.Millisecond, "c"},
	}, fast.all())
	assert.Equal(t, []timed{
		{0, "a"},
		{100 * time.Millisecond, "b"},
		{200 * time.Millisecond, "c"},
	}, slow.all())
}

func TestNewDebouncer_NegativeWindowPanics(t *testing.T) {
	assert.Panics(t, func() { NewDebouncer[int](-time.Millisecond) })
	assert.Equal(t, 200*time.Millisecond, NewDebouncer[int](DefaultDebounceWindow).Window())
}

func TestDebounce_PreservesOrderAndCount(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	out := Debounce(ctx, in, time.Millisecond)

	go func() {
		defer close(in)
		for i := range 20 {
			in <- i
		}
	}()

	var got []int
	for v := range out {
		got = append(got, v)
	}

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestDebounce_NilInput(t *testing.T) {
	out := Debounce[int](context.Background(), nil, time.Millisecond)
	_, ok := <-out
	assert.False(t, ok)
}

func TestDebounce_CancelClosesOutput(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int, 2)
	in <- 1
	in <- 2

	out := Debounce(ctx, in, 200*time.Millisecond, WithClock(fc), WithCorrectedWait())
	assert.Equal(t, 1, <-out)

	// 2 arrives at the same instant and waits out the full window.
	fc.BlockUntil(1)
	cancel()

	select {
	case v, ok := <-out:
		assert.False(t, ok, "unexpected value %d", v)
	case <-time.After(2 * time.Second):
		t.Fatal("output not closed")
	}
}

func TestDebounceSource_PropagatesError(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	boom := errors.New("upstream failed")
	src := &scripted{clock: fc, events: []timed{{0, "a"}, {time.Second, "b"}}, err: boom}

	out := DebounceSource[string](context.Background(), src, 200*time.Millisecond, WithClock(fc))

	ctx := context.Background()
	v, ok, err := out.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok, err = out.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok, err = out.Recv(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, out.Err(), boom)
}
