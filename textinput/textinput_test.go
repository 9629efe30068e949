package textinput

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chrynan/lifescope"
	"github.com/chrynan/lifescope/chanx"
	"github.com/chrynan/lifescope/dispatch"
	"github.com/chrynan/lifescope/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// field is an in-memory text field that implements both sources.
type field struct {
	mu       sync.Mutex
	text     string
	watchers []TextWatcher
	action   EditorActionListener
}

func (f *field) AddTextChangedListener(w TextWatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers = append(f.watchers, w)
}

func (f *field) RemoveTextChangedListener(w TextWatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.watchers {
		if existing == w {
			f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
			return
		}
	}
}

func (f *field) SetOnEditorActionListener(l EditorActionListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.action = l
}

func (f *field) watcherCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

func (f *field) hasActionListener() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.action != nil
}

// setText replaces the whole text, firing the callbacks a toolkit would.
func (f *field) setText(s string) {
	f.mu.Lock()
	old := f.text
	f.text = s
	watchers := append([]TextWatcher(nil), f.watchers...)
	f.mu.Unlock()

	for _, w := range watchers {
		w.BeforeTextChanged(old, 0, len(old), len(s))
	}
	for _, w := range watchers {
		w.OnTextChanged(s, 0, len(old), len(s))
	}
	for _, w := range watchers {
		w.AfterTextChanged(s)
	}
}

func (f *field) editorAction(actionID int, key *KeyEvent) bool {
	f.mu.Lock()
	l := f.action
	f.mu.Unlock()
	if l == nil {
		return false
	}
	return l.OnEditorAction(actionID, key)
}

func recvN[T any](t *testing.T, sub *chanx.Subscription[T], n int) []T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []T
	for range n {
		v, ok, err := sub.Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, v)
	}
	return got
}

func TestWatcher_PublishesToKindAndCombinedStreams(t *testing.T) {
	w := NewWatcher(WithBuffer(8, chanx.Block))
	defer w.Close()

	all := w.Events()
	before := w.BeforeTextChangedEvents()
	on := w.OnTextChangedEvents()
	after := w.AfterTextChangedEvents()

	f := &field{text: "h"}
	f.AddTextChangedListener(w)
	f.setText("hi")

	assert.Equal(t, []TextChangeEvent{
		BeforeTextChanged{Text: "h", Start: 0, Count: 1, After: 2},
		OnTextChanged{Text: "hi", Start: 0, Before: 1, Count: 2},
		AfterTextChanged{Text: "hi"},
	}, recvN(t, all, 3))
	assert.Equal(t, []BeforeTextChanged{{Text: "h", Count: 1, After: 2}}, recvN(t, before, 1))
	assert.Equal(t, []OnTextChanged{{Text: "hi", Before: 1, Count: 2}}, recvN(t, on, 1))
	assert.Equal(t, []AfterTextChanged{{Text: "hi"}}, recvN(t, after, 1))
}

func TestWatcher_ConflatesByDefault(t *testing.T) {
	w := NewWatcher()
	defer w.Close()
	after := w.AfterTextChangedEvents()

	f := &field{}
	f.AddTextChangedListener(w)
	for _, s := range []string{"a", "ab", "abc"} {
		f.setText(s)
	}

	assert.Equal(t, []AfterTextChanged{{Text: "abc"}}, recvN(t, after, 1))
	select {
	case ev := <-after.C():
		t.Fatalf("unexpected event %v", ev)
	default:
	}

	late := w.AfterTextChangedEvents()
	assert.Equal(t, []AfterTextChanged{{Text: "abc"}}, recvN(t, late, 1), "latest value replayed")
}

func TestWatcher_CallbacksAfterCloseAreIgnored(t *testing.T) {
	w := NewWatcher()
	sub := w.Events()
	w.Close()

	assert.NotPanics(t, func() {
		w.BeforeTextChanged("", 0, 0, 1)
		w.OnTextChanged("x", 0, 0, 1)
		w.AfterTextChanged("x")
	})
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestTextChangeEvents_UnregistersOnCancel(t *testing.T) {
	f := &field{}
	ctx, cancel := context.WithCancel(context.Background())

	sub := TextChangeEvents(ctx, f, WithBuffer(8, chanx.Block))
	require.Equal(t, 1, f.watcherCount())

	f.setText("x")
	got := recvN(t, sub, 3)
	assert.Equal(t, AfterTextChanged{Text: "x"}, got[2])

	cancel()
	assert.Eventually(t, func() bool { return f.watcherCount() == 0 }, time.Second, time.Millisecond)
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestOnTextChangedEvents(t *testing.T) {
	f := &field{text: "a"}
	ctx, cancel := context.WithCancel(context.Background())

	sub := OnTextChangedEvents(ctx, f, WithBuffer(8, chanx.Block))
	require.Equal(t, 1, f.watcherCount())

	f.setText("ab")
	f.setText("abc")
	assert.Equal(t, []OnTextChanged{
		{Text: "ab", Before: 1, Count: 2},
		{Text: "abc", Before: 2, Count: 3},
	}, recvN(t, sub, 2))

	cancel()
	assert.Eventually(t, func() bool { return f.watcherCount() == 0 }, time.Second, time.Millisecond)
	_, ok := <-sub.C()
	assert.False(t, ok, "only on-changed events were published")
}

func TestTextChangeFilters(t *testing.T) {
	events := []TextChangeEvent{
		BeforeTextChanged{Text: "", After: 1},
		OnTextChanged{Text: "a", Count: 1},
		AfterTextChanged{Text: "a"},
		BeforeTextChanged{Text: "a", Start: 1, After: 1},
		OnTextChanged{Text: "ab", Start: 1, Count: 1},
		AfterTextChanged{Text: "ab"},
	}
	feed := func() <-chan TextChangeEvent {
		ch := make(chan TextChangeEvent, len(events))
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch
	}
	ctx := context.Background()

	var after []AfterTextChanged
	for ev := range AfterTextChanges(ctx, feed()) {
		after = append(after, ev)
	}
	assert.Equal(t, []AfterTextChanged{{Text: "a"}, {Text: "ab"}}, after)

	var before []BeforeTextChanged
	for ev := range BeforeTextChanges(ctx, feed()) {
		before = append(before, ev)
	}
	assert.Len(t, before, 2)

	var on []OnTextChanged
	for ev := range OnTextChanges(ctx, feed()) {
		on = append(on, ev)
	}
	assert.Equal(t, []OnTextChanged{{Text: "a", Count: 1}, {Text: "ab", Start: 1, Count: 1}}, on)
}

func TestHandleAfterTextChanged(t *testing.T) {
	main := dispatch.NewSerial("main")
	defer main.Close()

	f := &field{}
	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan string, 8)

	done := make(chan error, 1)
	go func() {
		done <- HandleAfterTextChanged(ctx, f, main, func(_ context.Context, ev AfterTextChanged) error {
			handled <- ev.Text
			return nil
		}, WithBuffer(8, chanx.Block))
	}()

	require.Eventually(t, func() bool { return f.watcherCount() == 1 }, time.Second, time.Millisecond)
	f.setText("a")
	f.setText("ab")
	assert.Equal(t, "a", <-handled)
	assert.Equal(t, "ab", <-handled)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, f.watcherCount())
}

func TestHandleAfterTextChanged_InScopeOnMain(t *testing.T) {
	main := dispatch.NewSerial("main")
	defer main.Close()

	scope := lifecycle.NewScope(context.Background(), lifecycle.WithDispatcher(main))
	require.NoError(t, scope.Attach())

	f := &field{}
	type handled struct {
		text   string
		onMain bool
	}
	got := make(chan handled, 1)
	require.NoError(t, scope.Go("watch", func(ctx context.Context) error {
		return HandleAfterTextChanged(ctx, f, main, func(ctx context.Context, ev AfterTextChanged) error {
			got <- handled{
				text:   ev.Text,
				onMain: lifescope.ExecutorFromContext(ctx) == lifescope.Executor(main),
			}
			return nil
		})
	}))

	require.Eventually(t, func() bool { return f.watcherCount() == 1 }, time.Second, time.Millisecond)
	f.setText("hi")

	select {
	case h := <-got:
		assert.Equal(t, handled{text: "hi", onMain: true}, h)
	case <-time.After(time.Second):
		t.Fatal("handler never ran on main")
	}

	require.NoError(t, scope.Detach())
	assert.Equal(t, 0, f.watcherCount())
}

func TestHandleOnTextChanged_StopsOnHandlerError(t *testing.T) {
	main := dispatch.NewSerial("main")
	defer main.Close()

	f := &field{}
	boom := errors.New("rejected")
	done := make(chan error, 1)
	go func() {
		done <- HandleOnTextChanged(context.Background(), f, main, func(context.Context, OnTextChanged) error {
			return boom
		})
	}()

	require.Eventually(t, func() bool { return f.watcherCount() == 1 }, time.Second, time.Millisecond)
	f.setText("x")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("handler error did not stop the loop")
	}
	assert.Equal(t, 0, f.watcherCount())
}

func TestHandleBeforeTextChanged(t *testing.T) {
	pool := dispatch.NewPool(context.Background(), 2)
	defer pool.Close()

	f := &field{text: "abc"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handled := make(chan BeforeTextChanged, 1)

	go func() {
		_ = HandleBeforeTextChanged(ctx, f, pool, func(_ context.Context, ev BeforeTextChanged) error {
			handled <- ev
			return nil
		})
	}()

	require.Eventually(t, func() bool { return f.watcherCount() == 1 }, time.Second, time.Millisecond)
	f.setText("")
	assert.Equal(t, BeforeTextChanged{Text: "abc", Count: 3}, <-handled)
}
