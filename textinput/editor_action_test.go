package textinput

import (
	"context"
	"testing"
	"time"

	"github.com/chrynan/lifescope/chanx"
	"github.com/chrynan/lifescope/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditorActionEvent_IsEnter(t *testing.T) {
	tests := []struct {
		name string
		ev   EditorActionEvent
		want bool
	}{
		{name: "ime done", ev: EditorActionEvent{ActionID: ActionDone}, want: true},
		{name: "enter key", ev: EditorActionEvent{ActionID: ActionUnspecified, Key: &KeyEvent{KeyCode: KeyCodeEnter}}, want: true},
		{name: "ime next", ev: EditorActionEvent{ActionID: ActionNext}},
		{name: "other key", ev: EditorActionEvent{ActionID: ActionUnspecified, Key: &KeyEvent{KeyCode: 29}}},
		{name: "no key", ev: EditorActionEvent{ActionID: ActionSearch}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.IsEnter())
		})
	}
	assert.Equal(t, 6, ActionDone)
	assert.Equal(t, 66, KeyCodeEnter)
}

func TestActionListener_DoesNotConsume(t *testing.T) {
	l := NewActionListener(WithBuffer(4, chanx.DropOldest))
	defer l.Close()
	sub := l.Events()

	assert.False(t, l.OnEditorAction(ActionSend, nil))
	assert.Equal(t, []EditorActionEvent{{ActionID: ActionSend}}, recvN(t, sub, 1))
}

func TestEditorActionEvents_UninstallsOnCancel(t *testing.T) {
	f := &field{}
	ctx, cancel := context.WithCancel(context.Background())

	sub := EditorActionEvents(ctx, f, WithBuffer(4, chanx.Block))
	require.True(t, f.hasActionListener())

	key := &KeyEvent{KeyCode: KeyCodeEnter}
	assert.False(t, f.editorAction(ActionUnspecified, key))
	assert.Equal(t, []EditorActionEvent{{ActionID: ActionUnspecified, Key: key}}, recvN(t, sub, 1))

	cancel()
	assert.Eventually(t, func() bool { return !f.hasActionListener() }, time.Second, time.Millisecond)
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestEditorActionEvents_KeepsEveryAction(t *testing.T) {
	f := &field{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := EditorActionEvents(ctx, f, WithBuffer(4, chanx.Block))
	f.editorAction(ActionNext, nil)
	f.editorAction(ActionSearch, nil)
	f.editorAction(ActionDone, nil)

	assert.Equal(t, []EditorActionEvent{
		{ActionID: ActionNext},
		{ActionID: ActionSearch},
		{ActionID: ActionDone},
	}, recvN(t, sub, 3), "unlike HandleEnterAction, the stream is unfiltered")
}

func TestEnterActions(t *testing.T) {
	in := make(chan EditorActionEvent, 4)
	in <- EditorActionEvent{ActionID: ActionNext}
	in <- EditorActionEvent{ActionID: ActionDone}
	in <- EditorActionEvent{Key: &KeyEvent{KeyCode: 1}}
	in <- EditorActionEvent{Key: &KeyEvent{KeyCode: KeyCodeEnter}}
	close(in)

	var got []EditorActionEvent
	for ev := range EnterActions(context.Background(), in) {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, ActionDone, got[0].ActionID)
	assert.Equal(t, KeyCodeEnter, got[1].Key.KeyCode)
}

func TestHandleEnterAction(t *testing.T) {
	main := dispatch.NewSerial("main")
	defer main.Close()

	f := &field{}
	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan EditorActionEvent, 4)

	done := make(chan error, 1)
	go func() {
		done <- HandleEnterAction(ctx, f, main, func(_ context.Context, ev EditorActionEvent) error {
			handled <- ev
			return nil
		}, WithBuffer(4, chanx.Block))
	}()

	require.Eventually(t, f.hasActionListener, time.Second, time.Millisecond)
	f.editorAction(ActionNext, nil)
	f.editorAction(ActionDone, nil)

	assert.Equal(t, ActionDone, (<-handled).ActionID)
	select {
	case ev := <-handled:
		t.Fatalf("unexpected action %v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
	assert.False(t, f.hasActionListener())
}
