package textinput

import (
	"context"

	"github.com/chrynan/lifescope/chanx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// IME action identifiers reported with an editor action.
const (
	ActionUnspecified = 0
	ActionNone        = 1
	ActionGo          = 2
	ActionSearch      = 3
	ActionSend        = 4
	ActionNext        = 5
	ActionDone        = 6
	ActionPrevious    = 7
)

// KeyCodeEnter is the key code of the enter key.
const KeyCodeEnter = 66

// KeyEvent is the hardware key that triggered an editor action.
type KeyEvent struct {
	KeyCode int
}

// EditorActionEvent is an action performed on a text field, either an IME
// action or a key press. Key is nil when no key was involved.
type EditorActionEvent struct {
	ActionID int
	Key      *KeyEvent
}

// IsEnter reports whether the action submits the field: the IME "done"
// action or the enter key.
func (e EditorActionEvent) IsEnter() bool {
	return e.ActionID == ActionDone || (e.Key != nil && e.Key.KeyCode == KeyCodeEnter)
}

// EditorActionListener receives editor actions. It returns true when it
// consumed the action.
type EditorActionListener interface {
	OnEditorAction(actionID int, key *KeyEvent) bool
}

// EditorActionSource is a text field with a single editor action listener.
// Setting nil removes the listener.
type EditorActionSource interface {
	SetOnEditorActionListener(l EditorActionListener)
}

// ActionListener is an [EditorActionListener] that publishes every action.
type ActionListener struct {
	b   *chanx.Broadcaster[EditorActionEvent]
	log zerolog.Logger
}

// NewActionListener returns an ActionListener. It panics on an invalid
// [WithBuffer].
func NewActionListener(opts ...Option) *ActionListener {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ActionListener{
		b:   newBroadcaster[EditorActionEvent](cfg, "action"),
		log: log.With().Str("component", "textinput").Str("name", cfg.name).Logger(),
	}
}

// OnEditorAction implements [EditorActionListener]. It never consumes the
// action, so the toolkit's default handling still runs.
func (l *ActionListener) OnEditorAction(actionID int, key *KeyEvent) bool {
	if err := l.b.Offer(EditorActionEvent{ActionID: actionID, Key: key}); err != nil {
		l.log.Trace().Int("action", actionID).Msg("action after close ignored")
	}
	return false
}

// Events subscribes to the published actions.
func (l *ActionListener) Events() *chanx.Subscription[EditorActionEvent] {
	return l.b.Subscribe()
}

// Close closes the stream.
func (l *ActionListener) Close() {
	l.b.Close()
}

// EditorActionEvents installs an [ActionListener] on src and returns a
// subscription to its actions. When ctx ends the listener is removed and
// the subscription is closed.
func EditorActionEvents(ctx context.Context, src EditorActionSource, opts ...Option) *chanx.Subscription[EditorActionEvent] {
	l := NewActionListener(opts...)
	sub := l.Events()
	src.SetOnEditorActionListener(l)

	go func() {
		<-ctx.Done()
		src.SetOnEditorActionListener(nil)
		l.Close()
	}()
	return sub
}

// EnterActions keeps the actions of in for which [EditorActionEvent.IsEnter]
// is true.
func EnterActions(ctx context.Context, in <-chan EditorActionEvent) <-chan EditorActionEvent {
	return chanx.Filter(ctx, in, EditorActionEvent.IsEnter)
}
