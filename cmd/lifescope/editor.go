package main

import (
	"sync"

	"github.com/chrynan/lifescope/textinput"
)

// lineEditor is a single-line text field edited a whole line at a time.
type lineEditor struct {
	mu       sync.Mutex
	text     string
	watchers []textinput.TextWatcher
	action   textinput.EditorActionListener
}

func (e *lineEditor) AddTextChangedListener(w textinput.TextWatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchers = append(e.watchers, w)
}

func (e *lineEditor) RemoveTextChangedListener(w textinput.TextWatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.watchers {
		if existing == w {
			e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
			return
		}
	}
}

func (e *lineEditor) SetOnEditorActionListener(l textinput.EditorActionListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.action = l
}

func (e *lineEditor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// SetText replaces the text and notifies the watchers.
func (e *lineEditor) SetText(s string) {
	e.mu.Lock()
	old := e.text
	e.text = s
	watchers := append([]textinput.TextWatcher(nil), e.watchers...)
	e.mu.Unlock()

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

// Submit performs the IME "done" action. It returns whether the listener
// consumed it.
func (e *lineEditor) Submit() bool {
	e.mu.Lock()
	l := e.action
	e.mu.Unlock()

	if l == nil {
		return false
	}
	return l.OnEditorAction(textinput.ActionDone, nil)
}
