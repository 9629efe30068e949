// Package lifecycle ties cancellation scopes to the lifecycle of a
// component such as a screen, a session or a connection.
//
// A [Registry] tracks the component's [State] and notifies [Observer]s of
// every [Event]. A [Scope] observes a registry: it is attached on
// [Create] and detached, cancelling everything it started, on [Destroy].
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidTransition is returned by [Registry.HandleEvent] for an event
// that is not allowed in the current state.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// Event is a lifecycle transition.
type Event int

const (
	Create Event = iota
	Start
	Resume
	Pause
	Stop
	Destroy
)

func (e Event) String() string {
	switch e {
	case Create:
		return "create"
	case Start:
		return "start"
	case Resume:
		return "resume"
	case Pause:
		return "pause"
	case Stop:
		return "stop"
	case Destroy:
		return "destroy"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// State is the position of a component in its lifecycle.
type State int

const (
	Initialized State = iota
	Created
	Started
	Resumed
	Destroyed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Created:
		return "created"
	case Started:
		return "started"
	case Resumed:
		return "resumed"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type transition struct {
	from State
	ev   Event
}

var transitions = map[transition]State{
	{Initialized, Create}: Created,
	{Created, Start}:      Started,
	{Started, Resume}:     Resumed,
	{Resumed, Pause}:      Started,
	{Started, Stop}:       Created,
	{Created, Destroy}:    Destroyed,
}

// upEvents lists the events that lead from Initialized to each state.
var upEvents = map[State][]Event{
	Created: {Create},
	Started: {Create, Start},
	Resumed: {Create, Start, Resume},
}

// Observer receives lifecycle events.
type Observer interface {
	OnLifecycleEvent(Event)
}

// Registry holds the lifecycle state of one component and dispatches its
// events to observers, synchronously and in order.
//
// Observers are compared with ==, so they must be of comparable type
// (usually pointers). An observer must not call HandleEvent on the
// registry that is notifying it.
type Registry struct {
	name string
	log  zerolog.Logger

	dispatch sync.Mutex // held while observers are notified

	mu        sync.Mutex
	state     State
	observers []Observer
}

// NewRegistry returns a registry in the Initialized state.
func NewRegistry(name string) *Registry {
	return &Registry{
		name: name,
		log: log.With().
			Str("component", "lifecycle").
			Str("owner", name).
			Logger(),
	}
}

// State returns the current state.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AddObserver registers o and immediately replays the events that brought
// the component to its current state, so a late observer ends up in the
// same state as an early one. Adding an observer twice has no effect.
func (r *Registry) AddObserver(o Observer) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	r.mu.Lock()
	for _, existing := range r.observers {
		if existing == o {
			r.mu.Unlock()
			return
		}
	}
	r.observers = append(r.observers, o)
	state := r.state
	r.mu.Unlock()

	for _, ev := range upEvents[state] {
		o.OnLifecycleEvent(ev)
	}
}

// RemoveObserver unregisters o. It receives no further events.
func (r *Registry) RemoveObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.observers {
		if existing == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

// HandleEvent moves the component to the state ev leads to and notifies
// every observer. It returns an error wrapping [ErrInvalidTransition] when
// ev is not allowed in the current state.
func (r *Registry) HandleEvent(ev Event) error {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	r.mu.Lock()
	from := r.state
	to, ok := transitions[transition{from, ev}]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, from)
	}
	r.state = to
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	r.log.Debug().
		Stringer("event", ev).
		Stringer("from", from).
		Stringer("to", to).
		Int("observers", len(observers)).
		Msg("lifecycle event")

	for _, o := range observers {
		o.OnLifecycleEvent(ev)
	}
	return nil
}
