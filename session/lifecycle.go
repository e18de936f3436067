package session

import (
	"fmt"
	"strings"
	"sync"

	stackflow "github.com/goliatone/go-stackflow"
)

// State is a session lifecycle state.
type State string

const (
	StateEditing State = "editing"
	StateReady   State = "ready"
	StatePending State = "pending"
	StateClosed  State = "closed"
)

// Event drives lifecycle transitions.
type Event string

const (
	EventValidated Event = "validated"
	EventMutated   Event = "mutated"
	EventDispatch  Event = "dispatch"
	EventSettle    Event = "settle"
	EventClose     Event = "close"
)

// Transition is one row of the lifecycle table.
type Transition struct {
	Event Event
	From  State
	To    State
}

// Transitions is the session lifecycle. The graph stays editable while an
// execution is pending, so a mutation in Pending keeps the state.
var Transitions = []Transition{
	{Event: EventValidated, From: StateEditing, To: StateReady},
	{Event: EventValidated, From: StateReady, To: StateReady},
	{Event: EventValidated, From: StatePending, To: StatePending},
	{Event: EventMutated, From: StateEditing, To: StateEditing},
	{Event: EventMutated, From: StateReady, To: StateEditing},
	{Event: EventMutated, From: StatePending, To: StatePending},
	{Event: EventDispatch, From: StateReady, To: StatePending},
	{Event: EventSettle, From: StatePending, To: StateEditing},
	{Event: EventClose, From: StateEditing, To: StateClosed},
	{Event: EventClose, From: StateReady, To: StateClosed},
	{Event: EventClose, From: StatePending, To: StateClosed},
}

// TransitionHook observes committed transitions.
type TransitionHook func(from, to State, evt Event)

// Lifecycle is the session state machine.
type Lifecycle struct {
	mu      sync.Mutex
	current State
	table   map[string]State
	hooks   []TransitionHook
}

// NewLifecycle starts in StateEditing.
func NewLifecycle(hooks ...TransitionHook) *Lifecycle {
	l := &Lifecycle{
		current: StateEditing,
		table:   make(map[string]State, len(Transitions)),
		hooks:   hooks,
	}
	for _, tr := range Transitions {
		l.table[transitionKey(tr.From, tr.Event)] = tr.To
	}
	return l
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Fire applies events in order as one step. If any event is not allowed
// the state is left as it was.
func (l *Lifecycle) Fire(events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	from := l.current
	state := from
	for _, evt := range events {
		next, ok := l.table[transitionKey(state, evt)]
		if !ok {
			l.mu.Unlock()
			return rejected(state, evt)
		}
		state = next
	}
	l.current = state
	hooks := l.hooks
	l.mu.Unlock()

	if from != state {
		for _, hook := range hooks {
			hook(from, state, events[len(events)-1])
		}
	}
	return nil
}

func rejected(state State, evt Event) error {
	meta := map[string]any{"state": string(state), "event": string(evt)}
	if state == StatePending && evt == EventDispatch {
		return stackflow.NewError(stackflow.ErrExecutionInFlight, "", nil, meta)
	}
	if state == StateClosed {
		return stackflow.NewError(stackflow.ErrSessionNotFound, "session is closed", nil, meta)
	}
	return stackflow.NewError(stackflow.ErrInvalidTransition,
		fmt.Sprintf("cannot %s while %s", evt, state), nil, meta)
}

func transitionKey(state State, evt Event) string {
	return strings.ToLower(string(state)) + "::" + strings.ToLower(string(evt))
}
