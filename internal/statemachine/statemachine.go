// Package statemachine tracks the conversational state of the operator.
package statemachine

import (
	"sync"

	"go.uber.org/zap"

	"treta/internal/events"
	"treta/internal/logging"
)

type State string

const (
	Idle      State = "IDLE"
	Listening State = "LISTENING"
	Thinking  State = "THINKING"
	Speaking  State = "SPEAKING"
	Error     State = "ERROR"
)

// StateKey is the key-value state entry the machine is persisted under.
const StateKey = "state_machine.state"

var transitions = map[State][]State{
	Idle:      {Listening, Thinking, Speaking},
	Listening: {Thinking, Idle},
	Thinking:  {Speaking, Idle},
	Speaking:  {Idle},
	Error:     {Idle},
}

var eventStates = map[string]State{
	events.WakeWordDetected:     Listening,
	events.TranscriptReady:      Thinking,
	events.UserMessageSubmitted: Thinking,
	events.LLMResponseReady:     Speaking,
	events.TTSFinished:          Idle,
	events.ErrorOccurred:        Error,
}

// Machine is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
	log   *zap.Logger
}

func New(initial State, log *zap.Logger) *Machine {
	if !Valid(initial) {
		initial = Idle
	}
	return &Machine{state: initial, log: logging.OrNop(log)}
}

// Valid reports whether s names a state.
func Valid(s State) bool {
	_, ok := transitions[s]
	return ok
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanTransition reports whether the current state may move to next.
func (m *Machine) CanTransition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allowed(m.state, next)
}

// Transition moves to next when allowed. Invalid transitions are logged and ignored.
func (m *Machine) Transition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowed(m.state, next) {
		m.log.Warn("invalid state transition ignored",
			zap.String("from", string(m.state)),
			zap.String("to", string(next)))
		return false
	}
	m.state = next
	return true
}

// ForEvent returns the state an event type moves the machine to, if any.
func ForEvent(eventType string) (State, bool) {
	s, ok := eventStates[eventType]
	return s, ok
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
