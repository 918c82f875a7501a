package zacp

import (
	"github.com/pkg/errors"
)

// State is the state of the session.
type State string

// Session states.
const (
	StateUninitialized     State = "uninitialized"
	StateSelfInitDone      State = "self_init_done"
	StateAwaitingHandshake State = "awaiting_peer_handshake"
	StateHandshakeComplete State = "handshake_complete"
)

var sessionTransitions = map[State]map[State]struct{}{
	StateUninitialized: {
		StateSelfInitDone: struct{}{},
	},
	StateSelfInitDone: {
		StateAwaitingHandshake: struct{}{},
		StateUninitialized:     struct{}{},
	},
	StateAwaitingHandshake: {
		StateHandshakeComplete: struct{}{},
		StateUninitialized:     struct{}{},
	},
	StateHandshakeComplete: {
		StateAwaitingHandshake: struct{}{},
		StateUninitialized:     struct{}{},
	},
}

type stateMachine struct {
	currentState State
	transitions  map[State]map[State]struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		currentState: StateUninitialized,
		transitions:  sessionTransitions,
	}
}

func (sm *stateMachine) Transition(nextState State) error {
	if allowedStates, ok := sm.transitions[sm.currentState]; ok {
		if _, ok = allowedStates[nextState]; ok {
			sm.currentState = nextState
			return nil
		}
	}

	return errors.Errorf("invalid state transition from %q to %q", sm.currentState, nextState)
}

func (sm *stateMachine) State() State {
	return sm.currentState
}
