package scheduler

import "sync"

// pairMachine serializes evaluations for one pair. TryBegin is the only
// entry into Evaluating and is non-blocking: a trigger that finds the pair
// busy or suspended is dropped, never queued.
type pairMachine struct {
	mu    sync.Mutex
	state PairState
}

func newPairMachine() *pairMachine {
	return &pairMachine{state: StateIdle}
}

func (m *pairMachine) State() PairState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *pairMachine) TryBegin() (PairState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return m.state, false
	}
	m.state = StateEvaluating
	return m.state, true
}

func (m *pairMachine) Apply(event PairEvent) PairState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nextState(m.state, event)
	return m.state
}

func nextState(current PairState, event PairEvent) PairState {
	switch current {
	case StateIdle:
		if event == EventBegin {
			return StateEvaluating
		}
		if event == EventSuspend {
			return StateSuspended
		}
	case StateEvaluating:
		if event == EventFinish {
			return StateIdle
		}
		if event == EventSuspend {
			return StateSuspended
		}
	case StateSuspended:
		if event == EventResume {
			return StateIdle
		}
	}
	return current
}
