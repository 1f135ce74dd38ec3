package queue

// legalTransitions lists, per state, the states a job may move to. The
// processing -> queued edge is used only by stale reclaim.
var legalTransitions = map[State][]State{
	StateDraft:      {StateConfirmed, StateCancelled},
	StateConfirmed:  {StateQueued, StateCancelled},
	StateQueued:     {StateProcessing},
	StateProcessing: {StateDone, StateFailed, StateQueued},
}

// CanTransition reports whether a job in from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// predecessors returns every state allowed to move into to.
func predecessors(to State) []State {
	var out []State
	for _, from := range allStates {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
