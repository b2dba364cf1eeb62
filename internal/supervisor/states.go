package supervisor

import "fmt"

type State string

const (
	StateInit         State = "INIT"
	StateBudgetCheck  State = "BUDGET_CHECK"
	StateSegment      State = "SEGMENT"
	StateExtract      State = "EXTRACT"
	StateMinePatterns State = "MINE_PATTERNS"
	StateGateCheck    State = "GATE_CHECK"
	StatePromote      State = "PROMOTE"
	StateFinalize     State = "FINALIZE"
	StateError        State = "ERROR"
	StateDone         State = "DONE"
)

// transitions is the complete edge set of the job state machine. Every
// reachable state except DONE has defined outgoing edges; an attempt to
// follow an edge not listed here is a programming error caught at run
// construction, not a runtime surprise.
var transitions = map[State][]State{
	StateInit:         {StateBudgetCheck},
	StateBudgetCheck:  {StateSegment, StateError},
	StateSegment:      {StateExtract, StateError},
	StateExtract:      {StateMinePatterns, StateError},
	StateMinePatterns: {StateGateCheck, StateError},
	StateGateCheck:    {StatePromote, StateExtract, StateError},
	StatePromote:      {StateFinalize, StateError},
	StateFinalize:     {StateDone, StateError},
	StateError:        {StateDone},
	StateDone:         {},
}

// validateTransitions checks the table is closed: every edge target is a
// defined state and every non-terminal state can reach another state.
func validateTransitions() error {
	for state, targets := range transitions {
		if state != StateDone && len(targets) == 0 {
			return fmt.Errorf("state %s has no outgoing edges", state)
		}
		for _, target := range targets {
			if _, defined := transitions[target]; !defined {
				return fmt.Errorf("state %s has edge to undefined state %s", state, target)
			}
		}
	}
	return nil
}

func canTransition(from, to State) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
