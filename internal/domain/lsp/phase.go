package lsp

// Phase is the lifecycle phase of a session.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseStarting      Phase = "starting"
	PhaseActive        Phase = "active"
	PhaseShuttingDown  Phase = "shutting_down"
	PhaseStopped       Phase = "stopped"
)

// transitions lists the legal successor phases. Stopped is terminal.
var transitions = map[Phase][]Phase{
	PhaseUninitialized: {PhaseStarting, PhaseStopped},
	PhaseStarting:      {PhaseActive, PhaseStopped},
	PhaseActive:        {PhaseShuttingDown, PhaseStopped},
	PhaseShuttingDown:  {PhaseStopped},
}

// CanTransitionTo reports whether moving from p to next is a legal transition.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, n := range transitions[p] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseStopped
}

// Outcome records how a stopped session ended.
type Outcome string

const (
	OutcomeNone   Outcome = ""
	OutcomeClean  Outcome = "clean"
	OutcomeFailed Outcome = "failed"
)
