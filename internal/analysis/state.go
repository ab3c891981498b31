package analysis

// State is a node of the analysis state machine.
type State string

const (
	StateInit    State = "Init"
	StateExplore State = "Explore"
	StateAnalyze State = "Analyze"
	StateRecover State = "Recover"
	StateDecide  State = "Decide"
	StateReport  State = "Report"
	StateDone    State = "Done"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateInit:    {StateExplore},
	StateExplore: {StateAnalyze, StateRecover, StateReport},
	StateAnalyze: {StateDecide, StateRecover, StateReport},
	StateRecover: {StateRecover, StateAnalyze, StateDecide, StateReport},
	StateDecide:  {StateAnalyze, StateReport},
	StateReport:  {StateDone},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
