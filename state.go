package avesync

// The lifecycle state of a [Controller].
//
//	Idle -> Loading -> Ready -> Prerolling -> Playing -> {Paused, Stopped, EndOfStream}
//	Playing/Paused -> Restarting -> Prerolling
type State uint8

const (
	Idle        State = iota // no clip loaded
	Loading                  // load in flight
	Ready                    // clip known, rate 0
	Prerolling               // backend being primed, or primed and waiting for a rate
	Playing                  // rate > 0
	Paused                   // rate 0, item time frozen
	Restarting               // rewinding before a new preroll
	Stopped                  // rate forced to 0, pending completions cancelled
	EndOfStream              // played to the end of the clip
)

// Returns a string representation of the state ("Idle", "Playing", etc.).
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Loading:
		return "Loading"
	case Ready:
		return "Ready"
	case Prerolling:
		return "Prerolling"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Restarting:
		return "Restarting"
	case Stopped:
		return "Stopped"
	case EndOfStream:
		return "EndOfStream"
	default:
		return "Unknown"
	}
}

// loaded reports whether a clip is available in this state.
func (s State) loaded() bool {
	return s != Idle && s != Loading
}
