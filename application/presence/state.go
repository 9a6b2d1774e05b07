package presence

// State is where a connection is in its session lifecycle.
type State uint8

const (
	// Connected is an authenticated connection outside any session.
	Connected State = iota
	// Joining is waiting for a permission decision.
	Joining
	// Joined is a member of exactly one document's session.
	Joined
	// Disconnected is terminal.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event drives a state change.
type Event uint8

const (
	EventJoin Event = iota
	EventAdmit
	EventDeny
	EventLeave
	EventDisconnect
)

// transition returns the state reached by applying e to s. Illegal
// transitions, such as a leave before any join, report false and leave the
// state unchanged.
func transition(s State, e Event) (State, bool) {
	if s == Disconnected {
		return s, false
	}

	switch e {
	case EventDisconnect:
		return Disconnected, true
	case EventJoin:
		// A new request from Joining supersedes the pending attempt.
		if s == Connected || s == Joining {
			return Joining, true
		}
	case EventAdmit:
		if s == Joining {
			return Joined, true
		}
	case EventDeny:
		if s == Joining {
			return Connected, true
		}
	case EventLeave:
		if s == Joined || s == Joining {
			return Connected, true
		}
	}
	return s, false
}
