package waiter

// State is a step of the waiter loop.
type State int

const (
	Registering State = iota
	Idle
	Woken
	Deciding
	Exiting
	Exited
)

var stateNames = [...]string{
	Registering: "registering",
	Idle:        "idle",
	Woken:       "woken",
	Deciding:    "deciding",
	Exiting:     "exiting",
	Exited:      "exited",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
