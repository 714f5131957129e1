package order

// Status represents the lifecycle state of an order
type Status int8

const (
	New Status = iota
	Accepted
	PartiallyFilled
	Filled
	Canceled
	Expired
	Rejected
)

func (s Status) String() string {
	switch s {
	case New:
		return "new"
	case Accepted:
		return "accepted"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Canceled:
		return "canceled"
	case Expired:
		return "expired"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (s Status) IsTerminal() bool {
	return s == Filled || s == Canceled || s == Expired || s == Rejected
}

var transitions = map[Status][]Status{
	New:             {Accepted, Rejected},
	Accepted:        {PartiallyFilled, Filled, Canceled, Expired},
	PartiallyFilled: {PartiallyFilled, Filled, Canceled, Expired},
}

// CanTransition reports whether from -> to is a legal edge. Terminal states have no exits.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
