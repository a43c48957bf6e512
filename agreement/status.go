package agreement

import "fmt"

// Status is the lifecycle state of an agreement. Values are ordered; Draft is
// reserved and never produced by this package.
type Status uint8

const (
	StatusDraft Status = iota
	StatusPending
	StatusActive
	StatusCompleted
	StatusCancelled
	StatusTerminated
	StatusDisputed
)

var statusNames = [...]string{
	StatusDraft:      "draft",
	StatusPending:    "pending",
	StatusActive:     "active",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
	StatusTerminated: "terminated",
	StatusDisputed:   "disputed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("agreement: unknown status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("agreement: unknown status %q", b)
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Op names a lifecycle operation.
type Op string

const (
	OpSign      Op = "sign"
	OpComplete  Op = "complete"
	OpCancel    Op = "cancel"
	OpTerminate Op = "terminate"
	OpDispute   Op = "dispute"
)

var transitions = map[Status]map[Op]Status{
	StatusPending: {
		OpSign: StatusActive,
	},
	StatusActive: {
		OpComplete:  StatusCompleted,
		OpCancel:    StatusCancelled,
		OpTerminate: StatusTerminated,
		OpDispute:   StatusDisputed,
	},
}

// Next returns the status op leads to from s, or ErrInvalidState.
func (s Status) Next(op Op) (Status, error) {
	if next, ok := transitions[s][op]; ok {
		return next, nil
	}
	return s, ErrInvalidState
}
