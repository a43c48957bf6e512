package escrow

import "fmt"

// Status is the escrow lifecycle state. Values are ordered.
type Status uint8

const (
	StatusPending Status = iota
	StatusFunded
	StatusReleased
	StatusRefunded
	StatusDisputed
)

var statusNames = [...]string{
	StatusPending:  "pending",
	StatusFunded:   "funded",
	StatusReleased: "released",
	StatusRefunded: "refunded",
	StatusDisputed: "disputed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("escrow: unknown status %d", uint8(s))
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
	return fmt.Errorf("escrow: unknown status %q", b)
}

// Terminal reports whether s is Released or Refunded.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Op names an escrow state change.
type Op string

const (
	OpDeposit        Op = "deposit"
	OpRelease        Op = "release"
	OpRefund         Op = "refund"
	OpDispute        Op = "dispute"
	OpResolveRelease Op = "resolve_release"
	OpResolveRefund  Op = "resolve_refund"
)

var transitions = map[Status]map[Op]Status{
	StatusPending: {
		OpDeposit: StatusFunded,
	},
	StatusFunded: {
		OpRelease: StatusReleased,
		OpRefund:  StatusRefunded,
		OpDispute: StatusDisputed,
	},
	StatusDisputed: {
		OpResolveRelease: StatusReleased,
		OpResolveRefund:  StatusRefunded,
	},
}

// Next returns the status op leads to from s, or ErrInvalidState.
func (s Status) Next(op Op) (Status, error) {
	if next, ok := transitions[s][op]; ok {
		return next, nil
	}
	return s, ErrInvalidState
}
