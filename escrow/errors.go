package escrow

import "fmt"

// Error is a numbered escrow failure.
type Error uint32

const (
	ErrEscrowNotFound    Error = 1
	ErrNotAuthorized     Error = 2
	ErrInvalidState      Error = 3
	ErrInvalidAmount     Error = 4
	ErrInvalidSigner     Error = 5
	ErrAlreadyExists     Error = 6
	ErrInsufficientFunds Error = 7
	ErrInvalidReason     Error = 8
)

var errorKinds = map[Error]string{
	ErrEscrowNotFound:    "EscrowNotFound",
	ErrNotAuthorized:     "NotAuthorized",
	ErrInvalidState:      "InvalidState",
	ErrInvalidAmount:     "InvalidAmount",
	ErrInvalidSigner:     "InvalidSigner",
	ErrAlreadyExists:     "AlreadyExists",
	ErrInsufficientFunds: "InsufficientFunds",
	ErrInvalidReason:     "InvalidReason",
}

func (e Error) Code() uint32 { return uint32(e) }

func (e Error) Kind() string {
	if k, ok := errorKinds[e]; ok {
		return k
	}
	return fmt.Sprintf("Error(%d)", uint32(e))
}

func (e Error) Error() string {
	return fmt.Sprintf("escrow: %s (code %d)", e.Kind(), uint32(e))
}
