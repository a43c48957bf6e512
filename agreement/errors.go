package agreement

import "fmt"

// Error is a numbered agreement failure. Codes are stable and shared with the
// payment processor, which reuses the same numbering space.
type Error uint32

const (
	ErrAgreementAlreadyExists Error = 4
	ErrInvalidAmount          Error = 5
	ErrInvalidDate            Error = 6
	ErrInvalidCommissionRate  Error = 7
	ErrAgreementNotActive     Error = 10
	ErrAgreementNotFound      Error = 13
	ErrNotTenant              Error = 14
	ErrInvalidState           Error = 15
	ErrExpired                Error = 16
	ErrNotLandlord            Error = 19
	ErrNotParty               Error = 20
	ErrInvalidParties         Error = 22
)

var errorKinds = map[Error]string{
	ErrAgreementAlreadyExists: "AgreementAlreadyExists",
	ErrInvalidAmount:          "InvalidAmount",
	ErrInvalidDate:            "InvalidDate",
	ErrInvalidCommissionRate:  "InvalidCommissionRate",
	ErrAgreementNotActive:     "AgreementNotActive",
	ErrAgreementNotFound:      "AgreementNotFound",
	ErrNotTenant:              "NotTenant",
	ErrInvalidState:           "InvalidState",
	ErrExpired:                "Expired",
	ErrNotLandlord:            "NotLandlord",
	ErrNotParty:               "NotParty",
	ErrInvalidParties:         "InvalidParties",
}

// Code returns the numeric error code.
func (e Error) Code() uint32 { return uint32(e) }

// Kind returns the symbolic error name.
func (e Error) Kind() string {
	if k, ok := errorKinds[e]; ok {
		return k
	}
	return fmt.Sprintf("Error(%d)", uint32(e))
}

func (e Error) Error() string {
	return fmt.Sprintf("agreement: %s (code %d)", e.Kind(), uint32(e))
}
