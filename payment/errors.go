package payment

import "fmt"

// Error is a numbered payment failure. Codes continue the agreement numbering.
type Error uint32

const (
	ErrInvalidAmount        Error = 5
	ErrPaymentNotFound      Error = 11
	ErrPaymentFailed        Error = 12
	ErrInvalidPaymentAmount Error = 17
	ErrPaymentNotDue        Error = 18
	ErrNotAdmin             Error = 19
	ErrRefundExceedsPayment Error = 21
)

var errorKinds = map[Error]string{
	ErrInvalidAmount:        "InvalidAmount",
	ErrPaymentNotFound:      "PaymentNotFound",
	ErrPaymentFailed:        "PaymentFailed",
	ErrInvalidPaymentAmount: "InvalidPaymentAmount",
	ErrPaymentNotDue:        "PaymentNotDue",
	ErrNotAdmin:             "NotAdmin",
	ErrRefundExceedsPayment: "RefundExceedsPayment",
}

func (e Error) Code() uint32 { return uint32(e) }

func (e Error) Kind() string {
	if k, ok := errorKinds[e]; ok {
		return k
	}
	return fmt.Sprintf("Error(%d)", uint32(e))
}

func (e Error) Error() string {
	return fmt.Sprintf("payment: %s (code %d)", e.Kind(), uint32(e))
}
